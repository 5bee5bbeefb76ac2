package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureVerifier authenticates a webhook delivery before its payload is
// trusted. Implementations must treat verification failure as fatal for the
// request; the processor never sees an unverified payload.
type SignatureVerifier interface {
	Verify(timestamp, signature string, payload []byte) error
}

// HMACVerifier validates HMAC-SHA256 signatures computed over
// "timestamp.payload", hex-encoded, with a bounded clock skew.
type HMACVerifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

// NewHMACVerifier builds a verifier for the given shared secret. A zero
// maxSkew defaults to five minutes.
func NewHMACVerifier(secret string, maxSkew time.Duration) *HMACVerifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &HMACVerifier{
		secret:  secret,
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Verify checks the signature and timestamp skew.
func (v *HMACVerifier) Verify(timestamp, signature string, payload []byte) error {
	if v.secret == "" {
		return errors.New("webhooks: signing secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("webhooks: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := v.now().Sub(sentAt); diff > v.maxSkew || diff < -v.maxSkew {
		return fmt.Errorf("webhooks: signature timestamp skew %s exceeds limit", diff)
	}
	unsigned := ts + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(unsigned))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("webhooks: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("webhooks: signature mismatch")
	}
	return nil
}

// AlwaysPassVerifier skips verification. Development only; never wire it in
// production.
type AlwaysPassVerifier struct{}

func (AlwaysPassVerifier) Verify(string, string, []byte) error { return nil }
