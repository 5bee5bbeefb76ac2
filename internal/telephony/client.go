package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	callAPITimeout = 15 * time.Second
)

var tracer = otel.Tracer("nursecall.internal.telephony")

// Client places and terminates calls via the Twilio Programmable Voice API.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientConfig configures the call-control client.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the clinic's outbound caller id (E.164).
	FromNumber string
	// BaseURL overrides the provider API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewClient creates a call-control client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("telephony: account SID required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("telephony: auth token required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("telephony: from number required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: callAPITimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

var _ bridge.CallTerminator = (*Client)(nil)

// CallRequest contains the parameters for one outbound call.
type CallRequest struct {
	// To is the patient's phone number (E.164).
	To string
	// AnswerURL is fetched by the provider once the line answers; it must
	// return the TwiML that connects the call to the media stream.
	AnswerURL string
}

// CreateCall places an outbound call and returns the provider call SID.
// Placement is a single attempt: retrying after a lost response could dial
// the patient twice.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (string, error) {
	if req.To == "" {
		return "", errors.New("telephony: to required")
	}
	if req.AnswerURL == "" {
		return "", errors.New("telephony: answer url required")
	}

	ctx, span := tracer.Start(ctx, "telephony.create_call")
	defer span.End()
	span.SetAttributes(attribute.String("nursecall.to", maskPhone(req.To)))

	payload := url.Values{}
	payload.Set("To", req.To)
	payload.Set("From", c.from)
	payload.Set("Url", req.AnswerURL)
	payload.Set("Method", http.MethodPost)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	body, status, err := c.postForm(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if status < 200 || status >= 300 {
		apiErr := fmt.Errorf("telephony: create call failed: %s", formatAPIError(status, body))
		span.RecordError(apiErr)
		return "", apiErr
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("telephony: decode create call response: %w", err)
	}
	if parsed.SID == "" {
		return "", errors.New("telephony: create call response missing sid")
	}

	c.logger.Info("outbound call placed",
		"call_sid", parsed.SID,
		"to", maskPhone(req.To),
		"provider_status", parsed.Status,
	)
	return parsed.SID, nil
}

// CompleteCall marks the call finished at the provider, which hangs it up.
// Not retried; by the time this runs the media stream is already gone.
func (c *Client) CompleteCall(ctx context.Context, callSID string) error {
	if callSID == "" {
		return errors.New("telephony: call sid required")
	}

	ctx, span := tracer.Start(ctx, "telephony.complete_call")
	defer span.End()
	span.SetAttributes(attribute.String("nursecall.call_sid", callSID))

	payload := url.Values{}
	payload.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
	body, status, err := c.postForm(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if status < 200 || status >= 300 {
		apiErr := fmt.Errorf("telephony: complete call failed: %s", formatAPIError(status, body))
		span.RecordError(apiErr)
		return apiErr
	}

	c.logger.Info("call hangup requested", "call_sid", callSID)
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, payload url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("telephony: create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("telephony: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("telephony: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatAPIError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed apiError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

// maskPhone returns the last 4 digits of a phone number for logging.
func maskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
