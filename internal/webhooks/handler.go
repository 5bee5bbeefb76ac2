package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// EventTracker deduplicates deliveries of the same provider event.
type EventTracker interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Handler receives the voice-agent post-call webhook: verify, dedupe,
// process. The provider retries on non-2xx, so only verification and decode
// problems are surfaced as errors; processing failures are logged and acked.
type Handler struct {
	verifier  SignatureVerifier
	tracker   EventTracker
	processor *Processor
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
}

// HandlerConfig wires the webhook handler. Tracker may be nil when no
// database is configured; dedupe is then skipped.
type HandlerConfig struct {
	Verifier  SignatureVerifier
	Tracker   EventTracker
	Processor *Processor
	Metrics   *metrics.CallMetrics
	Logger    *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Verifier == nil {
		panic("webhooks: signature verifier cannot be nil")
	}
	if cfg.Processor == nil {
		panic("webhooks: processor cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		verifier:  cfg.Verifier,
		tracker:   cfg.Tracker,
		processor: cfg.Processor,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// HandlePostCall handles POST /webhooks/agent/post-call.
func (h *Handler) HandlePostCall(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get("X-Webhook-Timestamp")
	signature := r.Header.Get("X-Webhook-Signature")
	if err := h.verifier.Verify(timestamp, signature, body); err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		h.metrics.ObserveWebhook("post_call", "rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt PostCallEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.logger.Warn("webhook payload undecodable", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if h.tracker != nil && evt.EventID != "" {
		fresh, err := h.tracker.MarkProcessed(r.Context(), Provider, evt.EventID)
		if err != nil {
			h.logger.Error("processed-event check failed, continuing", "event_id", evt.EventID, "error", err)
		} else if !fresh {
			h.logger.Info("duplicate webhook delivery ignored", "event_id", evt.EventID)
			h.metrics.ObserveWebhook("post_call", "duplicate")
			h.writeOK(w, "duplicate, already processed")
			return
		}
	}

	if err := h.processor.Process(r.Context(), &evt); err != nil {
		// Acked anyway: a provider retry would replay the same side
		// effects against state that may be half-applied.
		h.logger.Error("post-call processing failed", "call_sid", evt.CallSID, "error", err)
	}
	h.metrics.ObserveWebhookLatency("post_call", time.Since(started).Seconds())
	h.writeOK(w, "processed")
}

// HandleVerify answers the provider's GET ping used to validate the webhook
// URL at registration time.
func (h *Handler) HandleVerify(w http.ResponseWriter, _ *http.Request) {
	h.writeOK(w, "ok")
}

func (h *Handler) writeOK(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": msg})
}
