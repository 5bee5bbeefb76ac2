package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/dashboard"
	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/internal/http/handlers"
	httpmiddleware "github.com/carewire/nursecall-platform/internal/http/middleware"
	"github.com/carewire/nursecall-platform/internal/livefeed"
	"github.com/carewire/nursecall-platform/internal/patients"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/internal/webhooks"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	// Public surface. The telephony provider and the voice-agent platform
	// call these; they authenticate by signature, not by nurse JWT.
	VoiceHandler   *handlers.VoiceHandler
	MediaStream    *handlers.MediaStreamHandler
	WebhookHandler *webhooks.Handler
	Livefeed       *livefeed.Handler
	MetricsHandler http.Handler

	// Nurse API surface, behind NurseJWT.
	ReferralsHandler *referrals.Handler
	FlagsHandler     *flags.Handler
	CallsHandler     *calls.Handler
	PatientsHandler  *patients.Handler
	Dashboard        *dashboard.Handler

	NurseJWTSecret     string
	CORSAllowedOrigins []string

	// RateLimitPerSecond > 0 enables per-IP rate limiting on the nurse API.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, provider callbacks, websockets.
	r.Group(func(public chi.Router) {
		public.Get("/health", handleHealth)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.VoiceHandler != nil {
			public.Post("/voice/answer", cfg.VoiceHandler.HandleAnswer)
		}
		if cfg.MediaStream != nil {
			public.Get("/media-stream", cfg.MediaStream.HandleMediaStream)
		}
		if cfg.WebhookHandler != nil {
			public.Post("/webhooks/agent/post-call", cfg.WebhookHandler.HandlePostCall)
			public.Get("/webhooks/agent/verify", cfg.WebhookHandler.HandleVerify)
		}
		if cfg.Livefeed != nil {
			public.Get("/ws/livefeed", cfg.Livefeed.HandleWebSocket)
		}
	})

	// Nurse API.
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.NurseJWT(cfg.NurseJWTSecret))
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}

		if cfg.ReferralsHandler != nil {
			api.Route("/referrals", func(r chi.Router) {
				h := cfg.ReferralsHandler
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/overdue/list", h.Overdue)
				r.Get("/{referralID}", h.Get)
				r.Patch("/{referralID}", h.Update)
				r.Delete("/{referralID}", h.Cancel)
				r.Post("/{referralID}/schedule", h.Schedule)
				r.Post("/{referralID}/reschedule", h.Reschedule)
				r.Post("/{referralID}/mark-missed", h.MarkMissed)
				r.Post("/{referralID}/mark-attended", h.MarkAttended)
			})
		}

		if cfg.FlagsHandler != nil {
			api.Route("/flags", func(r chi.Router) {
				h := cfg.FlagsHandler
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/open", h.ListOpen)
				r.Get("/{flagID}", h.Get)
				r.Patch("/{flagID}", h.Update)
				r.Post("/{flagID}/resolve", h.Resolve)
				r.Post("/{flagID}/dismiss", h.Dismiss)
			})
		}

		if cfg.CallsHandler != nil {
			api.Route("/calls", func(r chi.Router) {
				h := cfg.CallsHandler
				r.Get("/", h.List)
				r.Post("/", h.Place)
				r.Get("/live/{callSID}", h.LiveState)
				r.Get("/live/{callSID}/transcript", h.LiveTranscript)
				r.Get("/{callID}", h.Get)
			})
		}

		if cfg.PatientsHandler != nil {
			api.Route("/patients", func(r chi.Router) {
				h := cfg.PatientsHandler
				r.Get("/", h.List)
				r.Put("/", h.Upsert)
				r.Get("/{patientID}", h.Get)
				r.Delete("/{patientID}", h.Delete)
			})
		}

		if cfg.Dashboard != nil {
			api.Get("/dashboard/overview", cfg.Dashboard.GetOverview)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
