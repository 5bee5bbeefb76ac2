package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// AgentDialer opens the voice-agent leg for one call. Production wires
// bridge.DialAgent; tests substitute an in-memory pair.
type AgentDialer interface {
	DialAgent(ctx context.Context) (bridge.AgentConn, error)
}

// AgentDialerFunc adapts a function to the AgentDialer interface.
type AgentDialerFunc func(ctx context.Context) (bridge.AgentConn, error)

func (f AgentDialerFunc) DialAgent(ctx context.Context) (bridge.AgentConn, error) {
	return f(ctx)
}

// The carrier handshakes from Twilio's infrastructure, so there is no
// browser origin to check.
var carrierUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MediaStreamParams wires the media-stream endpoint.
type MediaStreamParams struct {
	Dialer     AgentDialer
	Contexts   *bridge.ContextStore
	Extractor  bridge.Extractor
	Sink       bridge.OutcomeSink
	Terminator bridge.CallTerminator
	Events     bridge.EventPublisher
	Metrics    *metrics.CallMetrics
	Logger     *logging.Logger
	Bridge     bridge.Config
}

// MediaStreamHandler upgrades the carrier's websocket and runs one bridge
// session per connection. The HTTP handler blocks for the lifetime of the
// call; chi runs each connection on its own goroutine.
type MediaStreamHandler struct {
	dialer     AgentDialer
	contexts   *bridge.ContextStore
	extractor  bridge.Extractor
	sink       bridge.OutcomeSink
	terminator bridge.CallTerminator
	events     bridge.EventPublisher
	metrics    *metrics.CallMetrics
	logger     *logging.Logger
	cfg        bridge.Config
}

// NewMediaStreamHandler builds the handler. Dialer, contexts, extractor and
// sink are required.
func NewMediaStreamHandler(p MediaStreamParams) *MediaStreamHandler {
	if p.Dialer == nil {
		panic("handlers: agent dialer cannot be nil")
	}
	if p.Contexts == nil {
		panic("handlers: context store cannot be nil")
	}
	if p.Extractor == nil {
		panic("handlers: extractor cannot be nil")
	}
	if p.Sink == nil {
		panic("handlers: outcome sink cannot be nil")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &MediaStreamHandler{
		dialer:     p.Dialer,
		contexts:   p.Contexts,
		extractor:  p.Extractor,
		sink:       p.Sink,
		terminator: p.Terminator,
		events:     p.Events,
		metrics:    p.Metrics,
		logger:     p.Logger,
		cfg:        p.Bridge,
	}
}

// HandleMediaStream serves GET /media-stream. The carrier connects here once
// the answer TwiML is served; frames flow until the bridge tears the session
// down.
func (h *MediaStreamHandler) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := carrierUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Error("carrier websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	carrier := bridge.NewCarrierConn(conn)

	agent, err := h.dialer.DialAgent(r.Context())
	if err != nil {
		h.logger.Error("agent dial failed, dropping carrier connection", "error", err)
		_ = carrier.Close()
		return
	}

	engine := bridge.NewEngine(bridge.EngineParams{
		Carrier:    carrier,
		Agent:      agent,
		Contexts:   h.contexts,
		Extractor:  h.extractor,
		Sink:       h.sink,
		Terminator: h.terminator,
		Events:     h.events,
		Metrics:    h.metrics,
		Logger:     h.logger,
		Config:     h.cfg,
	})
	engine.Run(r.Context())
}
