package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// State is the lifecycle position of one bridge session.
type State int32

const (
	StateAwaitingStart State = iota
	StateStreaming
	StateSuppressing
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateStreaming:
		return "streaming"
	case StateSuppressing:
		return "suppressing"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TerminationPolicy selects how the bridge times the hangup sequence after an
// outcome is extracted.
type TerminationPolicy string

const (
	// TerminationFixedDelay hangs up once the trailing-speech timer fires.
	TerminationFixedDelay TerminationPolicy = "fixed-delay"
	// TerminationQuietPoll additionally requires agent audio to have stayed
	// quiet for the grace period after the timer, so a long-winded spoken
	// confirmation is not cut off mid-sentence.
	TerminationQuietPoll TerminationPolicy = "quiet-poll"
)

// ParseTerminationPolicy maps a config string to a policy, defaulting to
// fixed-delay.
func ParseTerminationPolicy(s string) TerminationPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(TerminationQuietPoll)) {
		return TerminationQuietPoll
	}
	return TerminationFixedDelay
}

// OutcomeSink applies the domain side effects for one extracted outcome.
// Implementations must be safe for a reschedule and a follow-up never both
// firing for the same call; the engine guarantees at most one of the two.
type OutcomeSink interface {
	RecordReschedule(ctx context.Context, callSID, patientName, scheduledDate string) error
	RecordFollowUp(ctx context.Context, callSID, patientName string) error
}

// CallTerminator marks the underlying phone call completed at the telephony
// provider.
type CallTerminator interface {
	CompleteCall(ctx context.Context, callSID string) error
}

// Bridge lifecycle event types.
const (
	EventCallStarted      = "call_started"
	EventOutcomeExtracted = "outcome_extracted"
	EventCallEnded        = "call_ended"
)

// Event is a bridge lifecycle notification, consumed by the live dashboard
// feed.
type Event struct {
	Type      string    `json:"type"`
	CallSID   string    `json:"call_sid"`
	StreamSID string    `json:"stream_sid,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	At        time.Time `json:"at"`
}

// EventPublisher receives bridge lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}

// Config tunes one bridge session.
type Config struct {
	// TrailingSpeechDelay covers the agent's spoken confirmation after the
	// outcome is detected, so it is not cut off mid-sentence.
	TrailingSpeechDelay time.Duration
	// PostQuietGraceDelay is how long agent audio must stay quiet under the
	// quiet-poll policy once the trailing-speech delay has elapsed.
	PostQuietGraceDelay time.Duration
	Policy              TerminationPolicy
	// InboundTrack is the carrier track carrying the caller's voice; media
	// frames on other tracks are dropped.
	InboundTrack string
	// MaxCallDuration bounds a session's wall-clock time. Zero disables the
	// guard.
	MaxCallDuration time.Duration
}

// EngineParams wires one bridge session.
type EngineParams struct {
	Carrier    CarrierConn
	Agent      AgentConn
	Contexts   *ContextStore
	Extractor  Extractor
	Sink       OutcomeSink
	Terminator CallTerminator
	Events     EventPublisher
	Metrics    *metrics.CallMetrics
	Logger     *logging.Logger
	Config     Config
}

// Engine orchestrates exactly one call: it wires the carrier and agent legs
// together, translates between their wire formats, extracts structured
// outcomes from agent speech, and drives the ordered termination sequence.
type Engine struct {
	carrier    CarrierConn
	agent      AgentConn
	contexts   *ContextStore
	extractor  Extractor
	sink       OutcomeSink
	terminator CallTerminator
	events     EventPublisher
	metrics    *metrics.CallMetrics
	logger     *logging.Logger
	cfg        Config

	state atomic.Int32

	mu        sync.RWMutex
	streamSID string
	callSID   string
	startedAt time.Time

	streamReady     chan struct{}
	readyOnce       sync.Once
	hangupRequested chan struct{}
	hangupOnce      sync.Once

	suppressed     atomic.Bool
	outcomeOnce    sync.Once
	lastAgentAudio atomic.Int64

	tasks        sync.WaitGroup
	teardownOnce sync.Once
}

// NewEngine builds a bridge session. Carrier, agent, context store and sink
// are required; terminator, events and metrics may be nil.
func NewEngine(p EngineParams) *Engine {
	if p.Carrier == nil {
		panic("bridge: carrier connection cannot be nil")
	}
	if p.Agent == nil {
		panic("bridge: agent connection cannot be nil")
	}
	if p.Contexts == nil {
		panic("bridge: context store cannot be nil")
	}
	if p.Sink == nil {
		panic("bridge: outcome sink cannot be nil")
	}
	if p.Extractor == nil {
		p.Extractor = LenientExtractor{}
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.Config.TrailingSpeechDelay <= 0 {
		p.Config.TrailingSpeechDelay = 5500 * time.Millisecond
	}
	if p.Config.PostQuietGraceDelay <= 0 {
		p.Config.PostQuietGraceDelay = time.Second
	}
	if p.Config.Policy == "" {
		p.Config.Policy = TerminationFixedDelay
	}
	if p.Config.InboundTrack == "" {
		p.Config.InboundTrack = InboundTrack
	}

	return &Engine{
		carrier:         p.Carrier,
		agent:           p.Agent,
		contexts:        p.Contexts,
		extractor:       p.Extractor,
		sink:            p.Sink,
		terminator:      p.Terminator,
		events:          p.Events,
		metrics:         p.Metrics,
		logger:          p.Logger,
		cfg:             p.Config,
		streamReady:     make(chan struct{}),
		hangupRequested: make(chan struct{}),
	}
}

// State reports the session's current lifecycle position.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// CallSID returns the carrier-assigned call identifier, once known.
func (e *Engine) CallSID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.callSID
}

// StreamSID returns the carrier-assigned stream identifier, once known.
func (e *Engine) StreamSID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.streamSID
}

// Run drives the session until both transports are closed. It blocks until
// the carrier loop, the agent loop and the termination watcher have all
// exited, then releases the call's resources.
func (e *Engine) Run(ctx context.Context) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if e.cfg.MaxCallDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxCallDuration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Reads block inside the websocket, not on the context; closing the
	// connections is what unblocks the loops on cancellation.
	go func() {
		<-runCtx.Done()
		_ = e.carrier.Close()
		_ = e.agent.Close()
	}()

	e.tasks.Add(3)
	go func() {
		defer e.tasks.Done()
		e.carrierLoop(runCtx, cancel)
	}()
	go func() {
		defer e.tasks.Done()
		e.agentLoop(runCtx, cancel)
	}()
	go func() {
		defer e.tasks.Done()
		e.terminationWatcher(runCtx, cancel)
	}()

	e.tasks.Wait()
	e.teardown()
}

func (e *Engine) carrierLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		frame, err := e.carrier.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				e.logger.Warn("dropping malformed carrier frame", "error", err, "call_sid", e.CallSID())
				e.metrics.ObserveFrameDropped("malformed")
				continue
			}
			e.logTransportClosed("carrier", err)
			return
		}

		switch frame.Event {
		case CarrierEventConnected:
			e.logger.Debug("carrier media stream connected")
		case CarrierEventStart:
			if err := e.handleStart(frame.Start); err != nil {
				return
			}
		case CarrierEventMedia:
			if err := e.handleCarrierMedia(frame.Media); err != nil {
				return
			}
		case CarrierEventStop:
			e.logger.Info("carrier stream stopped", "call_sid", e.CallSID())
			return
		default:
			e.logger.Debug("unhandled carrier frame", "event", frame.Event)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handleStart captures the call identifiers, replays the stored context to
// the agent as session-initialization data, and opens the streamReady gate.
func (e *Engine) handleStart(start *StartFrame) error {
	if start == nil {
		e.logger.Warn("carrier start frame missing body")
		return nil
	}
	if !e.transition(StateAwaitingStart, StateStreaming) {
		e.logger.Warn("duplicate carrier start frame ignored", "call_sid", start.CallSID)
		return nil
	}

	e.mu.Lock()
	e.streamSID = start.StreamSID
	e.callSID = start.CallSID
	e.startedAt = time.Now()
	e.mu.Unlock()

	callCtx, found := e.contexts.Get(start.CallSID)
	vars := callCtx.DynamicVariables
	if vars == nil {
		vars = map[string]string{}
	}
	if !found {
		e.logger.Warn("no stored context for call, initializing agent with empty variables",
			"call_sid", start.CallSID)
	}

	if err := e.agent.SendInitiation(vars); err != nil {
		e.logger.Error("failed to send agent session initiation", "error", err, "call_sid", start.CallSID)
		return err
	}

	e.logger.Info("media stream started",
		"call_sid", start.CallSID,
		"stream_sid", start.StreamSID,
		"dynamic_variables", len(vars),
	)
	e.readyOnce.Do(func() { close(e.streamReady) })
	e.publish(Event{Type: EventCallStarted, CallSID: start.CallSID, StreamSID: start.StreamSID})
	return nil
}

func (e *Engine) handleCarrierMedia(media *MediaFrame) error {
	if media == nil || media.Payload == "" {
		return nil
	}
	if e.State() == StateAwaitingStart {
		// Audio cannot precede the session-initialization message.
		e.metrics.ObserveFrameDropped("before_start")
		return nil
	}
	if media.Track != "" && media.Track != e.cfg.InboundTrack {
		e.metrics.ObserveFrameDropped("wrong_track")
		return nil
	}
	if e.State() >= StateSuppressing {
		// The outcome is decided and the agent may already have closed its
		// session. Forwarding caller audio here could fail and tear the
		// bridge down before the hangup sequence runs.
		e.metrics.ObserveFrameDropped("post_outcome")
		return nil
	}
	if err := e.agent.SendAudioChunk(media.Payload); err != nil {
		e.logTransportClosed("agent", err)
		return err
	}
	e.metrics.ObserveFrameForwarded("carrier_to_agent")
	return nil
}

func (e *Engine) agentLoop(ctx context.Context, cancel context.CancelFunc) {
	// The agent leg must not be consumed before the session-initialization
	// message has been sent.
	select {
	case <-e.streamReady:
	case <-ctx.Done():
		return
	}

	for {
		event, err := e.agent.ReadEvent()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				e.logger.Warn("dropping malformed agent event", "error", err, "call_sid", e.CallSID())
				e.metrics.ObserveFrameDropped("malformed")
				continue
			}
			e.logTransportClosed("agent", err)
			e.cancelUnlessTerminating(cancel)
			return
		}
		if err := e.handleAgentEvent(ctx, event); err != nil {
			e.cancelUnlessTerminating(cancel)
			return
		}
	}
}

// cancelUnlessTerminating tears the session down on an agent-leg failure,
// except when the hangup sequence is already armed. The agent closing its
// side after the outcome is normal; the carrier call must still be hung up.
func (e *Engine) cancelUnlessTerminating(cancel context.CancelFunc) {
	if e.State() < StateSuppressing {
		cancel()
	}
}

func (e *Engine) handleAgentEvent(ctx context.Context, event *AgentEvent) error {
	switch event.Type {
	case AgentEventInitMetadata:
		e.logger.Info("agent session initialized", "call_sid", e.CallSID())
	case AgentEventAudio:
		return e.handleAgentAudio(event.AudioEvent)
	case AgentEventPing:
		if event.PingEvent == nil {
			return nil
		}
		if err := e.agent.SendPong(event.PingEvent.EventID); err != nil {
			e.logTransportClosed("agent", err)
			return err
		}
	case AgentEventInterruption:
		// The agent's barge-in signal: flush buffered playback immediately,
		// independent of the suppression flow.
		if err := e.carrier.WriteClear(e.StreamSID()); err != nil {
			e.logTransportClosed("carrier", err)
			return err
		}
		e.logger.Debug("agent interruption, cleared carrier playback", "call_sid", e.CallSID())
	case AgentEventAgentResponse:
		if event.AgentResponseEvent != nil {
			e.handleAgentResponse(ctx, event.AgentResponseEvent.AgentResponse)
		}
	default:
		e.logger.Debug("unhandled agent event", "type", event.Type)
	}
	return nil
}

func (e *Engine) handleAgentAudio(audio *AudioEvent) error {
	if audio == nil || audio.AudioBase64 == "" {
		return nil
	}
	if e.suppressed.Load() {
		e.metrics.ObserveFrameDropped("suppressed")
		return nil
	}
	if err := e.carrier.WriteMedia(e.StreamSID(), audio.AudioBase64); err != nil {
		e.logTransportClosed("carrier", err)
		return err
	}
	e.lastAgentAudio.Store(time.Now().UnixNano())
	e.metrics.ObserveFrameForwarded("agent_to_carrier")
	return nil
}

// handleAgentResponse feeds an utterance through outcome extraction. The
// first utterance that parses wins; later matches in the same call are
// ignored even if the agent repeats itself.
func (e *Engine) handleAgentResponse(ctx context.Context, text string) {
	if text == "" {
		return
	}
	outcome, ok := e.extractor.Extract(text)
	if !ok {
		return
	}
	e.outcomeOnce.Do(func() {
		e.recordOutcome(ctx, outcome)
		// Move to Suppressing before the timer goroutine is scheduled so an
		// agent disconnect from here on cannot abort the hangup.
		e.setState(StateSuppressing)
		e.tasks.Add(1)
		go func() {
			defer e.tasks.Done()
			e.armTermination(ctx)
		}()
	})
}

func (e *Engine) recordOutcome(ctx context.Context, outcome Outcome) {
	callSID := e.CallSID()
	e.contexts.SetAgentResult(callSID, outcome.AsResult())

	result := "flagged"
	switch {
	case outcome.Rescheduled && outcome.Complete():
		result = "rescheduled"
		if err := e.sink.RecordReschedule(ctx, callSID, outcome.PatientName, outcome.ScheduledDate); err != nil {
			e.logger.Error("reschedule write failed, degrading to follow-up flag",
				"error", err,
				"call_sid", callSID,
				"patient", outcome.PatientName,
			)
			result = "flagged"
			if flagErr := e.sink.RecordFollowUp(ctx, callSID, outcome.PatientName); flagErr != nil {
				e.logger.Error("follow-up flag creation failed", "error", flagErr, "call_sid", callSID)
			}
		} else {
			e.logger.Info("appointment rescheduled from call",
				"call_sid", callSID,
				"patient", outcome.PatientName,
				"scheduled_date", outcome.ScheduledDate,
			)
		}
	case outcome.Rescheduled:
		// Never write a reschedule with an unknown name or date.
		result = "incomplete"
		e.logger.Warn("outcome incomplete, skipping reschedule write",
			"call_sid", callSID,
			"has_name", outcome.PatientName != "",
			"has_date", outcome.ScheduledDate != "",
		)
	default:
		if err := e.sink.RecordFollowUp(ctx, callSID, outcome.PatientName); err != nil {
			e.logger.Error("follow-up flag creation failed", "error", err, "call_sid", callSID)
		} else {
			e.logger.Info("follow-up flag created from call", "call_sid", callSID, "patient", outcome.PatientName)
		}
	}

	e.metrics.ObserveOutcome(result)
	e.publish(Event{
		Type:      EventOutcomeExtracted,
		CallSID:   callSID,
		StreamSID: e.StreamSID(),
		Outcome:   result,
	})
}

// armTermination runs the delayed suppression: wait out the agent's trailing
// speech, then in strict order set the suppression flag, clear the carrier's
// playback buffer, and release the hangup gate.
func (e *Engine) armTermination(ctx context.Context) {
	timer := time.NewTimer(e.cfg.TrailingSpeechDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	if e.cfg.Policy == TerminationQuietPoll {
		e.waitForQuiet(ctx)
	}

	e.suppressed.Store(true)
	if err := e.carrier.WriteClear(e.StreamSID()); err != nil {
		e.logger.Warn("failed to clear carrier playback before hangup", "error", err, "call_sid", e.CallSID())
	}
	e.setState(StateTerminating)
	e.hangupOnce.Do(func() { close(e.hangupRequested) })
}

// waitForQuiet polls until agent audio has been silent for the grace period.
func (e *Engine) waitForQuiet(ctx context.Context) {
	grace := e.cfg.PostQuietGraceDelay
	interval := grace / 4
	if interval < 25*time.Millisecond {
		interval = 25 * time.Millisecond
	}
	if interval > 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		last := e.lastAgentAudio.Load()
		if last == 0 || time.Since(time.Unix(0, last)) >= grace {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// terminationWatcher decouples "decide to hang up" from the forwarding loops.
// It waits for the stream to be ready, then for a hangup request, then runs
// the shutdown side effects in order.
func (e *Engine) terminationWatcher(ctx context.Context, cancel context.CancelFunc) {
	select {
	case <-e.streamReady:
	case <-ctx.Done():
		return
	}
	select {
	case <-e.hangupRequested:
	case <-ctx.Done():
		return
	}

	callSID := e.CallSID()
	if err := e.agent.SendEndCall(); err != nil {
		// The agent may have hung up first; ending an already-closed session
		// is a no-op, not an error.
		e.logger.Debug("end-call message not delivered", "error", err, "call_sid", callSID)
	}
	_ = e.agent.Close()

	if e.terminator != nil {
		termCtx, termCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer termCancel()
		if err := e.terminator.CompleteCall(termCtx, callSID); err != nil {
			// The media stream is already gone; retrying buys nothing.
			e.logger.Error("failed to mark call completed at provider", "error", err, "call_sid", callSID)
		} else {
			e.logger.Info("call marked completed at provider", "call_sid", callSID)
		}
	}

	// The hangup has been requested either way; closing our side of the
	// stream ends the call leg even if the provider request failed.
	cancel()
}

func (e *Engine) teardown() {
	e.teardownOnce.Do(func() {
		_ = e.agent.Close()
		_ = e.carrier.Close()
		finalFrom := e.State()
		e.setState(StateClosed)

		callSID := e.CallSID()
		if callSID == "" {
			// The start frame never arrived; there is nothing to evict.
			return
		}
		e.contexts.Remove(callSID)

		e.mu.RLock()
		startedAt := e.startedAt
		e.mu.RUnlock()
		if !startedAt.IsZero() {
			e.metrics.ObserveSessionDuration(string(e.cfg.Policy), time.Since(startedAt).Seconds())
		}
		e.publish(Event{Type: EventCallEnded, CallSID: callSID, StreamSID: e.StreamSID()})
		e.logger.Info("bridge session closed", "call_sid", callSID, "from_state", finalFrom.String())
	})
}

func (e *Engine) logTransportClosed(leg string, err error) {
	if e.State() >= StateTerminating {
		e.logger.Debug("transport closed during shutdown", "leg", leg, "error", err, "call_sid", e.CallSID())
		return
	}
	e.logger.Error("transport failure, tearing down call", "leg", leg, "error", err, "call_sid", e.CallSID())
}

func (e *Engine) publish(event Event) {
	if e.events == nil {
		return
	}
	event.At = time.Now().UTC()
	e.events.Publish(event)
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) transition(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}
