package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Voice-agent event kinds consumed by the bridge.
const (
	AgentEventInitMetadata  = "conversation_initiation_metadata"
	AgentEventAudio         = "audio"
	AgentEventPing          = "ping"
	AgentEventInterruption  = "interruption"
	AgentEventAgentResponse = "agent_response"
)

// AgentEvent is one JSON message from the voice-agent session.
type AgentEvent struct {
	Type               string              `json:"type"`
	AudioEvent         *AudioEvent         `json:"audio_event,omitempty"`
	PingEvent          *PingEvent          `json:"ping_event,omitempty"`
	AgentResponseEvent *AgentResponseEvent `json:"agent_response_event,omitempty"`
}

type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
}

type PingEvent struct {
	EventID int `json:"event_id"`
}

type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

// AgentConn is the bridge's view of the voice-agent leg.
type AgentConn interface {
	// ReadEvent blocks for the next event. Undecodable payloads return an
	// error wrapping ErrMalformedFrame.
	ReadEvent() (*AgentEvent, error)
	// SendInitiation delivers the dynamic variables; must precede any audio.
	SendInitiation(vars map[string]string) error
	// SendAudioChunk forwards one base64 caller audio chunk.
	SendAudioChunk(payload string) error
	// SendPong answers a ping with the same correlation id.
	SendPong(eventID int) error
	// SendEndCall asks the agent to finish the conversation.
	SendEndCall() error
	// Close is a no-op if the session is already closed.
	Close() error
}

// AgentSessionConfig configures the dial to the conversational AI provider.
type AgentSessionConfig struct {
	// BaseURL is the websocket origin, e.g. wss://api.elevenlabs.io.
	BaseURL string
	AgentID string
	APIKey  string
}

type agentSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// DialAgent opens a voice-agent session for one call.
func DialAgent(ctx context.Context, cfg AgentSessionConfig) (AgentConn, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge: agent base url is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("bridge: agent id is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid agent base url: %w", err)
	}
	u.Path = "/v1/convai/conversation"
	u.RawQuery = url.Values{"agent_id": []string{cfg.AgentID}}.Encode()

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("xi-api-key", cfg.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: agent dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge: agent dial failed: %w", err)
	}
	return &agentSocket{conn: conn}, nil
}

// NewAgentConn wraps an already-open websocket as an agent session. Used by
// tests; production callers dial via DialAgent.
func NewAgentConn(conn *websocket.Conn) AgentConn {
	return &agentSocket{conn: conn}
}

func (a *agentSocket) ReadEvent() (*AgentEvent, error) {
	_, data, err := a.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("bridge: agent read: %w", err)
	}
	var event AgentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &event, nil
}

func (a *agentSocket) SendInitiation(vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	return a.writeJSON(map[string]any{
		"type":              "conversation_initiation_client_data",
		"dynamic_variables": vars,
	}, "initiation")
}

func (a *agentSocket) SendAudioChunk(payload string) error {
	return a.writeJSON(map[string]string{
		"user_audio_chunk": payload,
	}, "audio chunk")
}

func (a *agentSocket) SendPong(eventID int) error {
	return a.writeJSON(map[string]any{
		"type":     "pong",
		"event_id": eventID,
	}, "pong")
}

func (a *agentSocket) SendEndCall() error {
	return a.writeJSON(map[string]string{
		"command_type": "end_call",
	}, "end call")
}

func (a *agentSocket) writeJSON(v any, what string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("bridge: agent write %s: %w", what, err)
	}
	return nil
}

func (a *agentSocket) Close() error {
	a.once.Do(func() {
		_ = a.conn.Close()
	})
	return nil
}
