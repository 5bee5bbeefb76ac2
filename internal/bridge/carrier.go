package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Carrier media-stream frame kinds.
const (
	CarrierEventConnected = "connected"
	CarrierEventStart     = "start"
	CarrierEventMedia     = "media"
	CarrierEventStop      = "stop"
	CarrierEventClear     = "clear"
)

// InboundTrack is the carrier track carrying the caller's voice. Media frames
// tagged with any other track are dropped before forwarding.
const InboundTrack = "inbound"

// ErrMalformedFrame marks a carrier frame that did not decode; callers log and
// drop these rather than tearing the call down.
var ErrMalformedFrame = errors.New("bridge: malformed carrier frame")

// CarrierFrame is one JSON message on the carrier media-stream channel.
type CarrierFrame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Stop      *StopFrame  `json:"stop,omitempty"`
}

// StartFrame announces the stream and carries the identifiers the bridge keys
// everything on.
type StartFrame struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFrame carries one base64 audio chunk.
type MediaFrame struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

// StopFrame signals the carrier ended the stream.
type StopFrame struct {
	CallSID string `json:"callSid,omitempty"`
}

// CarrierConn is the bridge's view of the carrier leg. The production
// implementation wraps a websocket; tests substitute in-memory fakes.
type CarrierConn interface {
	// ReadFrame blocks for the next frame. Undecodable payloads return an
	// error wrapping ErrMalformedFrame; any other error is a transport
	// failure.
	ReadFrame() (*CarrierFrame, error)
	// WriteMedia plays a base64 audio chunk to the caller.
	WriteMedia(streamSID, payload string) error
	// WriteClear flushes audio the carrier has buffered but not yet played.
	WriteClear(streamSID string) error
	Close() error
}

type carrierSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// NewCarrierConn wraps an upgraded carrier websocket. Writes are serialized;
// the websocket package permits only one concurrent writer.
func NewCarrierConn(conn *websocket.Conn) CarrierConn {
	return &carrierSocket{conn: conn}
}

func (c *carrierSocket) ReadFrame() (*CarrierFrame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("bridge: carrier read: %w", err)
	}
	var frame CarrierFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &frame, nil
}

func (c *carrierSocket) WriteMedia(streamSID, payload string) error {
	frame := CarrierFrame{
		Event:     CarrierEventMedia,
		StreamSID: streamSID,
		Media:     &MediaFrame{Payload: payload},
	}
	return c.writeJSON(frame)
}

func (c *carrierSocket) WriteClear(streamSID string) error {
	frame := CarrierFrame{
		Event:     CarrierEventClear,
		StreamSID: streamSID,
	}
	return c.writeJSON(frame)
}

func (c *carrierSocket) writeJSON(frame CarrierFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("bridge: carrier write %s: %w", frame.Event, err)
	}
	return nil
}

func (c *carrierSocket) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}
