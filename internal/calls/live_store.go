package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LiveCallState tracks an in-flight call in Redis. It exists while the bridge
// is up so the dashboard can show live calls; the durable record is the
// call_logs row.
type LiveCallState struct {
	// CallSID is the telephony provider's call SID.
	CallSID string `json:"call_sid"`
	// StreamSID is the media stream id, known once the carrier connects.
	StreamSID string `json:"stream_sid,omitempty"`
	// ReferralID links to the referral the call is about, when known.
	ReferralID string `json:"referral_id,omitempty"`
	// PatientName is the spoken name handed to the voice agent.
	PatientName string `json:"patient_name,omitempty"`
	// PatientPhone is the dialed number in E.164.
	PatientPhone string `json:"patient_phone"`
	// Status tracks the live lifecycle: dialing, streaming, ended.
	Status string `json:"status"`
	// StartedAt is when the call was placed.
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt tracks the most recent bridge activity.
	LastActivityAt time.Time `json:"last_activity_at"`
	// Outcome records how the call ended, once known.
	Outcome string `json:"outcome,omitempty"`
}

// TranscriptEntry is a single utterance in a live call transcript.
type TranscriptEntry struct {
	Role      string    `json:"role"` // "patient" or "agent"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	liveCallKeyPrefix       = "call:state:"
	liveTranscriptKeyPrefix = "call:transcript:"
	liveCallTTL             = 24 * time.Hour

	LiveStatusDialing   = "dialing"
	LiveStatusStreaming = "streaming"
	LiveStatusEnded     = "ended"
)

// LiveStore manages in-flight call state in Redis.
type LiveStore struct {
	rdb    *redis.Client
	tracer trace.Tracer
}

// NewLiveStore creates a live call store backed by Redis.
func NewLiveStore(rdb *redis.Client) *LiveStore {
	return &LiveStore{
		rdb:    rdb,
		tracer: otel.Tracer("nursecall.internal.calls"),
	}
}

func liveCallKey(callSID string) string {
	return liveCallKeyPrefix + callSID
}

func liveTranscriptKey(callSID string) string {
	return liveTranscriptKeyPrefix + callSID
}

// SaveState persists or updates live call state.
func (s *LiveStore) SaveState(ctx context.Context, state *LiveCallState) error {
	if state == nil || state.CallSID == "" {
		return fmt.Errorf("live call state: call_sid required")
	}
	ctx, span := s.tracer.Start(ctx, "calls.live.save_state")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("live call state: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, liveCallKey(state.CallSID), data, liveCallTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("live call state: set: %w", err)
	}
	return nil
}

// GetState retrieves live call state. A missing key returns (nil, nil).
func (s *LiveStore) GetState(ctx context.Context, callSID string) (*LiveCallState, error) {
	ctx, span := s.tracer.Start(ctx, "calls.live.get_state")
	defer span.End()

	data, err := s.rdb.Get(ctx, liveCallKey(callSID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("live call state: get: %w", err)
	}
	var state LiveCallState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("live call state: unmarshal: %w", err)
	}
	return &state, nil
}

// MarkStreaming records that the media stream connected.
func (s *LiveStore) MarkStreaming(ctx context.Context, callSID, streamSID string) error {
	state, err := s.GetState(ctx, callSID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("live call state: call %s not found", callSID)
	}
	state.Status = LiveStatusStreaming
	state.StreamSID = streamSID
	state.LastActivityAt = time.Now().UTC()
	return s.SaveState(ctx, state)
}

// EndCall marks the call as ended with an outcome.
func (s *LiveStore) EndCall(ctx context.Context, callSID, outcome string) error {
	state, err := s.GetState(ctx, callSID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("live call state: call %s not found", callSID)
	}
	state.Status = LiveStatusEnded
	state.Outcome = outcome
	state.LastActivityAt = time.Now().UTC()
	return s.SaveState(ctx, state)
}

// AppendTranscript adds one utterance to the live transcript.
func (s *LiveStore) AppendTranscript(ctx context.Context, callSID string, entry TranscriptEntry) error {
	ctx, span := s.tracer.Start(ctx, "calls.live.append_transcript")
	defer span.End()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("live transcript: marshal: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, liveTranscriptKey(callSID), data)
	pipe.Expire(ctx, liveTranscriptKey(callSID), liveCallTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("live transcript: append: %w", err)
	}
	return nil
}

// Transcript retrieves the full live transcript. Entries that fail to decode
// are skipped.
func (s *LiveStore) Transcript(ctx context.Context, callSID string) ([]TranscriptEntry, error) {
	ctx, span := s.tracer.Start(ctx, "calls.live.transcript")
	defer span.End()

	data, err := s.rdb.LRange(ctx, liveTranscriptKey(callSID), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("live transcript: get: %w", err)
	}
	entries := make([]TranscriptEntry, 0, len(data))
	for _, d := range data {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(d), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
