package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Provider names events for the processed-event tracker.
const Provider = "voice-agent"

// TranscriptLine is one utterance from the post-call transcript.
type TranscriptLine struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// PostCallEvent is the voice-agent provider's call-completion payload.
type PostCallEvent struct {
	EventID           string           `json:"event_id"`
	Type              string           `json:"type"`
	CallSID           string           `json:"call_sid"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	Status            string           `json:"status"`
	Outcome           string           `json:"outcome,omitempty"`
	PatientName       string           `json:"patient_name,omitempty"`
	NewScheduledTime  string           `json:"new_scheduled_time,omitempty"`
	TranscriptSummary string           `json:"transcript_summary,omitempty"`
	Transcript        []TranscriptLine `json:"transcript,omitempty"`
	DurationSeconds   int              `json:"duration_seconds,omitempty"`
}

// Rescheduler moves a referral's appointment by patient name. Implemented by
// the referrals repository.
type Rescheduler interface {
	RescheduleByPatientName(ctx context.Context, patientName string, when time.Time) (int64, error)
}

// FlagCreator opens a follow-up flag. Implemented by the flags repository.
type FlagCreator interface {
	Create(ctx context.Context, req *flags.CreateFlagRequest) (*flags.Flag, error)
}

// CallUpdater is the slice of the call-log repository the processor writes.
type CallUpdater interface {
	GetByProviderSID(ctx context.Context, providerSID string) (*calls.CallLog, error)
	RecordOutcome(ctx context.Context, providerSID string, status calls.Status, outcome calls.Outcome, durationSeconds int) error
	SetSummary(ctx context.Context, providerSID, summary string) error
}

// Notifier alerts a nurse about work the automated flow could not finish.
// Nil disables notification.
type Notifier interface {
	NotifyFlagCreated(ctx context.Context, flag *flags.Flag) error
	NotifyRescheduled(ctx context.Context, patientName string, when time.Time) error
}

// Archiver persists the finished call's transcript. Nil disables archival.
type Archiver interface {
	ArchiveCall(ctx context.Context, callSID string, outcome string, lines []TranscriptLine) error
}

// Summarizer writes a short call summary onto the call log when the provider
// did not supply one. Nil disables summarization.
type Summarizer interface {
	SummarizeAndStore(ctx context.Context, callSID string, transcript []string) error
}

// flagPriorityFor maps a failed-call outcome to a nurse triage priority.
func flagPriorityFor(outcome string) flags.Priority {
	switch outcome {
	case "declined", "callback_requested", "failed":
		return flags.PriorityHigh
	case "invalid_number":
		return flags.PriorityUrgent
	case "no_answer", "voicemail":
		return flags.PriorityMedium
	default:
		return flags.PriorityMedium
	}
}

func callStatusFor(status string) calls.Status {
	switch status {
	case "failed":
		return calls.StatusFailed
	case "no_answer":
		return calls.StatusNoAnswer
	default:
		return calls.StatusCompleted
	}
}

func callOutcomeFor(outcome string) calls.Outcome {
	switch outcome {
	case "rescheduled":
		return calls.OutcomeRescheduled
	case "declined":
		return calls.OutcomeDeclined
	case "no_answer":
		return calls.OutcomeNoAnswer
	case "voicemail":
		return calls.OutcomeVoicemail
	case "callback_requested":
		return calls.OutcomeCallbackRequested
	case "invalid_number":
		return calls.OutcomeInvalidNumber
	case "failed":
		return calls.OutcomeFailed
	default:
		return ""
	}
}

// ProcessorParams wires the post-call processor.
type ProcessorParams struct {
	Calls       CallUpdater
	Rescheduler Rescheduler
	Flags       FlagCreator
	Notifier    Notifier
	Archiver    Archiver
	Summarizer  Summarizer
	Metrics     *metrics.CallMetrics
	Logger      *logging.Logger
}

// Processor applies a post-call event's side effects: the call log update,
// then exactly one of reschedule or follow-up flag, then the fail-open
// bookkeeping (notification, archive, summary).
type Processor struct {
	calls       CallUpdater
	rescheduler Rescheduler
	flags       FlagCreator
	notifier    Notifier
	archiver    Archiver
	summarizer  Summarizer
	metrics     *metrics.CallMetrics
	logger      *logging.Logger
}

func NewProcessor(p ProcessorParams) *Processor {
	if p.Calls == nil {
		panic("webhooks: call updater cannot be nil")
	}
	if p.Flags == nil {
		panic("webhooks: flag creator cannot be nil")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &Processor{
		calls:       p.Calls,
		rescheduler: p.Rescheduler,
		flags:       p.Flags,
		notifier:    p.Notifier,
		archiver:    p.Archiver,
		summarizer:  p.Summarizer,
		metrics:     p.Metrics,
		logger:      p.Logger,
	}
}

// Process handles one verified post-call event. An unknown call SID is
// ignored, not an error; the provider also reports test and duplicate calls.
func (p *Processor) Process(ctx context.Context, evt *PostCallEvent) error {
	if evt.CallSID == "" {
		return fmt.Errorf("webhooks: event missing call_sid")
	}

	log, err := p.calls.GetByProviderSID(ctx, evt.CallSID)
	if err != nil {
		p.logger.Warn("post-call event for unknown call, ignoring", "call_sid", evt.CallSID, "error", err)
		return nil
	}

	status := callStatusFor(evt.Status)
	if err := p.calls.RecordOutcome(ctx, evt.CallSID, status, callOutcomeFor(evt.Outcome), evt.DurationSeconds); err != nil {
		p.logger.Error("call log outcome update failed", "call_sid", evt.CallSID, "error", err)
	}

	patientName := strings.TrimSpace(evt.PatientName)
	if patientName == "" {
		patientName = log.PatientName
	}

	if evt.Outcome == "rescheduled" {
		if p.applyReschedule(ctx, evt, patientName) {
			p.finishBookkeeping(ctx, evt)
			return nil
		}
		// A reschedule that cannot be written degrades to a follow-up
		// flag; the failure must stay visible to a nurse.
	}

	flag := p.createFollowUpFlag(ctx, evt, log.ReferralID, patientName)
	if flag != nil && p.notifier != nil && (flag.Priority == flags.PriorityHigh || flag.Priority == flags.PriorityUrgent) {
		if err := p.notifier.NotifyFlagCreated(ctx, flag); err != nil {
			p.logger.Error("nurse alert failed", "flag_id", flag.ID, "error", err)
		}
	}
	p.finishBookkeeping(ctx, evt)
	return nil
}

// applyReschedule attempts the reschedule write; returns false when complete
// data is missing or no referral matched, so the caller degrades to a flag.
func (p *Processor) applyReschedule(ctx context.Context, evt *PostCallEvent, patientName string) bool {
	when, err := parseScheduledTime(evt.NewScheduledTime)
	if err != nil || patientName == "" {
		p.logger.Warn("reschedule outcome incomplete, degrading to flag",
			"call_sid", evt.CallSID,
			"has_name", patientName != "",
			"time", evt.NewScheduledTime,
		)
		return false
	}
	if p.rescheduler == nil {
		return false
	}
	n, err := p.rescheduler.RescheduleByPatientName(ctx, patientName, when)
	if err != nil || n == 0 {
		p.logger.Error("reschedule write failed, degrading to flag",
			"call_sid", evt.CallSID,
			"patient", patientName,
			"matched", n,
			"error", err,
		)
		return false
	}
	p.metrics.ObserveWebhook("post_call", "rescheduled")
	p.logger.Info("referral rescheduled from post-call webhook",
		"call_sid", evt.CallSID,
		"patient", patientName,
		"scheduled_date", when.Format(time.RFC3339),
	)
	if p.notifier != nil {
		if err := p.notifier.NotifyRescheduled(ctx, patientName, when); err != nil {
			p.logger.Error("reschedule confirmation email failed", "call_sid", evt.CallSID, "error", err)
		}
	}
	return true
}

func (p *Processor) createFollowUpFlag(ctx context.Context, evt *PostCallEvent, referralID, patientName string) *flags.Flag {
	outcome := evt.Outcome
	if outcome == "" {
		outcome = evt.Status
	}
	if patientName == "" {
		patientName = "Unknown patient"
	}

	req := flags.NewFollowUpFlag(patientName, referralID, flagPriorityFor(outcome))
	req.Description += fmt.Sprintf("\nAutomated call outcome: %s. Patient needs manual follow-up to reschedule the missed appointment.", outcome)
	if evt.TranscriptSummary != "" {
		req.Description += "\n\nCall summary:\n" + evt.TranscriptSummary
	}
	flag, err := p.flags.Create(ctx, req)
	if err != nil {
		p.logger.Error("follow-up flag creation failed", "call_sid", evt.CallSID, "error", err)
		return nil
	}
	p.metrics.ObserveWebhook("post_call", "flagged")
	p.logger.Info("follow-up flag created from post-call webhook",
		"call_sid", evt.CallSID,
		"flag_id", flag.ID,
		"priority", flag.Priority,
	)
	return flag
}

// finishBookkeeping archives the transcript and ensures a summary lands on
// the call log. Both are fail-open.
func (p *Processor) finishBookkeeping(ctx context.Context, evt *PostCallEvent) {
	if p.archiver != nil && len(evt.Transcript) > 0 {
		if err := p.archiver.ArchiveCall(ctx, evt.CallSID, evt.Outcome, evt.Transcript); err != nil {
			p.logger.Error("transcript archive failed", "call_sid", evt.CallSID, "error", err)
		}
	}

	if evt.TranscriptSummary != "" {
		if err := p.calls.SetSummary(ctx, evt.CallSID, evt.TranscriptSummary); err != nil {
			p.logger.Error("summary write failed", "call_sid", evt.CallSID, "error", err)
		}
		return
	}
	if p.summarizer != nil && len(evt.Transcript) > 0 {
		lines := make([]string, 0, len(evt.Transcript))
		for _, l := range evt.Transcript {
			lines = append(lines, l.Role+": "+l.Message)
		}
		if err := p.summarizer.SummarizeAndStore(ctx, evt.CallSID, lines); err != nil {
			p.logger.Error("call summarization failed", "call_sid", evt.CallSID, "error", err)
		}
	}
}

func parseScheduledTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("webhooks: empty scheduled time")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("webhooks: unparseable scheduled time %q", s)
}
