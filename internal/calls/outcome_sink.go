package calls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// RescheduleWriter updates referrals when the agent books a new time mid-call.
type RescheduleWriter interface {
	RescheduleByPatientName(ctx context.Context, patientName string, when time.Time) (int64, error)
}

// FollowUpFlagger opens a nurse work item when a call ends without a booking.
type FollowUpFlagger interface {
	Create(ctx context.Context, req *flags.CreateFlagRequest) (*flags.Flag, error)
}

// OutcomeSink applies mid-call scheduling decisions to the referral book and
// the live call state. The durable call log row is settled later by the
// post-call webhook, which carries the final status and duration; the sink
// only touches what has to be visible while the call is still hot.
type OutcomeSink struct {
	referrals RescheduleWriter
	flags     FollowUpFlagger
	live      *LiveStore
	repo      Repository
	logger    *logging.Logger
}

// NewOutcomeSink wires the sink. referrals and flagRepo are required; live
// and callRepo are optional and degrade to no-ops when nil.
func NewOutcomeSink(referralRepo RescheduleWriter, flagRepo FollowUpFlagger, live *LiveStore, callRepo Repository, logger *logging.Logger) *OutcomeSink {
	if referralRepo == nil {
		panic("calls: outcome sink requires a referral repository")
	}
	if flagRepo == nil {
		panic("calls: outcome sink requires a flag repository")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OutcomeSink{
		referrals: referralRepo,
		flags:     flagRepo,
		live:      live,
		repo:      callRepo,
		logger:    logger,
	}
}

// RecordReschedule moves every active referral for the named patient to the
// spoken date. A parse failure or an empty match set is an error so the
// caller can fall back to a follow-up flag instead of silently losing the
// booking.
func (s *OutcomeSink) RecordReschedule(ctx context.Context, callSID, patientName, scheduledDate string) error {
	when, err := parseSpokenDate(scheduledDate)
	if err != nil {
		return err
	}
	n, err := s.referrals.RescheduleByPatientName(ctx, patientName, when)
	if err != nil {
		return fmt.Errorf("calls: reschedule %q: %w", patientName, err)
	}
	if n == 0 {
		return fmt.Errorf("calls: reschedule %q: no active referrals matched", patientName)
	}
	s.logger.Info("referral rescheduled from live call",
		"call_sid", callSID,
		"patient", patientName,
		"scheduled_date", when.Format(time.RFC3339),
		"matched", n,
	)
	s.closeLive(ctx, callSID, string(OutcomeRescheduled))
	return nil
}

// RecordFollowUp opens a medium-priority flag so a nurse calls the patient
// back by hand. The referral ID is looked up from the call log when one was
// recorded at placement time.
func (s *OutcomeSink) RecordFollowUp(ctx context.Context, callSID, patientName string) error {
	if strings.TrimSpace(patientName) == "" {
		patientName = "Unknown patient"
	}
	referralID := s.referralIDForCall(ctx, callSID)

	req := flags.NewFollowUpFlag(patientName, referralID, flags.PriorityMedium)
	req.Description += fmt.Sprintf("\nThe automated call to %s ended without a confirmed reschedule. A nurse should call back to rebook.", patientName)
	flag, err := s.flags.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("calls: follow-up flag for %q: %w", patientName, err)
	}
	s.logger.Info("follow-up flag created from live call",
		"call_sid", callSID,
		"flag_id", flag.ID,
		"patient", patientName,
	)
	s.closeLive(ctx, callSID, "follow_up")
	return nil
}

func (s *OutcomeSink) referralIDForCall(ctx context.Context, callSID string) string {
	if s.repo == nil || callSID == "" {
		return ""
	}
	log, err := s.repo.GetByProviderSID(ctx, callSID)
	if err != nil {
		return ""
	}
	return log.ReferralID
}

// closeLive stamps the outcome on the live Redis state. The key expires on
// its own, so a write failure here only shortens the dashboard's view.
func (s *OutcomeSink) closeLive(ctx context.Context, callSID, outcome string) {
	if s.live == nil || callSID == "" {
		return
	}
	if err := s.live.EndCall(ctx, callSID, outcome); err != nil {
		s.logger.Error("live call state close failed", "call_sid", callSID, "error", err)
	}
}

// parseSpokenDate accepts the formats the voice agent emits for confirmed
// appointment times.
func parseSpokenDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("calls: empty scheduled date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("calls: unparseable scheduled date %q", s)
}
