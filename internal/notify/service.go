package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Service sends nurse-facing email alerts about automated call outcomes.
// A follow-up flag that needs attention becomes an email to the on-duty
// nurse inbox; a successful reschedule becomes a confirmation.
type Service struct {
	email      EmailSender
	alertEmail string
	logger     *logging.Logger
}

// NewService creates a notification service. When alertEmail is empty the
// service logs and skips instead of erroring, so callers can wire it
// unconditionally.
func NewService(email EmailSender, alertEmail string, logger *logging.Logger) *Service {
	if email == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		alertEmail: alertEmail,
		logger:     logger,
	}
}

// NotifyFlagCreated emails the nurse inbox about a newly opened follow-up
// flag.
func (s *Service) NotifyFlagCreated(ctx context.Context, flag *flags.Flag) error {
	if s.alertEmail == "" {
		s.logger.Debug("nurse alert email not configured, skipping flag alert", "flag_id", flag.ID)
		return nil
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(flag.Priority)), flag.Title)

	if err := s.email.Send(ctx, EmailMessage{
		To:      s.alertEmail,
		Subject: subject,
		Body:    s.buildFlagBody(flag),
		HTML:    s.buildFlagHTML(flag),
	}); err != nil {
		return fmt.Errorf("notify: flag alert: %w", err)
	}
	s.logger.Info("flag alert sent", "flag_id", flag.ID, "priority", flag.Priority)
	return nil
}

// NotifyRescheduled emails a confirmation that an automated call moved a
// patient's appointment.
func (s *Service) NotifyRescheduled(ctx context.Context, patientName string, when time.Time) error {
	if s.alertEmail == "" {
		s.logger.Debug("nurse alert email not configured, skipping reschedule confirmation", "patient", patientName)
		return nil
	}

	subject := fmt.Sprintf("Rescheduled: %s", patientName)
	body := fmt.Sprintf(
		"The automated follow-up call rescheduled %s to %s.\n\nNo action is needed unless the new time conflicts with the referral.",
		patientName,
		when.Format("Monday, January 2 at 3:04 PM MST"),
	)

	if err := s.email.Send(ctx, EmailMessage{
		To:      s.alertEmail,
		Subject: subject,
		Body:    body,
	}); err != nil {
		return fmt.Errorf("notify: reschedule confirmation: %w", err)
	}
	s.logger.Info("reschedule confirmation sent", "patient", patientName)
	return nil
}

func (s *Service) buildFlagBody(flag *flags.Flag) string {
	var b strings.Builder
	b.WriteString("A follow-up flag was opened by the automated call system.\n\n")
	fmt.Fprintf(&b, "Patient:  %s\n", flag.PatientName)
	fmt.Fprintf(&b, "Priority: %s\n", flag.Priority)
	if flag.ReferralID != "" {
		fmt.Fprintf(&b, "Referral: %s\n", flag.ReferralID)
	}
	b.WriteString("\n")
	b.WriteString(flag.Description)
	b.WriteString("\n\nReview and resolve the flag in the nurse dashboard.\n")
	return b.String()
}

func (s *Service) buildFlagHTML(flag *flags.Flag) string {
	var b strings.Builder
	b.WriteString("<p>A follow-up flag was opened by the automated call system.</p>")
	b.WriteString("<table>")
	fmt.Fprintf(&b, "<tr><td><b>Patient</b></td><td>%s</td></tr>", flag.PatientName)
	fmt.Fprintf(&b, "<tr><td><b>Priority</b></td><td>%s</td></tr>", flag.Priority)
	if flag.ReferralID != "" {
		fmt.Fprintf(&b, "<tr><td><b>Referral</b></td><td>%s</td></tr>", flag.ReferralID)
	}
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(flag.Description, "\n", "<br>"))
	b.WriteString("<p>Review and resolve the flag in the nurse dashboard.</p>")
	return b.String()
}
