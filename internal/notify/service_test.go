package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carewire/nursecall-platform/internal/flags"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testFlag() *flags.Flag {
	return &flags.Flag{
		ID:          "flag-1",
		ReferralID:  "ref-1",
		PatientName: "Parth Joshi",
		Title:       "Follow-up needed: Declined",
		Description: "Automated call outcome: declined",
		Priority:    flags.PriorityHigh,
		Status:      flags.StatusOpen,
	}
}

func TestNotifyFlagCreated_SendsAlert(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, "nurses@example.com", nil)

	if err := svc.NotifyFlagCreated(context.Background(), testFlag()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "nurses@example.com" {
		t.Errorf("unexpected recipient: %s", msg.To)
	}
	if !strings.Contains(msg.Subject, "[HIGH]") {
		t.Errorf("subject should carry the priority: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Parth Joshi") {
		t.Errorf("body should name the patient: %q", msg.Body)
	}
	if !strings.Contains(msg.HTML, "ref-1") {
		t.Errorf("HTML body should carry the referral id")
	}
}

func TestNotifyFlagCreated_NoAlertEmailConfigured(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, "", nil)

	if err := svc.NotifyFlagCreated(context.Background(), testFlag()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("no email should be sent without a configured alert address")
	}
}

func TestNotifyFlagCreated_SendFailure(t *testing.T) {
	sender := &mockEmailSender{callErr: errors.New("smtp down")}
	svc := NewService(sender, "nurses@example.com", nil)

	if err := svc.NotifyFlagCreated(context.Background(), testFlag()); err == nil {
		t.Error("expected error when sender fails")
	}
}

func TestNotifyRescheduled_SendsConfirmation(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, "nurses@example.com", nil)

	when := time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)
	if err := svc.NotifyRescheduled(context.Background(), "Jane Doe", when); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if !strings.Contains(msg.Subject, "Jane Doe") {
		t.Errorf("subject should name the patient: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Saturday, February 7") {
		t.Errorf("body should carry the new time: %q", msg.Body)
	}
}

func TestNotifyRescheduled_NoAlertEmailConfigured(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, "", nil)

	if err := svc.NotifyRescheduled(context.Background(), "Jane Doe", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("no email should be sent without a configured alert address")
	}
}
