package calls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

type fakeRescheduleWriter struct {
	name    string
	when    time.Time
	matched int64
	err     error
}

func (f *fakeRescheduleWriter) RescheduleByPatientName(_ context.Context, patientName string, when time.Time) (int64, error) {
	f.name = patientName
	f.when = when
	return f.matched, f.err
}

type fakeFlagger struct {
	created []*flags.CreateFlagRequest
	err     error
}

func (f *fakeFlagger) Create(_ context.Context, req *flags.CreateFlagRequest) (*flags.Flag, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &flags.Flag{ID: "flag-1", PatientName: req.PatientName, Priority: req.Priority}, nil
}

func TestRecordRescheduleUpdatesReferrals(t *testing.T) {
	refs := &fakeRescheduleWriter{matched: 1}
	flagger := &fakeFlagger{}
	live := newTestLiveStore(t)
	ctx := context.Background()
	if err := live.SaveState(ctx, testLiveState("CA100")); err != nil {
		t.Fatalf("seed live state: %v", err)
	}

	sink := NewOutcomeSink(refs, flagger, live, nil, logging.Default())
	err := sink.RecordReschedule(ctx, "CA100", "Parth Joshi", "2026-02-07 11:00:00+00:00")
	if err != nil {
		t.Fatalf("record reschedule: %v", err)
	}

	if refs.name != "Parth Joshi" {
		t.Fatalf("unexpected patient: %q", refs.name)
	}
	want := time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)
	if !refs.when.Equal(want) {
		t.Fatalf("unexpected reschedule time: %v", refs.when)
	}
	state, _ := live.GetState(ctx, "CA100")
	if state.Status != LiveStatusEnded || state.Outcome != "rescheduled" {
		t.Fatalf("live state not closed: %+v", state)
	}
	if len(flagger.created) != 0 {
		t.Fatal("no flag should be created on a successful reschedule")
	}
}

func TestRecordRescheduleNoMatchesErrors(t *testing.T) {
	refs := &fakeRescheduleWriter{matched: 0}
	sink := NewOutcomeSink(refs, &fakeFlagger{}, nil, nil, logging.Default())

	err := sink.RecordReschedule(context.Background(), "CA100", "Nobody Here", "2026-02-07")
	if err == nil {
		t.Fatal("expected error when no referrals matched")
	}
}

func TestRecordRescheduleUnparseableDate(t *testing.T) {
	refs := &fakeRescheduleWriter{matched: 1}
	sink := NewOutcomeSink(refs, &fakeFlagger{}, nil, nil, logging.Default())

	err := sink.RecordReschedule(context.Background(), "CA100", "Parth Joshi", "next tuesday-ish")
	if err == nil {
		t.Fatal("expected error for unparseable date")
	}
	if refs.name != "" {
		t.Fatal("repository must not be touched when the date cannot be parsed")
	}
}

func TestRecordRescheduleRepositoryError(t *testing.T) {
	refs := &fakeRescheduleWriter{err: errors.New("db down")}
	sink := NewOutcomeSink(refs, &fakeFlagger{}, nil, nil, logging.Default())

	err := sink.RecordReschedule(context.Background(), "CA100", "Parth Joshi", "2026-02-07")
	if err == nil {
		t.Fatal("expected error when the repository write fails")
	}
}

func TestRecordFollowUpCreatesFlag(t *testing.T) {
	flagger := &fakeFlagger{}
	repo := NewInMemoryRepository()
	seedCall(t, repo, "CA100", "ref-1")
	live := newTestLiveStore(t)
	ctx := context.Background()
	if err := live.SaveState(ctx, testLiveState("CA100")); err != nil {
		t.Fatalf("seed live state: %v", err)
	}

	sink := NewOutcomeSink(&fakeRescheduleWriter{}, flagger, live, repo, logging.Default())
	if err := sink.RecordFollowUp(ctx, "CA100", "Parth Joshi"); err != nil {
		t.Fatalf("record follow-up: %v", err)
	}

	if len(flagger.created) != 1 {
		t.Fatalf("expected one flag, got %d", len(flagger.created))
	}
	flag := flagger.created[0]
	if flag.Priority != flags.PriorityMedium {
		t.Fatalf("unexpected priority: %q", flag.Priority)
	}
	if flag.Title != "Flagged: Parth Joshi" {
		t.Fatalf("unexpected title: %q", flag.Title)
	}
	if !strings.HasPrefix(flag.Description, "Patient Parth Joshi has been flagged for follow-up from nurse.") {
		t.Fatalf("unexpected description: %q", flag.Description)
	}
	if !strings.Contains(flag.Description, "call back to rebook") {
		t.Fatalf("description lost the call-back hint: %q", flag.Description)
	}
	if flag.ReferralID != "ref-1" {
		t.Fatalf("referral id not carried from the call log: %q", flag.ReferralID)
	}
	state, _ := live.GetState(ctx, "CA100")
	if state.Outcome != "follow_up" {
		t.Fatalf("live state not closed: %+v", state)
	}
}

func TestRecordFollowUpUnknownPatientName(t *testing.T) {
	flagger := &fakeFlagger{}
	sink := NewOutcomeSink(&fakeRescheduleWriter{}, flagger, nil, nil, logging.Default())

	if err := sink.RecordFollowUp(context.Background(), "CA100", "  "); err != nil {
		t.Fatalf("record follow-up: %v", err)
	}
	if flagger.created[0].PatientName != "Unknown patient" {
		t.Fatalf("unexpected patient name: %q", flagger.created[0].PatientName)
	}
}

func TestRecordFollowUpFlagFailure(t *testing.T) {
	flagger := &fakeFlagger{err: errors.New("db down")}
	sink := NewOutcomeSink(&fakeRescheduleWriter{}, flagger, nil, nil, logging.Default())

	if err := sink.RecordFollowUp(context.Background(), "CA100", "Parth Joshi"); err == nil {
		t.Fatal("expected error when the flag write fails")
	}
}
