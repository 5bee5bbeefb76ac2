package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/referrals"
)

type fakePlacer struct {
	mu     sync.Mutex
	placed []calls.OutboundCallRequest
	result *calls.CallResult
	err    error
}

func (f *fakePlacer) PlaceCall(_ context.Context, req calls.OutboundCallRequest) (*calls.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &calls.CallResult{Success: true, CallSID: "CA-test"}, nil
}

type fakeJobLedger struct {
	mu        sync.Mutex
	pending   []string
	completed map[string]string
	failed    map[string]string
}

func newFakeJobLedger() *fakeJobLedger {
	return &fakeJobLedger{completed: map[string]string{}, failed: map[string]string{}}
}

func (f *fakeJobLedger) PutPending(_ context.Context, job *JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, job.JobID)
	return nil
}

func (f *fakeJobLedger) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	return nil, ErrJobNotFound
}

func (f *fakeJobLedger) MarkCompleted(_ context.Context, jobID, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = callSID
	return nil
}

func (f *fakeJobLedger) MarkFailed(_ context.Context, jobID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errMsg
	return nil
}

func drainOne(t *testing.T, q *MemoryQueue) queueMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := q.Receive(ctx, 1, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	return msgs[0]
}

func TestPublisher_EnqueueRescheduleCall(t *testing.T) {
	queue := NewMemoryQueue(4)
	ledger := newFakeJobLedger()
	pub := NewPublisher(queue, ledger, nil)

	missed := time.Date(2026, 1, 20, 9, 30, 0, 0, time.UTC)
	ref := &referrals.Referral{
		ID:             "ref-1",
		PatientName:    "Parth Joshi",
		PatientPhone:   "+15550001111",
		SpecialistType: "cardiology",
		Condition:      "arrhythmia",
		ScheduledDate:  &missed,
	}
	if err := pub.EnqueueRescheduleCall(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := drainOne(t, queue)
	var job CallJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ReferralID != "ref-1" || job.PhoneNumber != "+15550001111" {
		t.Fatalf("job = %+v", job)
	}
	if job.DynamicVariables[calls.VarPatientName] != "Parth Joshi" {
		t.Errorf("patient name variable missing: %v", job.DynamicVariables)
	}
	if job.DynamicVariables[calls.VarSpecialistType] != "cardiology" {
		t.Errorf("specialist type variable missing: %v", job.DynamicVariables)
	}
	if job.DynamicVariables["missed_appointment_date"] == "" {
		t.Errorf("missed date variable missing: %v", job.DynamicVariables)
	}
	if len(ledger.pending) != 1 || ledger.pending[0] != job.JobID {
		t.Errorf("pending ledger = %v, want job %s", ledger.pending, job.JobID)
	}
}

func TestPublisher_RejectsMissingPhone(t *testing.T) {
	pub := NewPublisher(NewMemoryQueue(1), nil, nil)

	err := pub.EnqueueRescheduleCall(context.Background(), &referrals.Referral{ID: "ref-2"})
	if err == nil {
		t.Fatal("expected error for referral without phone")
	}
}

func TestWorker_PlacesQueuedCall(t *testing.T) {
	queue := NewMemoryQueue(4)
	ledger := newFakeJobLedger()
	placer := &fakePlacer{}
	pub := NewPublisher(queue, ledger, nil)
	worker := NewWorker(placer, queue, ledger, nil, WithWorkerCount(1), WithReceiveWait(1))

	ref := &referrals.Referral{ID: "ref-3", PatientName: "Jane", PatientPhone: "+15550002222", SpecialistType: "neurology"}
	if err := pub.EnqueueRescheduleCall(context.Background(), ref); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ledger.mu.Lock()
		done := len(ledger.completed) == 1
		ledger.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	worker.Wait()

	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 1 {
		t.Fatalf("expected 1 placed call, got %d", len(placer.placed))
	}
	if placer.placed[0].ReferralID != "ref-3" {
		t.Errorf("placed referral = %q", placer.placed[0].ReferralID)
	}
	for _, sid := range ledger.completed {
		if sid != "CA-test" {
			t.Errorf("completed call sid = %q", sid)
		}
	}
}

func TestWorker_MarksFailedOnPlacementError(t *testing.T) {
	queue := NewMemoryQueue(4)
	ledger := newFakeJobLedger()
	placer := &fakePlacer{err: errors.New("provider down")}
	worker := NewWorker(placer, queue, ledger, nil, WithWorkerCount(1), WithReceiveWait(1))

	job, body, err := encodeJob(CallJob{ReferralID: "ref-4", PhoneNumber: "+15550003333"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := queue.Send(context.Background(), body); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ledger.mu.Lock()
		done := len(ledger.failed) == 1
		ledger.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	worker.Wait()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.failed[job.JobID] != "provider down" {
		t.Fatalf("failed ledger = %v", ledger.failed)
	}
}

func TestWorker_MarksFailedOnProviderRejection(t *testing.T) {
	queue := NewMemoryQueue(4)
	ledger := newFakeJobLedger()
	placer := &fakePlacer{result: &calls.CallResult{Success: false, Error: "invalid number"}}
	worker := NewWorker(placer, queue, ledger, nil, WithWorkerCount(1), WithReceiveWait(1))

	job, body, err := encodeJob(CallJob{ReferralID: "ref-5", PhoneNumber: "+1555"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := queue.Send(context.Background(), body); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ledger.mu.Lock()
		done := len(ledger.failed) == 1
		ledger.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	worker.Wait()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.failed[job.JobID] != "invalid number" {
		t.Fatalf("failed ledger = %v", ledger.failed)
	}
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	queue := NewMemoryQueue(1)

	start := time.Now()
	msgs, err := queue.Receive(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected no messages, got %v", msgs)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("receive returned before the wait elapsed: %v", elapsed)
	}
}
