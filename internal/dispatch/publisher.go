package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// Publisher enqueues outbound-call jobs for asynchronous placement.
type Publisher struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher. The job recorder may be nil
// when no ledger table is configured.
func NewPublisher(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		logger: logger,
	}
}

// EnqueueRescheduleCall publishes an outbound-call job for a missed referral.
func (p *Publisher) EnqueueRescheduleCall(ctx context.Context, ref *referrals.Referral) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ref == nil {
		return fmt.Errorf("dispatch: referral cannot be nil")
	}
	if ref.PatientPhone == "" {
		return fmt.Errorf("dispatch: referral %s has no patient phone", ref.ID)
	}

	vars := map[string]string{
		calls.VarPatientName:    ref.PatientName,
		calls.VarSpecialistType: ref.SpecialistType,
	}
	if ref.Condition != "" {
		vars["condition"] = ref.Condition
	}
	if ref.ScheduledDate != nil {
		vars["missed_appointment_date"] = ref.ScheduledDate.Format(time.RFC3339)
	}

	job, body, err := encodeJob(CallJob{
		ReferralID:       ref.ID,
		PhoneNumber:      ref.PatientPhone,
		DynamicVariables: vars,
	})
	if err != nil {
		return err
	}

	if p.jobs != nil {
		record := &JobRecord{
			JobID:       job.JobID,
			ReferralID:  job.ReferralID,
			PhoneNumber: job.PhoneNumber,
		}
		if err := p.jobs.PutPending(ctx, record); err != nil {
			// The ledger is advisory; the queue is the source of truth.
			p.logger.Error("failed to record pending call job", "job_id", job.JobID, "error", err)
		}
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("dispatch: failed to enqueue call job: %w", err)
	}

	p.logger.Debug("call job enqueued", "job_id", job.JobID, "referral_id", job.ReferralID)
	return nil
}

var _ referrals.CallDispatcher = (*Publisher)(nil)
