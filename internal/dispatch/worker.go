package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// CallPlacer places one outbound call. Implemented by calls.Initiator.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req calls.OutboundCallRequest) (*calls.CallResult, error)
}

// Worker consumes call jobs from the queue and places the calls.
type Worker struct {
	placer CallPlacer
	queue  queueClient
	jobs   JobUpdater
	logger *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(n int) WorkerOption {
	return func(c *workerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithReceiveWait sets the long-poll wait in seconds.
func WithReceiveWait(seconds int) WorkerOption {
	return func(c *workerConfig) {
		if seconds > 0 && seconds <= maxWaitSeconds {
			c.receiveWaitSecs = seconds
		}
	}
}

// WithReceiveBatchSize sets the max messages fetched per receive.
func WithReceiveBatchSize(n int) WorkerOption {
	return func(c *workerConfig) {
		if n > 0 && n <= maxReceiveBatchSize {
			c.receiveBatchSize = n
		}
	}
}

// NewWorker builds a queue consumer. The job updater may be nil when no
// ledger table is configured.
func NewWorker(placer CallPlacer, queue queueClient, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if placer == nil {
		panic("dispatch: call placer cannot be nil")
	}
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		placer: placer,
		queue:  queue,
		jobs:   jobs,
		logger: logger,
		cfg:    cfg,
	}
}

// Start launches the consumer goroutines. They run until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("call worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("call worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive call jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var job CallJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("undecodable call job, dropping", "message_id", msg.ID, "error", err)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	result, err := w.placer.PlaceCall(ctx, calls.OutboundCallRequest{
		PhoneNumber:      job.PhoneNumber,
		ReferralID:       job.ReferralID,
		DynamicVariables: job.DynamicVariables,
	})
	if err != nil {
		w.logger.Error("call placement failed",
			"job_id", job.JobID,
			"referral_id", job.ReferralID,
			"error", err,
		)
		w.markFailed(ctx, job.JobID, err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if !result.Success {
		w.logger.Error("call placement rejected",
			"job_id", job.JobID,
			"referral_id", job.ReferralID,
			"reason", result.Error,
		)
		w.markFailed(ctx, job.JobID, result.Error)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	w.logger.Info("outbound call placed",
		"job_id", job.JobID,
		"referral_id", job.ReferralID,
		"call_sid", result.CallSID,
	)
	if w.jobs != nil {
		if err := w.jobs.MarkCompleted(ctx, job.JobID, result.CallSID); err != nil {
			w.logger.Error("failed to mark job completed", "job_id", job.JobID, "error", err)
		}
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) markFailed(ctx context.Context, jobID, reason string) {
	if w.jobs == nil || jobID == "" {
		return
	}
	if err := w.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		w.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete queue message", "error", err)
	}
}
