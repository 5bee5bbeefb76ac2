package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// CallJob is one queued outbound-call request.
type CallJob struct {
	JobID            string            `json:"job_id"`
	ReferralID       string            `json:"referral_id"`
	PhoneNumber      string            `json:"phone_number"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

func encodeJob(job CallJob) (CallJob, string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return CallJob{}, "", fmt.Errorf("dispatch: failed to encode job: %w", err)
	}

	return job, string(body), nil
}
