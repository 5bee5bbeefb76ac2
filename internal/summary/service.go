package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

const systemPrompt = `You summarize phone calls between an automated scheduling assistant and a patient who missed a specialist referral appointment. Write two or three plain sentences for the nurse reviewing the call: what the patient said, whether a new appointment was agreed, and anything that needs human follow-up. Do not invent details that are not in the transcript.`

// SummaryWriter persists a generated summary onto the call log.
type SummaryWriter interface {
	SetSummary(ctx context.Context, providerSID, summary string) error
}

// Service generates short nurse-readable call summaries when the voice-agent
// provider does not supply one.
type Service struct {
	llm     LLMClient
	writer  SummaryWriter
	modelID string
	logger  *logging.Logger
}

type ServiceParams struct {
	LLM     LLMClient
	Writer  SummaryWriter
	ModelID string
	Logger  *logging.Logger
}

func NewService(p ServiceParams) *Service {
	if p.LLM == nil {
		panic("summary: llm client cannot be nil")
	}
	if p.Writer == nil {
		panic("summary: summary writer cannot be nil")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &Service{
		llm:     p.LLM,
		writer:  p.Writer,
		modelID: p.ModelID,
		logger:  p.Logger,
	}
}

// SummarizeAndStore generates a summary for the transcript and writes it to
// the call log. Transcript lines arrive pre-formatted as "role: text".
func (s *Service) SummarizeAndStore(ctx context.Context, callSID string, transcript []string) error {
	text := strings.TrimSpace(strings.Join(transcript, "\n"))
	if text == "" {
		return errors.New("summary: empty transcript")
	}

	resp, err := s.llm.Complete(ctx, LLMRequest{
		Model:       s.modelID,
		System:      []string{systemPrompt},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "Transcript:\n\n" + text}},
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("summary: completion failed: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return errors.New("summary: model returned empty summary")
	}

	if err := s.writer.SetSummary(ctx, callSID, resp.Text); err != nil {
		return fmt.Errorf("summary: store failed: %w", err)
	}
	s.logger.Info("call summary stored",
		"call_sid", callSID,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return nil
}
