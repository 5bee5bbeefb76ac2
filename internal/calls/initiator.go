package calls

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/internal/telephony"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// CallPlacer places outbound calls at the telephony provider.
type CallPlacer interface {
	CreateCall(ctx context.Context, req telephony.CallRequest) (string, error)
}

// SlotSource reports booked appointment times for a specialty. Implemented by
// the referrals repository.
type SlotSource interface {
	UnavailableSlots(ctx context.Context, specialistType string) ([]time.Time, error)
}

// InitiatorParams wires the call initiator.
type InitiatorParams struct {
	Placer   CallPlacer
	Slots    SlotSource
	Contexts *bridge.ContextStore
	Repo     Repository
	Live     *LiveStore
	// AnswerURL is fetched by the provider when the line answers; it serves
	// the TwiML that connects the call to the media stream.
	AnswerURL string
	Metrics   *metrics.CallMetrics
	Logger    *logging.Logger
}

// Initiator places outbound calls and seeds the context the bridge needs
// before the media stream connects.
type Initiator struct {
	placer    CallPlacer
	slots     SlotSource
	contexts  *bridge.ContextStore
	repo      Repository
	live      *LiveStore
	answerURL string
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
}

// NewInitiator builds a call initiator. Placer, contexts and answer URL are
// required; slots, repo, live store and metrics may be nil.
func NewInitiator(p InitiatorParams) *Initiator {
	if p.Placer == nil {
		panic("calls: placer cannot be nil")
	}
	if p.Contexts == nil {
		panic("calls: context store cannot be nil")
	}
	if p.AnswerURL == "" {
		panic("calls: answer url required")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &Initiator{
		placer:    p.Placer,
		slots:     p.Slots,
		contexts:  p.Contexts,
		repo:      p.Repo,
		live:      p.Live,
		answerURL: p.AnswerURL,
		metrics:   p.Metrics,
		logger:    p.Logger,
	}
}

// PlaceCall enriches the dynamic variables, places the call, and stores the
// call context under the provider SID. A provider rejection comes back as a
// structured failure, not an error; errors are reserved for bad requests.
func (i *Initiator) PlaceCall(ctx context.Context, req OutboundCallRequest) (*CallResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(req.DynamicVariables)+1)
	for k, v := range req.DynamicVariables {
		vars[k] = v
	}
	i.enrichUnavailableTimes(ctx, vars)

	callSID, err := i.placer.CreateCall(ctx, telephony.CallRequest{
		To:        req.PhoneNumber,
		AnswerURL: i.answerURL,
	})
	if err != nil {
		i.metrics.ObserveCallStarted("rejected")
		i.logger.Error("call placement rejected", "error", err)
		return &CallResult{Success: false, Error: err.Error()}, nil
	}

	// The stream's start frame carries this SID; the context must be in
	// place before the bridge looks it up.
	i.contexts.Put(callSID, vars)

	i.recordPlacement(ctx, callSID, req, vars)
	i.metrics.ObserveCallStarted("placed")
	i.logger.Info("outbound call placed",
		"call_sid", callSID,
		"referral_id", req.ReferralID,
		"has_availability", vars[VarUnavailableTimes] != "",
	)
	return &CallResult{Success: true, CallSID: callSID}, nil
}

// enrichUnavailableTimes looks up booked slots for the requested specialty and
// folds them into the agent's variables. Lookup failures are logged and the
// call proceeds without availability; a missed enrichment must not block the
// patient contact.
func (i *Initiator) enrichUnavailableTimes(ctx context.Context, vars map[string]string) {
	specialty := vars[VarSpecialistType]
	if specialty == "" || i.slots == nil {
		return
	}
	slots, err := i.slots.UnavailableSlots(ctx, specialty)
	if err != nil {
		i.logger.Error("availability lookup failed, placing call without it",
			"specialist_type", specialty,
			"error", err,
		)
		return
	}
	times := make([]string, 0, len(slots))
	for _, t := range slots {
		times = append(times, t.UTC().Format(time.RFC3339))
	}
	data, err := json.Marshal(times)
	if err != nil {
		return
	}
	vars[VarUnavailableTimes] = string(data)
}

// recordPlacement writes the durable call log and the live Redis state. Both
// are fail-open: the call is already ringing, so bookkeeping failures only
// get logged.
func (i *Initiator) recordPlacement(ctx context.Context, callSID string, req OutboundCallRequest, vars map[string]string) {
	now := time.Now().UTC()
	if i.repo != nil {
		_, err := i.repo.Create(ctx, &CallLog{
			ReferralID:      req.ReferralID,
			PatientName:     vars[VarPatientName],
			PatientPhone:    req.PhoneNumber,
			Direction:       DirectionOutbound,
			Status:          StatusPending,
			ProviderCallSID: callSID,
		})
		if err != nil {
			i.logger.Error("call log write failed", "call_sid", callSID, "error", err)
		}
	}
	if i.live != nil {
		err := i.live.SaveState(ctx, &LiveCallState{
			CallSID:        callSID,
			ReferralID:     req.ReferralID,
			PatientName:    vars[VarPatientName],
			PatientPhone:   req.PhoneNumber,
			Status:         LiveStatusDialing,
			StartedAt:      now,
			LastActivityAt: now,
		})
		if err != nil {
			i.logger.Error("live call state write failed", "call_sid", callSID, "error", err)
		}
	}
}
