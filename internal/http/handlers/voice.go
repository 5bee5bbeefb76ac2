package handlers

import (
	"net/http"

	"github.com/carewire/nursecall-platform/internal/telephony"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// VoiceHandler answers the telephony provider's answer webhook. The provider
// fetches this URL once the outbound call connects; the returned TwiML moves
// the call onto the media-stream websocket.
type VoiceHandler struct {
	streamURL string
	logger    *logging.Logger
}

// NewVoiceHandler builds the answer-webhook handler. publicBaseURL is the
// externally reachable base of this service.
func NewVoiceHandler(publicBaseURL string, logger *logging.Logger) *VoiceHandler {
	if publicBaseURL == "" {
		panic("handlers: public base url required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceHandler{
		streamURL: telephony.StreamURLFromBase(publicBaseURL),
		logger:    logger,
	}
}

// HandleAnswer serves POST /voice/answer. Twilio posts form-encoded call
// details; the response body is TwiML, always 200. A non-2xx here would make
// the provider play its failure message to the patient.
func (h *VoiceHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	h.logger.Info("answer webhook hit, connecting media stream",
		"call_sid", callSID,
		"stream_url", h.streamURL,
	)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(telephony.ConnectStreamTwiML(h.streamURL)))
}
