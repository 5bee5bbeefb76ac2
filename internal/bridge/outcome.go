package bridge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Outcome is the structured scheduling decision parsed out of one agent
// utterance.
type Outcome struct {
	Rescheduled   bool
	PatientName   string
	ScheduledDate string
}

// Complete reports whether the reschedule branch has the fields it needs.
// A reschedule is never written with an unknown name or date.
func (o Outcome) Complete() bool {
	return o.PatientName != "" && o.ScheduledDate != ""
}

// AsResult renders the outcome in the form persisted onto the call context.
func (o Outcome) AsResult() map[string]string {
	result := map[string]string{
		"Rescheduled": strconv.FormatBool(o.Rescheduled),
	}
	if o.PatientName != "" {
		result["name"] = o.PatientName
	}
	if o.ScheduledDate != "" {
		result["scheduled_date"] = o.ScheduledDate
	}
	return result
}

// Extractor decides whether an agent utterance encodes a scheduling outcome.
// Ordinary conversational speech returns ok=false, never an error.
type Extractor interface {
	Extract(text string) (Outcome, bool)
}

// NewExtractor selects the extraction strategy by name. Unknown names fall
// back to the lenient extractor, which is the safe default when the agent
// speaks prose around the structured payload.
func NewExtractor(strategy string) Extractor {
	if strings.EqualFold(strings.TrimSpace(strategy), "strict") {
		return StrictExtractor{}
	}
	return LenientExtractor{}
}

var (
	rescheduledPattern = regexp.MustCompile(`(?i)"Rescheduled"\s*:\s*(true|false)`)
	namePattern        = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
	datePattern        = regexp.MustCompile(`"scheduled_date"\s*:\s*"([^"]+)"`)
)

// LenientExtractor scans the utterance for embedded field markers, tolerating
// the payload being wrapped in free-form spoken language. The Rescheduled
// marker is the trigger; without it the utterance is ordinary speech.
type LenientExtractor struct{}

func (LenientExtractor) Extract(text string) (Outcome, bool) {
	match := rescheduledPattern.FindStringSubmatch(text)
	if match == nil {
		return Outcome{}, false
	}

	outcome := Outcome{
		Rescheduled: strings.EqualFold(match[1], "true"),
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		outcome.PatientName = strings.TrimSpace(m[1])
	}
	if m := datePattern.FindStringSubmatch(text); m != nil {
		outcome.ScheduledDate = strings.TrimSpace(m[1])
	}
	return outcome, true
}

// StrictExtractor treats the whole utterance as a JSON object. A parse
// failure, or an object without the Rescheduled marker, is ordinary speech.
type StrictExtractor struct{}

func (StrictExtractor) Extract(text string) (Outcome, bool) {
	var payload struct {
		Rescheduled   *bool  `json:"Rescheduled"`
		Name          string `json:"name"`
		ScheduledDate string `json:"scheduled_date"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return Outcome{}, false
	}
	if payload.Rescheduled == nil {
		return Outcome{}, false
	}
	return Outcome{
		Rescheduled:   *payload.Rescheduled,
		PatientName:   strings.TrimSpace(payload.Name),
		ScheduledDate: strings.TrimSpace(payload.ScheduledDate),
	}, true
}
