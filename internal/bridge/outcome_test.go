package bridge

import "testing"

func TestLenientExtractorProseWrapped(t *testing.T) {
	text := `Perfect, you're all set. {"Rescheduled": true, "name": "Parth Joshi", "scheduled_date": "2026-02-07 11:00:00+00:00"} We'll see you then.`

	outcome, ok := LenientExtractor{}.Extract(text)
	if !ok {
		t.Fatal("expected outcome")
	}
	if !outcome.Rescheduled {
		t.Fatal("expected rescheduled true")
	}
	if outcome.PatientName != "Parth Joshi" {
		t.Fatalf("unexpected name: %q", outcome.PatientName)
	}
	if outcome.ScheduledDate != "2026-02-07 11:00:00+00:00" {
		t.Fatalf("unexpected date: %q", outcome.ScheduledDate)
	}
	if !outcome.Complete() {
		t.Fatal("expected complete outcome")
	}
}

func TestLenientExtractorDeclined(t *testing.T) {
	outcome, ok := LenientExtractor{}.Extract(`I understand. {"Rescheduled": false, "name": "Dana Cruz"}`)
	if !ok {
		t.Fatal("expected outcome")
	}
	if outcome.Rescheduled {
		t.Fatal("expected rescheduled false")
	}
	if outcome.PatientName != "Dana Cruz" {
		t.Fatalf("unexpected name: %q", outcome.PatientName)
	}
}

func TestLenientExtractorIgnoresOrdinarySpeech(t *testing.T) {
	for _, text := range []string{
		"Hello, this is the nurse line calling about your appointment.",
		"Your name is on our list.",
		"",
	} {
		if _, ok := (LenientExtractor{}).Extract(text); ok {
			t.Fatalf("expected no outcome for %q", text)
		}
	}
}

func TestLenientExtractorCaseInsensitiveMarker(t *testing.T) {
	outcome, ok := LenientExtractor{}.Extract(`{"rescheduled": TRUE, "name": "Parth Joshi"}`)
	if !ok {
		t.Fatal("expected outcome despite marker casing")
	}
	if !outcome.Rescheduled {
		t.Fatal("expected rescheduled true")
	}
}

func TestLenientExtractorIncomplete(t *testing.T) {
	outcome, ok := LenientExtractor{}.Extract(`{"Rescheduled": true, "name": "Parth Joshi"}`)
	if !ok {
		t.Fatal("expected outcome")
	}
	if outcome.Complete() {
		t.Fatal("outcome without a date must not be complete")
	}
}

func TestStrictExtractorPureJSON(t *testing.T) {
	outcome, ok := StrictExtractor{}.Extract(`{"Rescheduled": true, "name": "Parth Joshi", "scheduled_date": "2026-02-07 11:00:00+00:00"}`)
	if !ok {
		t.Fatal("expected outcome")
	}
	if !outcome.Rescheduled || !outcome.Complete() {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestStrictExtractorRejectsProse(t *testing.T) {
	if _, ok := (StrictExtractor{}).Extract(`Great! {"Rescheduled": true}`); ok {
		t.Fatal("strict extractor must reject prose wrapping")
	}
}

func TestStrictExtractorRejectsJSONWithoutMarker(t *testing.T) {
	if _, ok := (StrictExtractor{}).Extract(`{"name": "Parth Joshi"}`); ok {
		t.Fatal("object without the Rescheduled marker is ordinary speech")
	}
}

func TestStrictExtractorDeclined(t *testing.T) {
	outcome, ok := StrictExtractor{}.Extract(`{"Rescheduled": false, "name": "Dana Cruz"}`)
	if !ok {
		t.Fatal("expected outcome")
	}
	if outcome.Rescheduled {
		t.Fatal("expected rescheduled false")
	}
}

func TestNewExtractor(t *testing.T) {
	if _, ok := NewExtractor("strict").(StrictExtractor); !ok {
		t.Fatal("expected strict extractor")
	}
	if _, ok := NewExtractor("lenient").(LenientExtractor); !ok {
		t.Fatal("expected lenient extractor")
	}
	if _, ok := NewExtractor("").(LenientExtractor); !ok {
		t.Fatal("expected lenient fallback for empty strategy")
	}
	if _, ok := NewExtractor("whatever").(LenientExtractor); !ok {
		t.Fatal("expected lenient fallback for unknown strategy")
	}
}

func TestOutcomeAsResult(t *testing.T) {
	full := Outcome{Rescheduled: true, PatientName: "Parth Joshi", ScheduledDate: "2026-02-07 11:00:00+00:00"}
	result := full.AsResult()
	if result["Rescheduled"] != "true" || result["name"] != "Parth Joshi" || result["scheduled_date"] != "2026-02-07 11:00:00+00:00" {
		t.Fatalf("unexpected result map: %v", result)
	}

	bare := Outcome{Rescheduled: false}
	result = bare.AsResult()
	if result["Rescheduled"] != "false" {
		t.Fatalf("unexpected result map: %v", result)
	}
	if _, present := result["name"]; present {
		t.Fatal("empty name must be omitted")
	}
	if _, present := result["scheduled_date"]; present {
		t.Fatal("empty date must be omitted")
	}
}
