package referrals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carewire/nursecall-platform/pkg/logging"
)

type fakeDispatcher struct {
	queued []string
	err    error
}

func (d *fakeDispatcher) EnqueueRescheduleCall(ctx context.Context, ref *Referral) error {
	if d.err != nil {
		return d.err
	}
	d.queued = append(d.queued, ref.ID)
	return nil
}

func newTestRouter(repo Repository, dispatcher CallDispatcher) http.Handler {
	h := NewHandler(repo, dispatcher, logging.Default())
	r := chi.NewRouter()
	r.Get("/referrals", h.List)
	r.Post("/referrals", h.Create)
	r.Get("/referrals/overdue/list", h.Overdue)
	r.Get("/referrals/{referralID}", h.Get)
	r.Patch("/referrals/{referralID}", h.Update)
	r.Delete("/referrals/{referralID}", h.Cancel)
	r.Post("/referrals/{referralID}/schedule", h.Schedule)
	r.Post("/referrals/{referralID}/reschedule", h.Reschedule)
	r.Post("/referrals/{referralID}/mark-missed", h.MarkMissed)
	r.Post("/referrals/{referralID}/mark-attended", h.MarkAttended)
	return r
}

func TestCreateReferralEndpoint(t *testing.T) {
	repo := NewInMemoryRepository()
	router := newTestRouter(repo, nil)

	body, _ := json.Marshal(CreateReferralRequest{
		PatientName:    "Parth Joshi",
		PatientPhone:   "+15551234567",
		SpecialistType: "cardiology",
		IsHighRisk:     true,
	})
	req := httptest.NewRequest(http.MethodPost, "/referrals", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var ref Referral
	if err := json.NewDecoder(w.Body).Decode(&ref); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if ref.Status != StatusPending || ref.SpecialistType != "CARDIOLOGY" {
		t.Errorf("unexpected referral: %+v", ref)
	}
}

func TestCreateReferralEndpointRejectsInvalid(t *testing.T) {
	router := newTestRouter(NewInMemoryRepository(), nil)

	req := httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader(`{"patient_name":"Jane"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/referrals", strings.NewReader("{"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestGetReferralNotFound(t *testing.T) {
	router := newTestRouter(NewInMemoryRepository(), nil)

	req := httptest.NewRequest(http.MethodGet, "/referrals/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestScheduleEndpointConflict(t *testing.T) {
	repo := NewInMemoryRepository()
	router := newTestRouter(repo, nil)

	ref := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})

	body := `{"scheduled_date":"2026-02-07T11:00:00Z","notes":"prefers mornings"}`
	req := httptest.NewRequest(http.MethodPost, "/referrals/"+ref.ID+"/schedule", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Booking an already-scheduled referral conflicts.
	req = httptest.NewRequest(http.MethodPost, "/referrals/"+ref.ID+"/schedule", strings.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestScheduleEndpointRequiresDate(t *testing.T) {
	repo := NewInMemoryRepository()
	router := newTestRouter(repo, nil)

	ref := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})

	req := httptest.NewRequest(http.MethodPost, "/referrals/"+ref.ID+"/schedule", strings.NewReader(`{"notes":"no date"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMarkMissedQueuesCall(t *testing.T) {
	repo := NewInMemoryRepository()
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(repo, dispatcher)

	ref := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})

	req := httptest.NewRequest(http.MethodPost, "/referrals/"+ref.ID+"/mark-missed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(dispatcher.queued) != 1 || dispatcher.queued[0] != ref.ID {
		t.Errorf("expected call queued for %s, got %v", ref.ID, dispatcher.queued)
	}

	got, _ := repo.GetByID(context.Background(), ref.ID)
	if got.Status != StatusMissed {
		t.Errorf("expected MISSED, got %s", got.Status)
	}
}

func TestMarkMissedSurvivesQueueFailure(t *testing.T) {
	repo := NewInMemoryRepository()
	dispatcher := &fakeDispatcher{err: errors.New("sqs unreachable")}
	router := newTestRouter(repo, dispatcher)

	ref := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})

	req := httptest.NewRequest(http.MethodPost, "/referrals/"+ref.ID+"/mark-missed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The status write is the source of truth; a queue outage must not 500.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite queue failure, got %d", w.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	repo := NewInMemoryRepository()
	router := newTestRouter(repo, nil)

	ref := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})

	req := httptest.NewRequest(http.MethodDelete, "/referrals/"+ref.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/referrals/ghost", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListEndpointFilters(t *testing.T) {
	repo := NewInMemoryRepository()
	router := newTestRouter(repo, nil)

	missed := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Jane Doe",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})
	if _, err := repo.MarkMissed(context.Background(), missed.ID); err != nil {
		t.Fatalf("mark missed: %v", err)
	}
	mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "John Smith",
		PatientPhone:   "+1666",
		SpecialistType: "ENT",
	})

	req := httptest.NewRequest(http.MethodGet, "/referrals?status=MISSED", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ListReferralsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Referrals[0].ID != missed.ID {
		t.Errorf("unexpected list response: %+v", resp)
	}
}

func TestOverdueEndpointThreshold(t *testing.T) {
	repo := NewInMemoryRepository()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	router := newTestRouter(repo, nil)

	stale := mustCreate(t, repo, &CreateReferralRequest{
		PatientName:    "Stale",
		PatientPhone:   "+1555",
		SpecialistType: "ENT",
	})
	repo.referrals[stale.ID].ReferralDate = now.AddDate(0, 0, -10)

	// Default threshold of 14 days does not catch a 10 day old referral.
	req := httptest.NewRequest(http.MethodGet, "/referrals/overdue/list", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp OverdueResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 0 || resp.DaysThreshold != 14 {
		t.Fatalf("unexpected default response: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/referrals/overdue/list?days_threshold=7", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp = OverdueResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.DaysThreshold != 7 {
		t.Fatalf("unexpected threshold response: %+v", resp)
	}
}
