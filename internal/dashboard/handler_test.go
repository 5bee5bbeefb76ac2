package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/internal/referrals"
)

type fakeReferralStats struct {
	stats *referrals.Stats
	err   error
}

func (f *fakeReferralStats) Stats(context.Context) (*referrals.Stats, error) {
	return f.stats, f.err
}

type fakeFlagCounter struct {
	count int
	err   error
}

func (f *fakeFlagCounter) CountOpen(context.Context) (int, error) {
	return f.count, f.err
}

type fakeRecentCalls struct {
	logs []*calls.CallLog
	err  error
}

func (f *fakeRecentCalls) ListRecent(_ context.Context, _ int) ([]*calls.CallLog, error) {
	return f.logs, f.err
}

func TestGetOverview(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCallMetrics(reg)
	m.ObserveSessionDuration("fixed-delay", 42)
	m.ObserveSessionDuration("fixed-delay", 90)
	m.ObserveSessionDuration("quiet-poll", 20)

	h := NewHandler(HandlerConfig{
		Referrals: &fakeReferralStats{stats: &referrals.Stats{TotalActive: 12, MissedCount: 3}},
		Flags:     &fakeFlagCounter{count: 4},
		Calls:     &fakeRecentCalls{logs: []*calls.CallLog{{ID: "call-1", PatientName: "Pat"}}},
		Gatherer:  reg,
	})

	rec := httptest.NewRecorder()
	h.GetOverview(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var overview Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.Referrals.TotalActive != 12 {
		t.Errorf("total active = %d", overview.Referrals.TotalActive)
	}
	if overview.OpenFlags != 4 {
		t.Errorf("open flags = %d", overview.OpenFlags)
	}
	if len(overview.RecentCalls) != 1 {
		t.Errorf("recent calls = %d", len(overview.RecentCalls))
	}
	if overview.SessionDuration.Total != 3 {
		t.Errorf("session sample count = %d", overview.SessionDuration.Total)
	}
	if overview.SessionDuration.P95Ms <= 0 {
		t.Errorf("p95 = %v", overview.SessionDuration.P95Ms)
	}
}

func TestGetOverview_StatsFailure(t *testing.T) {
	h := NewHandler(HandlerConfig{
		Referrals: &fakeReferralStats{err: errors.New("db down")},
		Flags:     &fakeFlagCounter{},
		Gatherer:  prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	h.GetOverview(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetOverview_RecentCallsDegrades(t *testing.T) {
	h := NewHandler(HandlerConfig{
		Referrals: &fakeReferralStats{stats: &referrals.Stats{}},
		Flags:     &fakeFlagCounter{count: 1},
		Calls:     &fakeRecentCalls{err: errors.New("db down")},
		Gatherer:  prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	h.GetOverview(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("recent-call failure must not fail the overview, status = %d", rec.Code)
	}

	var overview Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.RecentCalls == nil || len(overview.RecentCalls) != 0 {
		t.Errorf("recent calls should be empty, got %v", overview.RecentCalls)
	}
}

func TestSnapshotSessionDuration_Empty(t *testing.T) {
	snap := snapshotSessionDuration(prometheus.NewRegistry())
	if snap.Total != 0 || len(snap.Buckets) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
