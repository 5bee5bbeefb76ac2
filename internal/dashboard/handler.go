package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/carewire/nursecall-platform/internal/calls"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

const sessionDurationMetric = "nursecall_bridge_session_duration_seconds"

// ReferralStats is the slice of the referrals repository the dashboard reads.
type ReferralStats interface {
	Stats(ctx context.Context) (*referrals.Stats, error)
}

// OpenFlagCounter counts flags awaiting nurse attention.
type OpenFlagCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

// RecentCalls lists the newest call logs.
type RecentCalls interface {
	ListRecent(ctx context.Context, limit int) ([]*calls.CallLog, error)
}

// SessionLatencySnapshot summarizes bridge session durations from the
// process metrics registry.
type SessionLatencySnapshot struct {
	Total   int64                   `json:"total"`
	P90Ms   float64                 `json:"p90_ms"`
	P95Ms   float64                 `json:"p95_ms"`
	Buckets []SessionDurationBucket `json:"buckets"`
}

type SessionDurationBucket struct {
	LeSeconds float64 `json:"le_seconds"`
	Label     string  `json:"label,omitempty"`
	Count     int64   `json:"count"`
}

// Overview is the nurse dashboard payload.
type Overview struct {
	GeneratedAt     string                 `json:"generated_at"`
	Referrals       *referrals.Stats       `json:"referrals"`
	OpenFlags       int                    `json:"open_flags"`
	RecentCalls     []*calls.CallLog       `json:"recent_calls"`
	SessionDuration SessionLatencySnapshot `json:"session_duration"`
}

// Handler serves the nurse dashboard overview.
type Handler struct {
	referrals ReferralStats
	flags     OpenFlagCounter
	calls     RecentCalls
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
}

type HandlerConfig struct {
	Referrals ReferralStats
	Flags     OpenFlagCounter
	Calls     RecentCalls
	Gatherer  prometheus.Gatherer
	Logger    *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Referrals == nil {
		panic("dashboard: referral stats source cannot be nil")
	}
	if cfg.Flags == nil {
		panic("dashboard: flag counter cannot be nil")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		referrals: cfg.Referrals,
		flags:     cfg.Flags,
		calls:     cfg.Calls,
		gatherer:  cfg.Gatherer,
		logger:    cfg.Logger,
	}
}

// GetOverview returns the aggregated dashboard payload.
// GET /api/dashboard
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.referrals.Stats(ctx)
	if err != nil {
		h.logger.Error("dashboard referral stats failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	openFlags, err := h.flags.CountOpen(ctx)
	if err != nil {
		h.logger.Error("dashboard flag count failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	var recent []*calls.CallLog
	if h.calls != nil {
		recent, err = h.calls.ListRecent(ctx, 10)
		if err != nil {
			// Degraded is better than down for an overview page.
			h.logger.Error("dashboard recent calls failed", "error", err)
			recent = nil
		}
	}
	if recent == nil {
		recent = []*calls.CallLog{}
	}

	resp := Overview{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		Referrals:       stats,
		OpenFlags:       openFlags,
		RecentCalls:     recent,
		SessionDuration: snapshotSessionDuration(h.gatherer),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func snapshotSessionDuration(gatherer prometheus.Gatherer) SessionLatencySnapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return SessionLatencySnapshot{}
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == sessionDurationMetric {
			family = mf
			break
		}
	}
	if family == nil {
		return SessionLatencySnapshot{}
	}

	// Aggregate histograms across termination policies.
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64

	for _, metric := range family.Metric {
		if metric == nil {
			continue
		}
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		sampleCount += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b == nil {
				continue
			}
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return SessionLatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	buckets := make([]SessionDurationBucket, 0, len(uppers))
	var prev uint64
	var lastFiniteUpper float64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		if math.IsInf(upper, 1) {
			overflow := int64(0)
			if cum >= prev {
				overflow = int64(cum - prev)
			} else {
				overflow = int64(cum)
			}
			if overflow > 0 {
				buckets = append(buckets, SessionDurationBucket{
					LeSeconds: lastFiniteUpper,
					Label:     fmt.Sprintf(">%s", formatSeconds(lastFiniteUpper)),
					Count:     overflow,
				})
			}
			prev = cum
			continue
		}

		lastFiniteUpper = upper
		count := int64(0)
		if cum >= prev {
			count = int64(cum - prev)
		} else {
			count = int64(cum)
		}
		buckets = append(buckets, SessionDurationBucket{
			LeSeconds: upper,
			Count:     count,
		})
		prev = cum
	}

	p90 := histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper)
	p95 := histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper)

	return SessionLatencySnapshot{
		Total:   int64(sampleCount),
		P90Ms:   p90 * 1000.0,
		P95Ms:   p95 * 1000.0,
		Buckets: buckets,
	}
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	if q >= 1 {
		for i := len(uppers) - 1; i >= 0; i-- {
			if !math.IsInf(uppers[i], 1) {
				return uppers[i]
			}
		}
		return 0
	}

	target := q * float64(total)
	var prevUpper float64
	var prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}

		// If we can't interpolate, return the bucket upper bound.
		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}

		fraction := (target - prevCum) / bucketCount
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}

		lower := prevUpper
		return lower + fraction*(upper-lower)
	}

	return uppers[len(uppers)-1]
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 1 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	if seconds < 10 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.0fs", seconds)
}
