package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/internal/http/handlers"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

const testJWTSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	cfg := &Config{
		Logger:           logger,
		VoiceHandler:     handlers.NewVoiceHandler("https://nursecall.example.com", logger),
		MetricsHandler:   promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		ReferralsHandler: referrals.NewHandler(referrals.NewInMemoryRepository(), nil, logger),
		FlagsHandler:     flags.NewHandler(flags.NewInMemoryRepository(), logger),
		NurseJWTSecret:   testJWTSecret,
	}
	return New(cfg)
}

func nurseToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "nurse-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRouterNurseAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/referrals", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouterNurseAPIWithToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/referrals", nil)
	req.Header.Set("Authorization", "Bearer "+nurseToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"referrals"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRouterFlagsBehindAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/flags/open", nil)
	req.Header.Set("Authorization", "Bearer "+nurseToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterVoiceAnswerIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/voice/answer", strings.NewReader("CallSid=CA100"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Connect><Stream") {
		t.Fatalf("expected TwiML body, got: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "wss://nursecall.example.com/media-stream") {
		t.Fatalf("stream url not derived from base: %s", rr.Body.String())
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
