package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tishop/marketplace-backend/pkg/auth"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubIdempotencyStore struct{}

func (stubIdempotencyStore) Get(context.Context, string) (string, error) { return "", nil }

func (stubIdempotencyStore) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return true, nil
}

func (stubIdempotencyStore) Del(context.Context, ...string) error { return nil }

func (stubIdempotencyStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "tishop", ExpirationMinutes: 5},
		MonCash: config.MonCashConfig{
			ConfirmPageURL: "https://tishop.ht/order-confirmation",
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tishop_router_test_total", Help: "test"}))
	return NewRouter(cfg, logger.Nop(), Dependencies{
		DB:               stubPinger{},
		Redis:            stubPinger{},
		IdempotencyStore: stubIdempotencyStore{},
		Metrics:          reg,
	})
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{ActorID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func do(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(testConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := do(router, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	router := newTestRouter(testConfig())

	resp := do(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "tishop_router_test_total") {
		t.Fatalf("expected registered metric in output, got %s", resp.Body.String())
	}
}

func TestSellerGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())

	resp := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/seller/orders", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestSellerGroupRequiresSellerRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/seller/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	resp := do(router, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/"+uuid.NewString()+"/mark-paid", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSeller))
	req.Header.Set("Idempotency-Key", "k-1")
	resp := do(router, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestSellerGroupPassesAuthWithSellerToken(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/seller/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSeller))
	resp := do(router, req)
	// no settlement service is wired in this router
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from unwired service got %d", resp.Code)
	}
}

func TestWithdrawRequiresIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/seller/payouts/withdraw", strings.NewReader(`{"amount":"100"}`))
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSeller))
	resp := do(router, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", resp.Code)
	}
}

func TestWebhookWithoutServiceAnswersUnavailable(t *testing.T) {
	router := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/moncash", strings.NewReader(`{}`))
	resp := do(router, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestMonCashReturnIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())

	resp := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/payments/moncash/return", nil))
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302 got %d", resp.Code)
	}
	if loc := resp.Header().Get("Location"); !strings.Contains(loc, "error=missing_transaction_params") {
		t.Fatalf("unexpected redirect %q", loc)
	}
}
