package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/gascredit/internal/config"
	"github.com/congo-pay/gascredit/internal/costmodel"
	"github.com/congo-pay/gascredit/internal/logging"
)

type testClient struct {
	t   *testing.T
	app *fiber.App
	seq int
}

func (tc *testClient) do(method, path, token, body string) (int, map[string]any) {
	tc.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if method == fiber.MethodPost {
		tc.seq++
		req.Header.Set("Idempotency-Key", fmt.Sprintf("key-%d", tc.seq))
	}
	resp, err := tc.app.Test(req)
	if err != nil {
		tc.t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		tc.t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if strings.HasPrefix(string(raw), "{") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			tc.t.Fatalf("decode body %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func setupRoutes(t *testing.T, backend string) (*testClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("owner-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	cfg := config.Config{
		AppEnv:          "test",
		LedgerBackend:   backend,
		OwnerAccount:    "sale",
		OwnerKeyHash:    string(hash),
		TokenSecret:     "secret",
		TokenTTL:        time.Minute,
		IdempotencyTTL:  time.Minute,
		RedeemRateLimit: 2,
		NotifyChannel:   "credit:events",
		Credit: costmodel.Params{
			UnitMintCost:         5,
			UnitRedeemCost:       2,
			UnitRebate:           3,
			RebateCapNumerator:   1,
			RebateCapDenominator: 2,
		},
	}

	app := fiber.New()
	err = Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard(), Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return &testClient{t: t, app: app}, mr
}

func runCreditFlow(t *testing.T, backend string) {
	tc, _ := setupRoutes(t, backend)

	status, body := tc.do(fiber.MethodPost, "/api/v1/auth/owner/token", "", `{"account":"sale","key":"wrong"}`)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", status)
	}
	status, body = tc.do(fiber.MethodPost, "/api/v1/auth/owner/token", "", `{"account":"sale","key":"owner-key"}`)
	if status != fiber.StatusOK {
		t.Fatalf("owner token: status %d", status)
	}
	ownerTok, _ := body["access_token"].(string)

	status, body = tc.do(fiber.MethodPost, "/api/v1/auth/holders/alice/token", ownerTok, "")
	if status != fiber.StatusCreated {
		t.Fatalf("holder token: status %d", status)
	}
	aliceTok, _ := body["access_token"].(string)

	if status, _ := tc.do(fiber.MethodPost, "/api/v1/auth/holders/bob/token", aliceTok, ""); status != fiber.StatusForbidden {
		t.Fatalf("holder must not mint tokens, got %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/credits/caps", aliceTok, `{"account":"alice","cap":100}`); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for holder set cap, got %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/credits/caps", ownerTok, `{"account":"alice","cap":100}`); status != fiber.StatusOK {
		t.Fatalf("set cap: status %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/hooks/purchase", ownerTok, `{"account":"alice","paid_amount":500}`); status != fiber.StatusCreated {
		t.Fatalf("purchase: status %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/hooks/purchase", ownerTok, `{"account":"alice","paid_amount":5}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected cap rejection, got %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/credits/redeem", aliceTok, `{"amount":5,"payment":10}`); status != fiber.StatusConflict {
		t.Fatalf("expected phase conflict, got %d", status)
	}
	if status, _ := tc.do(fiber.MethodPost, "/api/v1/hooks/finalize", ownerTok, ""); status != fiber.StatusOK {
		t.Fatalf("finalize: status %d", status)
	}
	status, body = tc.do(fiber.MethodPost, "/api/v1/credits/redeem", aliceTok, `{"amount":5,"payment":10}`)
	if status != fiber.StatusOK {
		t.Fatalf("redeem: status %d", status)
	}
	if got, _ := body["total_supply"].(float64); got != 95 {
		t.Fatalf("expected supply 95, got %v", body["total_supply"])
	}

	status, body = tc.do(fiber.MethodGet, "/api/v1/credits/quote/optimal?operation_cost=200&account=alice", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("quote: status %d", status)
	}
	if got, _ := body["amount"].(float64); got != 33 {
		t.Fatalf("expected optimal 33, got %v", body["amount"])
	}

	status, body = tc.do(fiber.MethodGet, "/healthz", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("healthz: status %d body %v", status, body)
	}
}

func TestCreditFlowInMemory(t *testing.T) {
	runCreditFlow(t, config.BackendMemory)
}

func TestCreditFlowRedis(t *testing.T) {
	runCreditFlow(t, config.BackendRedis)
}

func TestRedeemRateLimited(t *testing.T) {
	tc, _ := setupRoutes(t, config.BackendMemory)
	_, body := tc.do(fiber.MethodPost, "/api/v1/auth/owner/token", "", `{"account":"sale","key":"owner-key"}`)
	ownerTok, _ := body["access_token"].(string)
	_, body = tc.do(fiber.MethodPost, "/api/v1/auth/holders/alice/token", ownerTok, "")
	aliceTok, _ := body["access_token"].(string)

	var last int
	for i := 0; i < 3; i++ {
		last, _ = tc.do(fiber.MethodPost, "/api/v1/credits/redeem", aliceTok, `{"amount":1,"payment":2}`)
	}
	if last != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", last)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tc, _ := setupRoutes(t, config.BackendMemory)
	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := tc.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "gascredit_ledger_total_supply") {
		t.Fatalf("expected credit metrics in exposition, got %s", raw)
	}
}
