package factory

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/gascredit/internal/auth"
	"github.com/congo-pay/gascredit/internal/middleware"
)

func setupHandlerApp(t *testing.T) (*fiber.App, *auth.Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	tokens := auth.NewService(owner, "", "secret", time.Minute)
	h := NewHandler(svc)

	app := fiber.New()
	authn := middleware.CallerAuth(tokens)
	app.Post("/hooks/purchase", authn, h.Purchase)
	app.Post("/hooks/finalize", authn, h.Finalize)
	app.Post("/caps", authn, h.SetCap)
	app.Post("/redeem", authn, h.Redeem)
	app.Get("/supply", h.Supply)
	app.Get("/accounts/:account", h.Account)
	app.Get("/quote/redeem", h.RedeemQuote)
	app.Get("/quote/optimal", h.OptimalQuote)
	return app, tokens
}

func call(t *testing.T, app *fiber.App, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(string(raw), "{") {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestHandlerLifecycle(t *testing.T) {
	app, tokens := setupHandlerApp(t)
	ownerTok, err := tokens.IssueHolder(owner)
	require.NoError(t, err)
	aliceTok, err := tokens.IssueHolder("alice")
	require.NoError(t, err)

	status, _ := call(t, app, fiber.MethodPost, "/caps", aliceTok.AccessToken, `{"account":"alice","cap":10}`)
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = call(t, app, fiber.MethodPost, "/caps", ownerTok.AccessToken, `{"account":"alice","cap":10}`)
	require.Equal(t, fiber.StatusOK, status)

	status, body := call(t, app, fiber.MethodPost, "/hooks/purchase", ownerTok.AccessToken, `{"account":"alice","paid_amount":50}`)
	require.Equal(t, fiber.StatusCreated, status)
	require.EqualValues(t, 10, body["balance"])

	status, _ = call(t, app, fiber.MethodPost, "/hooks/purchase", ownerTok.AccessToken, `{"account":"alice","paid_amount":5}`)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = call(t, app, fiber.MethodPost, "/redeem", aliceTok.AccessToken, `{"amount":5,"payment":10}`)
	require.Equal(t, fiber.StatusConflict, status)

	status, body = call(t, app, fiber.MethodPost, "/hooks/finalize", ownerTok.AccessToken, "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "finalized", body["phase"])

	status, _ = call(t, app, fiber.MethodPost, "/hooks/finalize", ownerTok.AccessToken, "")
	require.Equal(t, fiber.StatusConflict, status)

	status, _ = call(t, app, fiber.MethodPost, "/redeem", aliceTok.AccessToken, `{"amount":5,"payment":9}`)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body = call(t, app, fiber.MethodPost, "/redeem", aliceTok.AccessToken, `{"amount":5,"payment":10}`)
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 5, body["total_supply"])

	status, body = call(t, app, fiber.MethodGet, "/accounts/alice", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 5, body["balance"])

	status, body = call(t, app, fiber.MethodGet, "/supply", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 5, body["total_supply"])
}

func TestHandlerQuotes(t *testing.T) {
	app, _ := setupHandlerApp(t)

	status, body := call(t, app, fiber.MethodGet, "/quote/redeem?amount=7", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 14, body["redeem_cost"])

	status, body = call(t, app, fiber.MethodGet, "/quote/optimal?operation_cost=200", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 33, body["amount"])
	require.EqualValues(t, 34, body["saturation_amount"])
	require.NotContains(t, body, "balance")

	status, body = call(t, app, fiber.MethodGet, "/quote/optimal?operation_cost=200&account=nobody", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 0, body["amount"])
	require.Equal(t, true, body["clamped"])

	status, _ = call(t, app, fiber.MethodGet, "/quote/optimal?operation_cost=-1", "", "")
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = call(t, app, fiber.MethodGet, "/quote/redeem", "", "")
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandlerRequiresToken(t *testing.T) {
	app, _ := setupHandlerApp(t)
	status, _ := call(t, app, fiber.MethodPost, "/redeem", "", `{"amount":1,"payment":2}`)
	require.Equal(t, fiber.StatusUnauthorized, status)
}
