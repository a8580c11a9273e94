package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay/internal/config"
)

type fixedEncoder struct{}

func (fixedEncoder) Encode(context.Context, []byte) ([]float32, error) {
	return []float32{0.3, 0.5, 0.8}, nil
}

func testConfig() config.Config {
	return config.Config{
		AppName:            "gestpay-test",
		Env:                "development",
		IdempotencyTTL:     time.Minute,
		JWTSecret:          "access-secret",
		RefreshSecret:      "refresh-secret",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    time.Hour,
		Currency:           "NGN",
		MaxDistanceKM:      0.5,
		FaceMatchThreshold: 0.9,
	}
}

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	require.NoError(t, Setup(app, Deps{
		Cfg:     testConfig(),
		Cache:   cache,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Encoder: fixedEncoder{},
	}))
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func jsonReq(method, path, token, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartReq(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("face_image", "face.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func login(t *testing.T, app *fiber.App, phone, pin string) string {
	t.Helper()
	status, body := do(t, app, jsonReq(http.MethodPost, "/api/v1/auth/login", "", `{"phone":"`+phone+`","pin":"`+pin+`"}`))
	require.Equal(t, http.StatusOK, status)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthAndPing(t *testing.T) {
	app := newApp(t)

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, status)
	deps := body["status"].(map[string]any)
	assert.Equal(t, "memory", deps["postgres"])
	assert.Equal(t, "ok", deps["redis"])

	status, body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["request_id"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newApp(t)
	for _, path := range []string{"/api/v1/me", "/api/v1/wallet", "/api/v1/dashboard", "/api/v1/notifications", "/api/v1/transactions"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestFacePayFlow(t *testing.T) {
	app := newApp(t)

	status, _ := do(t, app, multipartReq(t, "/api/v1/identity/register", map[string]string{
		"first_name": "Ada", "last_name": "Obi", "email": "ada@example.com",
		"phone": "08030000001", "pin": "1234", "latitude": "6.5244", "longitude": "3.3792",
	}))
	require.Equal(t, http.StatusCreated, status)
	status, _ = do(t, app, jsonReq(http.MethodPost, "/api/v1/identity/register", "",
		`{"first_name":"Suya","last_name":"Spot","phone":"08030000002","pin":"5678","role":"merchant"}`))
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, app, jsonReq(http.MethodPost, "/api/v1/identity/register", "", `{"phone":"08030000002","pin":"5678"}`))
	assert.Equal(t, http.StatusConflict, status)

	payer := login(t, app, "08030000001", "1234")

	fund := jsonReq(http.MethodPost, "/api/v1/wallet/fund/card", payer,
		`{"card_number":"4242424242424242","expiry":"12/30","cvv":"123","amount":"100","client_tx_id":"top-up-1"}`)
	fund.Header.Set("Idempotency-Key", "fund-1")
	status, body := do(t, app, fund)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "100.00", body["wallet_balance"])

	// Always-confirm is on by default, so the payment waits for the payer.
	status, body = do(t, app, multipartReq(t, "/api/v1/biometric/face-pay", map[string]string{
		"phone_number": "08030000002", "amount": "30", "description": "suya",
		"latitude": "6.5244", "longitude": "3.3792",
	}))
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, true, body["verification_required"])
	reference, _ := body["reference"].(string)
	require.True(t, strings.HasPrefix(reference, "TXN-"))

	status, body = do(t, app, jsonReq(http.MethodPost, "/api/v1/biometric/approve-payment", payer,
		`{"reference":"`+reference+`","method":"pin"}`))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = do(t, app, jsonReq(http.MethodGet, "/api/v1/wallet", payer, ""))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "70.00", body["wallet"].(map[string]any)["balance"])

	status, body = do(t, app, jsonReq(http.MethodGet, "/api/v1/dashboard", payer, ""))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["transactions_no"])

	merchant := login(t, app, "08030000002", "5678")
	status, body = do(t, app, jsonReq(http.MethodGet, "/api/v1/notifications", merchant, ""))
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"])

	status, _ = do(t, app, jsonReq(http.MethodPost, "/api/v1/biometric/approve-payment", merchant,
		`{"reference":"`+reference+`"}`))
	assert.Equal(t, http.StatusOK, status, "a second approval reports the payment as already settled")
}

func TestIdempotentTransferReplays(t *testing.T) {
	app := newApp(t)
	for _, body := range []string{
		`{"first_name":"Ada","phone":"08030000001","pin":"1234"}`,
		`{"first_name":"Bola","phone":"08030000002","pin":"5678"}`,
	} {
		status, _ := do(t, app, jsonReq(http.MethodPost, "/api/v1/identity/register", "", body))
		require.Equal(t, http.StatusCreated, status)
	}
	payer := login(t, app, "08030000001", "1234")
	status, _ := do(t, app, jsonReq(http.MethodPost, "/api/v1/wallet/fund/card", payer,
		`{"card_number":"4242424242424242","amount":"50"}`))
	require.Equal(t, http.StatusCreated, status)

	send := func() *http.Response {
		req := jsonReq(http.MethodPost, "/api/v1/transfers", payer, `{"phone_number":"08030000002","amount":"20"}`)
		req.Header.Set("Idempotency-Key", "transfer-1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}
	first := send()
	require.Equal(t, http.StatusOK, first.StatusCode)
	second := send()
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))

	_, body := do(t, app, jsonReq(http.MethodGet, "/api/v1/wallet", payer, ""))
	assert.Equal(t, "30.00", body["wallet"].(map[string]any)["balance"])
}

func TestSetupRequiresStoresOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	err := Setup(fiber.New(), Deps{Cfg: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")
}
