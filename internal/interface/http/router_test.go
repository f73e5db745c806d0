package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/truthcard/internal/domain/device"
	"github.com/yanqian/truthcard/internal/domain/payment"
	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/session"
	"github.com/yanqian/truthcard/internal/domain/usage"
	"github.com/yanqian/truthcard/internal/infra/blobstore"
	"github.com/yanqian/truthcard/internal/infra/config"
	"github.com/yanqian/truthcard/internal/infra/orderrepo"
	"github.com/yanqian/truthcard/internal/infra/usagestore"
	"github.com/yanqian/truthcard/pkg/logger"
)

const paymentSecret = "rzp_secret"

type stubGateway struct {
	err error
}

func (g *stubGateway) CreateOrder(_ context.Context, req payment.GatewayOrderRequest) (payment.GatewayOrder, error) {
	if g.err != nil {
		return payment.GatewayOrder{}, g.err
	}
	return payment.GatewayOrder{ID: "order_" + req.Receipt, Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

type testEnv struct {
	server   *http.Server
	sessions *session.Service
	storage  *blobstore.Memory
}

func newRouterUnderTest(t *testing.T, gateway payment.Gateway) *testEnv {
	t.Helper()
	log := logger.Discard()
	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Address:        ":0",
			ReadTimeout:    time.Second,
			WriteTimeout:   5 * time.Second,
			MaxUploadBytes: 1 << 20,
		},
		Device: config.DeviceConfig{
			Secret:     "test-secret",
			TokenTTL:   time.Hour,
			CookieName: "truthcard_device",
		},
	}
	storage := blobstore.NewMemory()
	gate := usage.NewGate(usage.Config{DailyLimit: 3, LockoutMonths: 1, ResetLockOnRollover: true}, usagestore.NewMemoryStore(), log)
	sessions := session.NewService(session.Config{
		OnboardingCharInterval: time.Millisecond,
		OnboardingAdvanceDelay: time.Millisecond,
		ProgressTick:           time.Millisecond,
		ProgressMaxStep:        100,
		LipSyncDuration:        time.Millisecond,
		ShareCardDelay:         time.Millisecond,
		SupportPromptDelay:     time.Hour,
		SupportURL:             "https://support.example",
		IdleTTL:                time.Hour,
		SkipOnboarding:         true,
		MaxUploadBytes:         cfg.HTTP.MaxUploadBytes,
	}, roast.NewEngine(nil), nil, storage, gate, nil, nil, log)
	t.Cleanup(sessions.Close)

	payments := payment.NewService(payment.Config{
		KeyID:        "rzp_test",
		KeySecret:    paymentSecret,
		Currency:     "USD",
		MerchantName: "TruthCard AI",
		Plans: []payment.Plan{
			{ID: "pro", Name: "Pro Roast", Description: "Purchase Pro Tier", Tier: usage.TierPro, Amount: 499},
			{ID: "roaster", Name: "Nuclear Roast", Description: "Nuclear Roast Plan", Tier: usage.TierRoaster, Amount: 999},
		},
	}, gateway, orderrepo.NewMemoryRepository(), log)
	devices := device.NewService(device.Config{Secret: cfg.Device.Secret, TokenTTL: cfg.Device.TokenTTL}, log)

	handler := NewHandler(cfg, sessions, gate, devices, payments, log)
	return &testEnv{server: NewRouter(cfg, handler), sessions: sessions, storage: storage}
}

func (e *testEnv) do(method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set(deviceTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(method, path, token, body string) *httptest.ResponseRecorder {
	return e.do(method, path, token, []byte(body), "application/json")
}

func (e *testEnv) deviceToken(t *testing.T) string {
	t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/v1/device", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := rec.Header().Get(deviceTokenHeader)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) createSession(t *testing.T, token string) session.Snapshot {
	t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/v1/sessions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func (e *testEnv) upload(t *testing.T, token, id, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="profile.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(http.MethodPost, "/api/v1/sessions/"+id+"/upload", token, body.Bytes(), mw.FormDataContentType())
}

func (e *testEnv) getSession(t *testing.T, token, id string) session.Snapshot {
	t.Helper()
	rec := e.doJSON(http.MethodGet, "/api/v1/sessions/"+id, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func decodeErrorBody(t *testing.T, raw []byte) map[string]map[string]string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestRouter_HealthAndDeviceIssue(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})

	rec := env.doJSON(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(deviceTokenHeader))

	rec = env.doJSON(http.MethodPost, "/api/v1/device", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tok device.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.Equal(t, rec.Header().Get(deviceTokenHeader), tok.Token)
	require.Equal(t, usage.TierFree, tok.Claims.Tier)
	require.Contains(t, rec.Header().Get("Set-Cookie"), "truthcard_device=")

	rec = env.doJSON(http.MethodPost, "/api/v1/device", tok.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var again device.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	require.Equal(t, tok.Claims.DeviceID, again.Claims.DeviceID)

	rec = env.doJSON(http.MethodPost, "/api/v1/device", "garbage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	require.NotEqual(t, tok.Claims.DeviceID, again.Claims.DeviceID)
}

func TestRouter_DeviceFromCookie(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	req.AddCookie(&http.Cookie{Name: "truthcard_device", Value: token})
	rec := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(deviceTokenHeader), "a valid cookie is not reissued")

	var decision usage.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.Equal(t, 2, decision.Remaining)
}

func TestRouter_SessionFlow(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	snap := env.createSession(t, token)
	require.Equal(t, session.StateUpload, snap.State)
	id := snap.ID.String()

	rec := env.upload(t, token, id, "image/png", pngImage(t, 1000, 1000))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var uploaded uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.Equal(t, session.StateAnalyzing, uploaded.Session.State)
	require.True(t, uploaded.Usage.Allowed)
	require.Equal(t, 1, uploaded.Usage.Remaining)

	require.Eventually(t, func() bool {
		return env.getSession(t, token, id).State == session.StateRoasting
	}, 3*time.Second, 10*time.Millisecond)
	got := env.getSession(t, token, id)
	require.GreaterOrEqual(t, got.Score, 0.0)
	require.LessOrEqual(t, got.Score, 20.0)
	require.Len(t, got.RoastLines, 3)

	rec = env.doJSON(http.MethodGet, "/api/v1/sessions/"+id+"/share", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var share map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &share))
	require.Contains(t, share["text"], "cringe score on TruthCard.AI!")
	require.Equal(t, "http://example.com/api/v1/sessions/"+id+"/card?format=png", share["imageUrl"])

	rec = env.doJSON(http.MethodGet, "/api/v1/sessions/"+id+"/card?format=png", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="truthcard.png"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, []string{"exports/" + id + "/truthcard.png"}, env.storage.Keys("exports/"))

	rec = env.doJSON(http.MethodGet, "/api/v1/sessions/"+id+"/card?format=gif", token, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_format", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	rec = env.doJSON(http.MethodPost, "/api/v1/sessions/"+id+"/flags/99/pop", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(http.MethodPost, "/api/v1/sessions/"+id+"/support/dismiss", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(http.MethodPost, "/api/v1/sessions/"+id+"/restart", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, session.StateUpload, env.getSession(t, token, id).State)
	require.Empty(t, env.storage.Keys("uploads/"))
	require.Empty(t, env.storage.Keys("exports/"))

	rec = env.doJSON(http.MethodGet, "/api/v1/sessions/"+id+"/card", token, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "invalid_state", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
}

func TestRouter_UploadRejectsNonImage(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()

	rec := env.upload(t, token, id, "text/plain", []byte("just some notes"))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Equal(t, "invalid_file_type", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	rec = env.doJSON(http.MethodGet, "/api/v1/usage", token, "")
	var decision usage.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.Zero(t, decision.Count)
}

func TestRouter_EmptyUploadKeepsQuota(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()

	rec := env.upload(t, token, id, "image/png", nil)
	require.Equal(t, "file_read_failure", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	rec = env.doJSON(http.MethodGet, "/api/v1/usage", token, "")
	var decision usage.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.Zero(t, decision.Count)
	require.Equal(t, 2, decision.Remaining)
	require.False(t, decision.ResetsAt.IsZero())
}

func TestRouter_SessionBelongsToCreatingDevice(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	owner := env.deviceToken(t)
	id := env.createSession(t, owner).ID.String()
	rec := env.upload(t, owner, id, "image/png", pngImage(t, 1000, 1000))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		return env.getSession(t, owner, id).State == session.StateRoasting
	}, 3*time.Second, 10*time.Millisecond)

	other := env.deviceToken(t)
	base := "/api/v1/sessions/" + id
	for _, c := range []struct {
		method, path, body string
	}{
		{http.MethodGet, base, ""},
		{http.MethodGet, base + "/events", ""},
		{http.MethodPost, base + "/restart", ""},
		{http.MethodPost, base + "/flags/1/pop", ""},
		{http.MethodPost, base + "/support/dismiss", ""},
		{http.MethodPut, base + "/tier", `{"tier":"free"}`},
		{http.MethodGet, base + "/share", ""},
	} {
		rec := env.doJSON(c.method, c.path, other, c.body)
		require.Equal(t, http.StatusNotFound, rec.Code, c.method+" "+c.path)
		require.Equal(t, "not_found", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
	}
	rec = env.upload(t, other, id, "image/png", pngImage(t, 10, 10))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(http.MethodGet, "/api/v1/usage", other, "")
	var decision usage.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.Zero(t, decision.Count, "rejected uploads never reach the quota")

	rec = env.doJSON(http.MethodGet, base+"/card?format=png", other, "")
	require.Equal(t, http.StatusOK, rec.Code, "shared card links stay public")
	require.Equal(t, session.StateRoasting, env.getSession(t, owner, id).State)
}

func TestRouter_UploadLimitReached(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()
	img := pngImage(t, 10, 10)

	for i := 0; i < 2; i++ {
		rec := env.upload(t, token, id, "image/png", img)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		rec = env.doJSON(http.MethodPost, "/api/v1/sessions/"+id+"/restart", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.upload(t, token, id, "image/png", img)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "upload_limit_reached", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
	snap := env.getSession(t, token, id)
	require.Equal(t, session.StateUpload, snap.State)
	require.Equal(t, "upload_limit_reached", snap.Notice.Code)

	other := env.deviceToken(t)
	otherID := env.createSession(t, other).ID.String()
	rec = env.upload(t, other, otherID, "image/png", img)
	require.Equal(t, http.StatusAccepted, rec.Code, "quota is per device")
}

func TestRouter_SetTierRequiresEntitlement(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()

	rec := env.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/tier", token, `{"tier":"Pro"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	rec = env.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/tier", token, `{"tier":"free"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/tier", token, `{"tier":"gold"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_PaymentFlowUpgradesDevice(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()

	rec := env.doJSON(http.MethodPost, "/api/v1/payments/orders", token, `{"plan":"roaster"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var checkout payment.Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	require.Equal(t, int64(999), checkout.Amount)
	require.Equal(t, "rzp_test", checkout.Key)
	require.Equal(t, "Nuclear Roast Plan", checkout.Description)

	rec = env.doJSON(http.MethodPost, "/api/v1/payments/confirm", token,
		`{"orderId":"`+checkout.OrderID+`","paymentId":"pay_1","signature":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_signature", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	sig := payment.Sign(checkout.OrderID, "pay_1", paymentSecret)
	rec = env.doJSON(http.MethodPost, "/api/v1/payments/confirm", token,
		`{"orderId":"`+checkout.OrderID+`","paymentId":"pay_1","signature":"`+sig+`","sessionId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conf confirmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conf))
	require.Equal(t, usage.TierRoaster, conf.Tier)
	require.NotNil(t, conf.Session)
	require.Equal(t, usage.TierRoaster, conf.Session.Tier)
	upgraded := rec.Header().Get(deviceTokenHeader)
	require.Equal(t, conf.Token, upgraded)

	rec = env.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/tier", upgraded, `{"tier":"Pro"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(http.MethodGet, "/api/v1/usage", upgraded, "")
	var decision usage.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.Equal(t, -1, decision.Remaining)
}

func TestRouter_PaymentErrors(t *testing.T) {
	env := newRouterUnderTest(t, nil)
	token := env.deviceToken(t)

	rec := env.doJSON(http.MethodPost, "/api/v1/payments/orders", token, `{"plan":"pro"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "payment_widget_unavailable", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	env = newRouterUnderTest(t, &stubGateway{err: errors.New("gateway down")})
	token = env.deviceToken(t)
	rec = env.doJSON(http.MethodPost, "/api/v1/payments/orders", token, `{"plan":"pro"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "payment_order_failure", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])

	rec = env.doJSON(http.MethodPost, "/api/v1/payments/orders", token, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_UnknownSession(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	token := env.deviceToken(t)

	rec := env.doJSON(http.MethodGet, "/api/v1/sessions/not-a-uuid", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.doJSON(http.MethodGet, "/api/v1/sessions/6f1c8a1e-2a4e-4c7a-9d55-0c1d1a2b3c4d", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
}

func TestRouter_EventsStreamSnapshots(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	srv := httptest.NewServer(env.server.Handler)
	defer srv.Close()

	token := env.deviceToken(t)
	id := env.createSession(t, token).ID.String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(deviceTokenHeader, token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() session.Snapshot {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var snap session.Snapshot
				require.NoError(t, json.Unmarshal([]byte(payload), &snap))
				return snap
			}
		}
	}

	first := next()
	require.Equal(t, session.StateUpload, first.State)

	rec := env.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/tier", token, `{"tier":"Free"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doJSON(http.MethodPost, "/api/v1/sessions/"+id+"/restart", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	second := next()
	require.Greater(t, second.Version, first.Version)
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newRouterUnderTest(t, &stubGateway{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://truthcard.ai")
	rec := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), deviceTokenHeader)
}
