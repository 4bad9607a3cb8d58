package e2e

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tablevox/checkout/internal/cache"
	checkoutdomain "github.com/tablevox/checkout/internal/checkout/domain"
	checkoutservice "github.com/tablevox/checkout/internal/checkout/service"
	"github.com/tablevox/checkout/internal/checkout/store"
	"github.com/tablevox/checkout/internal/clock"
	"github.com/tablevox/checkout/internal/config"
	"github.com/tablevox/checkout/internal/confirm"
	gatewaystripe "github.com/tablevox/checkout/internal/gateway/stripe"
	"github.com/tablevox/checkout/internal/plan"
	"github.com/tablevox/checkout/internal/server"
)

const webhookSecret = "whsec_e2e"

// stripeStub fakes the two gateway endpoints the subsystem touches. Intents
// are keyed by idempotency key, matching the real dedup behavior.
type stripeStub struct {
	mu       sync.Mutex
	intents  map[string]string // idempotency key -> intent id
	statuses map[string]string // intent id -> status
	next     int
}

func newStripeStub() *stripeStub {
	return &stripeStub{
		intents:  make(map[string]string),
		statuses: make(map[string]string),
	}
}

func (s *stripeStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		key := r.Header.Get("Idempotency-Key")
		id, ok := s.intents[key]
		if !ok {
			s.next++
			id = "pi_e2e_" + strconv.Itoa(s.next)
			s.intents[key] = id
			s.statuses[id] = "requires_payment_method"
		}
		writeIntent(w, id, s.statuses[id])
	})
	mux.HandleFunc("/v1/payment_intents/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		id := r.URL.Path[len("/v1/payment_intents/"):]
		status, ok := s.statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"no such intent"}}`)
			return
		}
		writeIntent(w, id, status)
	})
	return mux
}

func (s *stripeStub) succeed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = "succeeded"
}

func writeIntent(w http.ResponseWriter, id, status string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":%q,"client_secret":%q,"status":%q,"amount":4900,"currency":"usd"}`,
		id, id+"_secret", status)
}

// backendStub stands in for the system of record that grants minutes.
type backendStub struct {
	mu    sync.Mutex
	calls []map[string]any
	fail  bool
}

func (b *backendStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.fail {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.calls = append(b.calls, payload)
		w.WriteHeader(http.StatusOK)
	})
}

func (b *backendStub) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type env struct {
	t       *testing.T
	baseURL string
	client  *http.Client
	stripe  *stripeStub
	backend *backendStub
	clk     *clock.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stripeSrv := newStripeStub()
	gatewaySrv := httptest.NewServer(stripeSrv.handler())
	t.Cleanup(gatewaySrv.Close)

	backend := &backendStub{}
	backendSrv := httptest.NewServer(backend.handler())
	t.Cleanup(backendSrv.Close)

	cfg := config.Config{
		GatewayAPIKey:        "sk_test_e2e",
		GatewayWebhookSecret: webhookSecret,
		GatewayBaseURL:       gatewaySrv.URL,
		SpeechBackendURL:     backendSrv.URL,
		SpeechBackendToken:   "backend-token",
	}

	adapter, err := gatewaystripe.New(gatewaystripe.Config{
		APIKey:        cfg.GatewayAPIKey,
		WebhookSecret: cfg.GatewayWebhookSecret,
		BaseURL:       cfg.GatewayBaseURL,
	})
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&checkoutdomain.PurchaseSession{}))

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := checkoutservice.NewService(checkoutservice.Params{
		Log:       zap.NewNop(),
		Clock:     clk,
		Store:     store.NewGormStore(db, clk),
		Plans:     plan.NewCatalog(),
		Gateway:   adapter,
		Confirmer: confirm.NewHTTPCaller(cfg, zap.NewNop()),
		GenID:     node,
		Replay:    cache.NewReplayGuard(),
	})

	engine := gin.New()
	engine.Use(server.ErrorHandlingMiddleware())
	srv := server.NewServer(server.Params{
		Engine:      engine,
		Cfg:         cfg,
		Log:         zap.NewNop(),
		CheckoutSvc: svc,
	})
	srv.RegisterRoutes()

	httpSrv := httptest.NewServer(engine)
	t.Cleanup(httpSrv.Close)

	return &env{
		t:       t,
		baseURL: httpSrv.URL,
		client:  httpSrv.Client(),
		stripe:  stripeSrv,
		backend: backend,
		clk:     clk,
	}
}

func (e *env) postJSON(path string, body any) (int, map[string]any) {
	e.t.Helper()

	var buf bytes.Buffer
	require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	resp, err := e.client.Post(e.baseURL+path, "application/json", &buf)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func (e *env) postWebhook(payload []byte, sign bool) (int, map[string]any) {
	e.t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.baseURL+"/webhook", bytes.NewReader(payload))
	require.NoError(e.t, err)
	if sign {
		ts := strconv.FormatInt(e.clk.Now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(webhookSecret))
		mac.Write([]byte(ts + "." + string(payload)))
		req.Header.Set("Stripe-Signature",
			fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	}

	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func succeededPayload(eventID, intentID, userID, planID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"created": 1772366400,
		"data": {"object": {
			"id": %q,
			"status": "succeeded",
			"amount": 4900,
			"amount_received": 4900,
			"currency": "usd",
			"metadata": {"user_id": %q, "plan_id": %q}
		}}
	}`, eventID, intentID, userID, planID))
}

func TestCheckoutHappyPath(t *testing.T) {
	e := newEnv(t)

	code, body := e.postJSON("/v1/checkout", gin.H{"user_id": "user-1", "plan_id": "starter"})
	require.Equal(t, http.StatusOK, code)
	ref, _ := body["gateway_reference_id"].(string)
	require.NotEmpty(t, ref)
	require.NotEmpty(t, body["client_secret"])

	// A retried start hands back the same intent.
	code, again := e.postJSON("/v1/checkout", gin.H{"user_id": "user-1", "plan_id": "starter"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ref, again["gateway_reference_id"])

	// The signed success webhook grants the plan exactly once.
	payload := succeededPayload("evt_e2e_1", ref, "user-1", "starter")
	code, ack := e.postWebhook(payload, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, ack["received"])
	require.Equal(t, 1, e.backend.callCount())

	call := e.backend.calls[0]
	assert.Equal(t, "user-1", call["userId"])
	assert.Equal(t, "starter", call["planType"])
	assert.Equal(t, float64(250), call["minutes"])
	assert.Equal(t, float64(4900), call["amountPaid"])
	assert.Equal(t, ref, call["transactionId"])

	// Redelivery acks without granting again.
	code, ack = e.postWebhook(payload, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, ack["received"])
	assert.Equal(t, 1, e.backend.callCount())
}

func TestCheckoutWebhookRejectsUnsignedDelivery(t *testing.T) {
	e := newEnv(t)

	code, _ := e.postWebhook(succeededPayload("evt_1", "pi_x", "user-1", "starter"), false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 0, e.backend.callCount())
}

func TestCheckoutConfirmationRetriedAfterBackendOutage(t *testing.T) {
	e := newEnv(t)

	code, body := e.postJSON("/v1/checkout", gin.H{"user_id": "user-1", "plan_id": "growth"})
	require.Equal(t, http.StatusOK, code)
	ref, _ := body["gateway_reference_id"].(string)

	e.backend.fail = true
	payload := succeededPayload("evt_outage_1", ref, "user-1", "growth")
	code, _ = e.postWebhook(payload, true)
	require.Equal(t, http.StatusInternalServerError, code)

	// The gateway retries after the outage; once the attempt is clearly dead
	// the redelivery drives the grant through.
	e.backend.fail = false
	e.clk.Advance(2 * time.Minute)
	code, ack := e.postWebhook(payload, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, ack["received"])
	require.Equal(t, 1, e.backend.callCount())
	assert.Equal(t, float64(600), e.backend.calls[0]["minutes"])
}

func TestCheckoutRedirectConfirm(t *testing.T) {
	e := newEnv(t)

	code, body := e.postJSON("/v1/checkout", gin.H{"user_id": "user-1", "plan_id": "starter"})
	require.Equal(t, http.StatusOK, code)
	ref, _ := body["gateway_reference_id"].(string)

	// Gateway still pending: the redirect reports not-yet-confirmed.
	code, confirmBody := e.postJSON("/v1/checkout/confirm", gin.H{
		"gateway_reference_id": ref,
		"user_id":              "user-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, confirmBody["success"])
	assert.Equal(t, 0, e.backend.callCount())

	e.stripe.succeed(ref)
	code, confirmBody = e.postJSON("/v1/checkout/confirm", gin.H{
		"gateway_reference_id": ref,
		"user_id":              "user-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, confirmBody["success"])
	assert.Equal(t, 1, e.backend.callCount())
}

func TestCheckoutUnknownPlan(t *testing.T) {
	e := newEnv(t)

	code, body := e.postJSON("/v1/checkout", gin.H{"user_id": "user-1", "plan_id": "bogus"})
	assert.Equal(t, http.StatusNotFound, code)
	if errObj, ok := body["error"].(map[string]any); ok {
		assert.Equal(t, "unknown_plan", errObj["type"])
	}
	assert.Equal(t, 0, e.stripe.next)
}
