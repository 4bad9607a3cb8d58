package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gatewaydomain "github.com/tablevox/checkout/internal/gateway/domain"
)

// Adapter talks to the Stripe API and verifies Stripe webhook signatures.
type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if apiKey == "" || secret == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Adapter{
		apiKey:        apiKey,
		webhookSecret: secret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 12 * time.Second},
	}, nil
}

func (a *Adapter) CreateIntent(ctx context.Context, req gatewaydomain.CreateIntentRequest) (gatewaydomain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.AmountMinorUnits, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	for key, value := range req.Metadata {
		values.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	return a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey)
}

func (a *Adapter) RetrieveStatus(ctx context.Context, gatewayReferenceID string) (gatewaydomain.Intent, error) {
	ref := strings.TrimSpace(gatewayReferenceID)
	if ref == "" {
		return gatewaydomain.Intent{}, gatewaydomain.ErrInvalidEvent
	}
	return a.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+ref, nil, "")
}

// VerifySignature checks the Stripe-Signature header against the raw payload.
// Scheme: HMAC-SHA256 over "<t>.<payload>" with the webhook secret.
func (a *Adapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return gatewaydomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return gatewaydomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return gatewaydomain.ErrInvalidSignature
}

func (a *Adapter) ParseEvent(ctx context.Context, payload []byte) (*gatewaydomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, gatewaydomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return a.parsePaymentIntent(event, payload, gatewaydomain.EventTypePaymentFailed)
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	default:
		return nil, gatewaydomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	ClientSecret   string            `json:"client_secret"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Created        int64             `json:"created"`
	Metadata       map[string]string `json:"metadata"`
}

type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*gatewaydomain.Event, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	return &gatewaydomain.Event{
		ProviderEventID:    event.ID,
		Type:               eventType,
		GatewayReferenceID: intent.ID,
		UserID:             strings.TrimSpace(intent.Metadata["user_id"]),
		PlanID:             strings.TrimSpace(intent.Metadata["plan_id"]),
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:         timestamp(intent.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*gatewaydomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}

	// Hosted checkout joins back to the session via the underlying intent.
	ref := strings.TrimSpace(session.PaymentIntent)
	if ref == "" {
		ref = strings.TrimSpace(session.ID)
	}
	if ref == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	eventType := gatewaydomain.EventTypePaymentSucceeded
	if !strings.EqualFold(strings.TrimSpace(session.PaymentStatus), "paid") {
		eventType = gatewaydomain.EventTypePaymentFailed
	}

	return &gatewaydomain.Event{
		ProviderEventID:    event.ID,
		Type:               eventType,
		GatewayReferenceID: ref,
		UserID:             strings.TrimSpace(session.Metadata["user_id"]),
		PlanID:             strings.TrimSpace(session.Metadata["plan_id"]),
		Amount:             session.AmountTotal,
		Currency:           strings.ToUpper(strings.TrimSpace(session.Currency)),
		OccurredAt:         timestamp(session.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func (a *Adapter) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (gatewaydomain.Intent, error) {
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return gatewaydomain.Intent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return gatewaydomain.Intent{}, fmt.Errorf("%w: %v", gatewaydomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return gatewaydomain.Intent{}, gatewaydomain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var gatewayErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&gatewayErr); err != nil {
			return gatewaydomain.Intent{}, gatewaydomain.ErrGatewayUnavailable
		}
		message := strings.TrimSpace(gatewayErr.Error.Message)
		if message == "" {
			message = "gateway_request_failed"
		}
		return gatewaydomain.Intent{}, fmt.Errorf("%w: %s", gatewaydomain.ErrGatewayUnavailable, message)
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return gatewaydomain.Intent{}, err
	}
	if intent.ID == "" {
		return gatewaydomain.Intent{}, errors.New("gateway_response_invalid")
	}

	return gatewaydomain.Intent{
		GatewayReferenceID: intent.ID,
		ClientSecret:       intent.ClientSecret,
		Status:             normalizeStatus(intent.Status),
		Amount:             intent.Amount,
		Currency:           strings.ToUpper(strings.TrimSpace(intent.Currency)),
	}, nil
}

func normalizeStatus(raw string) string {
	switch strings.TrimSpace(raw) {
	case "succeeded":
		return gatewaydomain.StatusSucceeded
	case "canceled":
		return gatewaydomain.StatusFailed
	default:
		return gatewaydomain.StatusPending
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
