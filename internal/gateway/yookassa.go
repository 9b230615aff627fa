package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/models"
)

// YooKassaGateway - шлюз YooKassa (API v3) поверх net/http.
// Суммы у YooKassa - десятичные строки вида "100.00".
// Подписок у YooKassa в этом флоу нет.
type YooKassaGateway struct {
	baseURL       string
	shopID        string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
}

func NewYooKassaGateway(baseURL, shopID, secretKey, webhookSecret string, timeout time.Duration) *YooKassaGateway {
	if baseURL == "" {
		baseURL = "https://api.yookassa.ru/v3"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &YooKassaGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		shopID:        shopID,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (g *YooKassaGateway) Name() models.PaymentProvider {
	return models.ProviderYooKassa
}

// --- wire types ---

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       ykAmount          `json:"amount"`
	Description  string            `json:"description,omitempty"`
	Confirmation *ykConfirmation   `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
}

type ykRefund struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Amount    ykAmount `json:"amount"`
	PaymentID string   `json:"payment_id"`
	CreatedAt string   `json:"created_at,omitempty"`
}

type ykError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type ykWebhookBody struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

// --- operations ---

func (g *YooKassaGateway) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentIntent, error) {
	body := map[string]interface{}{
		"amount": ykAmount{
			Value:    in.Amount.StringFixed(2),
			Currency: strings.ToUpper(in.Currency),
		},
		"description": in.Description,
		"capture":     true,
		"confirmation": ykConfirmation{
			Type:      "redirect",
			ReturnURL: in.ReturnURL,
		},
		"metadata": mergeMetadata(in.Metadata, "order_number", in.OrderNumber),
	}

	var out ykPayment
	raw, err := g.post(ctx, "/payments", body, &out)
	if err != nil {
		return nil, err
	}

	var confirmationURL string
	if out.Confirmation != nil {
		confirmationURL = out.Confirmation.ConfirmationURL
	}
	return &PaymentIntent{
		ExternalID:      out.ID,
		Status:          mapYooKassaPaymentStatus(out.Status),
		ConfirmationURL: confirmationURL,
		Raw:             raw,
	}, nil
}

func (g *YooKassaGateway) CreateRefund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	body := map[string]interface{}{
		"payment_id": in.PaymentExternalID,
		"amount": ykAmount{
			Value:    in.Amount.StringFixed(2),
			Currency: strings.ToUpper(in.Currency),
		},
	}
	if in.Reason != "" {
		body["description"] = in.Reason
	}

	var out ykRefund
	raw, err := g.post(ctx, "/refunds", body, &out)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		ExternalID: out.ID,
		Status:     mapYooKassaPaymentStatus(out.Status),
		Raw:        raw,
	}, nil
}

func (g *YooKassaGateway) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	return nil, ErrSubscriptionsUnsupported
}

func (g *YooKassaGateway) GetPayment(ctx context.Context, externalID string) (*PaymentState, error) {
	var out ykPayment
	raw, err := g.get(ctx, "/payments/"+externalID, &out)
	if err != nil {
		return nil, err
	}

	return &PaymentState{
		ExternalID: out.ID,
		Status:     mapYooKassaPaymentStatus(out.Status),
		Raw:        raw,
	}, nil
}

// VerifyAndParseWebhook проверяет HMAC-SHA256 подпись сырого тела
// и нормализует событие. EventID у YooKassa нет, выводим стабильный:
// yookassa_<object.id>_<event> - повторная доставка дает тот же id.
func (g *YooKassaGateway) VerifyAndParseWebhook(payload []byte, signature string) (*CanonicalEvent, error) {
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, &SignatureError{
			Provider: models.ProviderYooKassa,
			Err:      errors.New("hmac mismatch"),
		}
	}

	var body ykWebhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("yookassa webhook: unmarshal body: %w", err)
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body.Object, &obj); err != nil {
		return nil, fmt.Errorf("yookassa webhook: unmarshal object: %w", err)
	}

	ce := &CanonicalEvent{
		EventID:    fmt.Sprintf("yookassa_%s_%s", obj.ID, body.Event),
		EventType:  body.Event,
		Provider:   models.ProviderYooKassa,
		Kind:       ObjectUnknown,
		ExternalID: obj.ID,
		Raw:        body.Object,
	}

	switch body.Event {
	case "payment.succeeded":
		ce.Kind = ObjectPayment
		ce.PaymentStatus = models.PaymentStatusSucceeded
	case "payment.canceled":
		ce.Kind = ObjectPayment
		ce.PaymentStatus = models.PaymentStatusCancelled
	case "payment.waiting_for_capture":
		ce.Kind = ObjectPayment
		ce.PaymentStatus = models.PaymentStatusProcessing
	case "refund.succeeded":
		ce.Kind = ObjectRefund
		ce.PaymentStatus = models.PaymentStatusSucceeded
	case "refund.canceled":
		ce.Kind = ObjectRefund
		ce.PaymentStatus = models.PaymentStatusFailed
	}

	return ce, nil
}

// --- HTTP plumbing ---

func (g *YooKassaGateway) post(ctx context.Context, path string, body interface{}, out interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Свежий ключ на каждую попытку
	req.Header.Set("Idempotence-Key", uuid.NewString())

	return g.do(req, "POST "+path, out)
}

func (g *YooKassaGateway) get(ctx context.Context, path string, out interface{}) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	return g.do(req, "GET "+path, out)
}

func (g *YooKassaGateway) do(req *http.Request, operation string, out interface{}) (json.RawMessage, error) {
	req.SetBasicAuth(g.shopID, g.secretKey)

	started := time.Now()
	resp, err := g.httpClient.Do(req)
	logger.GatewayLog(string(models.ProviderYooKassa), operation, time.Since(started), err)
	if err != nil {
		// Таймаут или сетевой сбой: запрос мог дойти
		return nil, &AmbiguousError{Provider: models.ProviderYooKassa, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AmbiguousError{Provider: models.ProviderYooKassa, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &AmbiguousError{
			Provider: models.ProviderYooKassa,
			Err:      fmt.Errorf("http %d: %s", resp.StatusCode, raw),
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr ykError
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Code == "" {
			apiErr.Code = "api_error"
		}
		if apiErr.Description == "" {
			apiErr.Description = string(raw)
		}
		return nil, &GatewayError{
			Provider: models.ProviderYooKassa,
			Code:     apiErr.Code,
			Message:  apiErr.Description,
			HTTPCode: resp.StatusCode,
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("yookassa: unmarshal response: %w", err)
	}
	return raw, nil
}

func mergeMetadata(md map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[key] = value
	return out
}

func mapYooKassaPaymentStatus(s string) models.PaymentStatus {
	switch s {
	case "succeeded":
		return models.PaymentStatusSucceeded
	case "pending", "waiting_for_capture":
		return models.PaymentStatusProcessing
	case "canceled":
		return models.PaymentStatusCancelled
	default:
		return models.PaymentStatusPending
	}
}
