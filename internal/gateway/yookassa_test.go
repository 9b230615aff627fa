package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gongbu_payments/internal/models"
)

func newTestYooKassa(t *testing.T, handler http.HandlerFunc) *YooKassaGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewYooKassaGateway(server.URL, "test-shop", "test-key", "whsec_test", 5*time.Second)
}

func signYooKassa(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestYooKassa_CreatePayment(t *testing.T) {
	t.Parallel()

	gw := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "test-shop", user)
		assert.Equal(t, "test-key", pass)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		amount := body["amount"].(map[string]interface{})
		assert.Equal(t, "100.50", amount["value"])
		assert.Equal(t, "RUB", amount["currency"])
		assert.Equal(t, true, body["capture"])

		metadata := body["metadata"].(map[string]interface{})
		assert.Equal(t, "GB-123-001", metadata["order_number"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ykPayment{
			ID:     "yk-pay-1",
			Status: "pending",
			Amount: ykAmount{Value: "100.50", Currency: "RUB"},
			Confirmation: &ykConfirmation{
				Type:            "redirect",
				ConfirmationURL: "https://yoomoney.ru/checkout/payments/v2?orderId=yk-pay-1",
			},
		})
	})

	intent, err := gw.CreatePayment(context.Background(), CreatePaymentInput{
		OrderNumber: "GB-123-001",
		Amount:      decimal.RequireFromString("100.5"),
		Currency:    "rub",
		Description: "Course purchase",
		ReturnURL:   "https://gongbu.app/payments/return",
	})
	require.NoError(t, err)

	assert.Equal(t, "yk-pay-1", intent.ExternalID)
	assert.Equal(t, models.PaymentStatusProcessing, intent.Status)
	assert.Contains(t, intent.ConfirmationURL, "yoomoney.ru")
	assert.NotEmpty(t, intent.Raw)
}

func TestYooKassa_CreateRefund(t *testing.T) {
	t.Parallel()

	gw := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "yk-pay-1", body["payment_id"])
		amount := body["amount"].(map[string]interface{})
		assert.Equal(t, "40.00", amount["value"])

		_ = json.NewEncoder(w).Encode(ykRefund{
			ID:        "yk-ref-1",
			Status:    "succeeded",
			Amount:    ykAmount{Value: "40.00", Currency: "RUB"},
			PaymentID: "yk-pay-1",
		})
	})

	result, err := gw.CreateRefund(context.Background(), RefundInput{
		PaymentExternalID: "yk-pay-1",
		Amount:            decimal.RequireFromString("40"),
		Currency:          "RUB",
		Reason:            "customer request",
	})
	require.NoError(t, err)

	assert.Equal(t, "yk-ref-1", result.ExternalID)
	assert.Equal(t, models.PaymentStatusSucceeded, result.Status)
}

func TestYooKassa_GetPayment(t *testing.T) {
	t.Parallel()

	gw := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/yk-pay-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ykPayment{ID: "yk-pay-1", Status: "succeeded"})
	})

	state, err := gw.GetPayment(context.Background(), "yk-pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, state.Status)
}

func TestYooKassa_ClientErrorIsDefinite(t *testing.T) {
	t.Parallel()

	gw := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ykError{
			Type:        "error",
			Code:        "invalid_request",
			Description: "Invalid currency",
		})
	})

	_, err := gw.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:   decimal.RequireFromString("10"),
		Currency: "XXX",
	})
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "invalid_request", gwErr.Code)
	assert.Equal(t, http.StatusBadRequest, gwErr.HTTPCode)
	assert.False(t, IsAmbiguous(err))
}

func TestYooKassa_ServerErrorIsAmbiguous(t *testing.T) {
	t.Parallel()

	gw := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := gw.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:   decimal.RequireFromString("10"),
		Currency: "RUB",
	})
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
}

func TestYooKassa_NetworkErrorIsAmbiguous(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // соединение будет отклонено
	gw := NewYooKassaGateway(server.URL, "shop", "key", "secret", time.Second)

	_, err := gw.GetPayment(context.Background(), "yk-pay-1")
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
}

func TestYooKassa_CreateSubscriptionUnsupported(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "secret", time.Second)
	_, err := gw.CreateSubscription(context.Background(), SubscriptionInput{PlanID: "pro"})
	assert.ErrorIs(t, err, ErrSubscriptionsUnsupported)
}

func TestYooKassa_VerifyAndParseWebhook(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "whsec_test", time.Second)

	payload := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"yk-pay-1","status":"succeeded"}}`)

	event, err := gw.VerifyAndParseWebhook(payload, signYooKassa("whsec_test", payload))
	require.NoError(t, err)

	assert.Equal(t, "yookassa_yk-pay-1_payment.succeeded", event.EventID)
	assert.Equal(t, "payment.succeeded", event.EventType)
	assert.Equal(t, models.ProviderYooKassa, event.Provider)
	assert.Equal(t, ObjectPayment, event.Kind)
	assert.Equal(t, "yk-pay-1", event.ExternalID)
	assert.Equal(t, models.PaymentStatusSucceeded, event.PaymentStatus)
}

func TestYooKassa_WebhookEventIDStableAcrossRedelivery(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "whsec_test", time.Second)
	payload := []byte(`{"event":"payment.canceled","object":{"id":"yk-pay-2"}}`)
	sig := signYooKassa("whsec_test", payload)

	first, err := gw.VerifyAndParseWebhook(payload, sig)
	require.NoError(t, err)
	second, err := gw.VerifyAndParseWebhook(payload, sig)
	require.NoError(t, err)

	// Повторная доставка того же события дает тот же EventID
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, models.PaymentStatusCancelled, first.PaymentStatus)
}

func TestYooKassa_WebhookTamperedPayload(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "whsec_test", time.Second)

	payload := []byte(`{"event":"payment.succeeded","object":{"id":"yk-pay-1"}}`)
	sig := signYooKassa("whsec_test", payload)
	tampered := []byte(`{"event":"payment.succeeded","object":{"id":"yk-pay-ATTACKER"}}`)

	_, err := gw.VerifyAndParseWebhook(tampered, sig)
	require.Error(t, err)
	assert.True(t, IsSignatureError(err))

	_, err = gw.VerifyAndParseWebhook(payload, "deadbeef")
	require.Error(t, err)
	assert.True(t, IsSignatureError(err))
}

func TestYooKassa_WebhookRefundEvents(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "whsec_test", time.Second)

	payload := []byte(`{"event":"refund.succeeded","object":{"id":"yk-ref-1"}}`)
	event, err := gw.VerifyAndParseWebhook(payload, signYooKassa("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, ObjectRefund, event.Kind)
	assert.Equal(t, models.PaymentStatusSucceeded, event.PaymentStatus)

	payload = []byte(`{"event":"refund.canceled","object":{"id":"yk-ref-2"}}`)
	event, err = gw.VerifyAndParseWebhook(payload, signYooKassa("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, ObjectRefund, event.Kind)
	assert.Equal(t, models.PaymentStatusFailed, event.PaymentStatus)
}

func TestYooKassa_WebhookUnknownEventIgnored(t *testing.T) {
	t.Parallel()

	gw := NewYooKassaGateway("", "shop", "key", "whsec_test", time.Second)

	payload := []byte(`{"event":"deal.closed","object":{"id":"yk-deal-1"}}`)
	event, err := gw.VerifyAndParseWebhook(payload, signYooKassa("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, ObjectUnknown, event.Kind)
}

func TestMapYooKassaPaymentStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.PaymentStatusSucceeded, mapYooKassaPaymentStatus("succeeded"))
	assert.Equal(t, models.PaymentStatusProcessing, mapYooKassaPaymentStatus("pending"))
	assert.Equal(t, models.PaymentStatusProcessing, mapYooKassaPaymentStatus("waiting_for_capture"))
	assert.Equal(t, models.PaymentStatusCancelled, mapYooKassaPaymentStatus("canceled"))
	assert.Equal(t, models.PaymentStatusPending, mapYooKassaPaymentStatus("something_new"))
}
