package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gongbu_payments/internal/email"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/models"
)

// MockEmailProvider используется для тестов и локальной разработки.
type MockEmailProvider struct{}

func (m *MockEmailProvider) Send(msg *email.Email) error { return nil }
func (m *MockEmailProvider) Close() error                { return nil }

// MockGateway - шлюз-заглушка для локальной разработки без ключей провайдера:
// платежи и возвраты мгновенно успешны, webhook принимает готовое
// каноническое событие в JSON без проверки подписи.
type MockGateway struct {
	Provider models.PaymentProvider
}

func NewMockGateway(provider models.PaymentProvider) *MockGateway {
	return &MockGateway{Provider: provider}
}

func (g *MockGateway) Name() models.PaymentProvider { return g.Provider }

func (g *MockGateway) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (*gateway.PaymentIntent, error) {
	return &gateway.PaymentIntent{
		ExternalID: "mock-" + in.OrderNumber,
		Status:     models.PaymentStatusSucceeded,
	}, nil
}

func (g *MockGateway) CreateRefund(ctx context.Context, in gateway.RefundInput) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{
		ExternalID: "mock-ref-" + uuid.NewString(),
		Status:     models.PaymentStatusSucceeded,
	}, nil
}

func (g *MockGateway) CreateSubscription(ctx context.Context, in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
	start := time.Now().UTC()
	end := start.AddDate(0, 1, 0)
	return &gateway.SubscriptionResult{
		ExternalID:         "mock-sub-" + uuid.NewString(),
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}, nil
}

func (g *MockGateway) GetPayment(ctx context.Context, externalID string) (*gateway.PaymentState, error) {
	return &gateway.PaymentState{
		ExternalID: externalID,
		Status:     models.PaymentStatusSucceeded,
	}, nil
}

func (g *MockGateway) VerifyAndParseWebhook(payload []byte, signature string) (*gateway.CanonicalEvent, error) {
	var event gateway.CanonicalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	event.Provider = g.Provider
	return &event, nil
}
