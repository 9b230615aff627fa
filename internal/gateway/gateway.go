package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gongbu_payments/internal/models"
)

// ErrSubscriptionsUnsupported - провайдер не умеет подписки
var ErrSubscriptionsUnsupported = errors.New("gateway: subscriptions are not supported by this provider")

// ObjectKind - тип объекта, к которому относится webhook-событие
type ObjectKind string

const (
	ObjectPayment      ObjectKind = "payment"
	ObjectRefund       ObjectKind = "refund"
	ObjectSubscription ObjectKind = "subscription"
	ObjectUnknown      ObjectKind = "unknown"
)

// CreatePaymentInput - параметры создания платежа у провайдера
type CreatePaymentInput struct {
	OrderNumber  string
	Amount       decimal.Decimal
	Currency     string
	Description  string
	ReturnURL    string
	ReceiptEmail string
	Metadata     map[string]string
}

// PaymentIntent - результат создания платежа у провайдера.
// ConfirmationURL заполняет YooKassa (redirect flow),
// ClientSecret - Stripe (подтверждение на клиенте).
type PaymentIntent struct {
	ExternalID      string
	Status          models.PaymentStatus
	ConfirmationURL string
	ClientSecret    string
	Raw             json.RawMessage
}

// PaymentState - актуальное состояние платежа у провайдера (для reconciliation poll)
type PaymentState struct {
	ExternalID string
	Status     models.PaymentStatus
	Raw        json.RawMessage
}

// RefundInput - параметры возврата
type RefundInput struct {
	PaymentExternalID string
	Amount            decimal.Decimal
	Currency          string
	Reason            string
}

// RefundResult - результат создания возврата у провайдера
type RefundResult struct {
	ExternalID string
	Status     models.PaymentStatus
	Raw        json.RawMessage
}

// SubscriptionInput - параметры создания подписки
type SubscriptionInput struct {
	UserID        string
	PlanID        string
	CustomerEmail string
	Metadata      map[string]string
}

// SubscriptionResult - результат создания подписки у провайдера
type SubscriptionResult struct {
	ExternalID         string
	Status             models.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	ClientSecret       string
	Raw                json.RawMessage
}

// CanonicalEvent - провайдеро-независимое представление webhook-события.
// EventID стабилен для повторных доставок одного и того же события.
type CanonicalEvent struct {
	EventID            string
	EventType          string
	Provider           models.PaymentProvider
	Kind               ObjectKind
	ExternalID         string
	PaymentStatus      models.PaymentStatus
	SubscriptionStatus models.SubscriptionStatus
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	Raw                json.RawMessage
}

// Gateway - единый контракт платежного провайдера.
// Реализации не трогают БД: только вызовы вендорского API и маппинг статусов.
type Gateway interface {
	Name() models.PaymentProvider
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, in RefundInput) (*RefundResult, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error)
	GetPayment(ctx context.Context, externalID string) (*PaymentState, error)
	// VerifyAndParseWebhook проверяет подпись и нормализует событие.
	// Ошибка подписи отличима от прочих через IsSignatureError.
	VerifyAndParseWebhook(payload []byte, signature string) (*CanonicalEvent, error)
}

// GatewayError - определенный отказ провайдера (4xx, validation).
// Платеж при таком отказе можно смело переводить в FAILED.
type GatewayError struct {
	Provider models.PaymentProvider
	Code     string
	Message  string
	HTTPCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s (%s, http %d)", e.Provider, e.Message, e.Code, e.HTTPCode)
}

// AmbiguousError - таймаут, сетевая ошибка или 5xx провайдера.
// Исход запроса неизвестен: локальное состояние менять НЕЛЬЗЯ,
// разрешение откладывается до webhook'а или reconciliation poll'а.
type AmbiguousError struct {
	Provider models.PaymentProvider
	Err      error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("gateway %s: ambiguous outcome: %v", e.Provider, e.Err)
}

func (e *AmbiguousError) Unwrap() error {
	return e.Err
}

// SignatureError - подпись webhook'а не прошла проверку
type SignatureError struct {
	Provider models.PaymentProvider
	Err      error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("gateway %s: invalid webhook signature: %v", e.Provider, e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

// IsAmbiguous сообщает, был ли исход вызова провайдера неопределенным
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

// IsSignatureError сообщает, что webhook пришел с невалидной подписью
func IsSignatureError(err error) bool {
	var se *SignatureError
	return errors.As(err, &se)
}
