package models

type PaymentStatus string
type SubscriptionStatus string
type PaymentProvider string
type PaymentMethod string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"

	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled  SubscriptionStatus = "CANCELLED"
	SubscriptionStatusUnpaid     SubscriptionStatus = "UNPAID"
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"

	ProviderStripe   PaymentProvider = "STRIPE"
	ProviderYooKassa PaymentProvider = "YOOKASSA"

	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
)

// paymentEdges - таблица разрешенных переходов статуса платежа.
// Единственный источник правды для guarded transition: любой переход,
// которого здесь нет, молча игнорируется (важно для replay/out-of-order webhook'ов).
var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSucceeded:  {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	// Повторный частичный возврат оставляет статус PARTIALLY_REFUNDED (self-edge).
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// refundEdges - возвраты используют подмножество того же enum'а
// (решение по несогласованности SUCCEEDED/COMPLETED в исходнике: один enum).
var refundEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled},
}

// CanTransitPayment проверяет, разрешен ли переход платежа from -> to.
func CanTransitPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentEdges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitRefund проверяет, разрешен ли переход возврата from -> to.
func CanTransitRefund(from, to PaymentStatus) bool {
	for _, allowed := range refundEdges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalPaymentStatus - терминальные статусы платежа (из них выхода нет).
func IsTerminalPaymentStatus(s PaymentStatus) bool {
	return s == PaymentStatusFailed || s == PaymentStatusCancelled || s == PaymentStatusRefunded
}

// IsActiveSubscriptionStatus - подписка считается действующей.
func IsActiveSubscriptionStatus(s SubscriptionStatus) bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// KnownProvider проверяет, что провайдер поддерживается.
func KnownProvider(p PaymentProvider) bool {
	return p == ProviderStripe || p == ProviderYooKassa
}
