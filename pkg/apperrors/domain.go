package apperrors

import (
	"net/http"
)

/*
Фабрики и предопределенные переменные
для доменных ошибок платежного сервиса.
*/

// ErrNotFound - фабрика для ошибки "не найдено" (404).
// Используется, когда ошибка репозитория (типа gorm.ErrRecordNotFound)
// должна быть преобразована в AppError.
func ErrNotFound(err error) *AppError {
	return Wrap(err, CodeNotFound, "resource", "Resource not found", http.StatusNotFound)
}

// ErrConflict - общая фабрика для конфликтов (409)
func ErrConflict(err error, domain, message string) *AppError {
	return Wrap(err, CodeConflict, domain, message, http.StatusConflict)
}

// ErrInvalidStatus - операция невозможна в текущем статусе платежа/возврата (409)
func ErrInvalidStatus(domain, message string) *AppError {
	return New(CodeInvalidStatus, domain, message, http.StatusConflict)
}

// ErrGateway - определенный отказ провайдера (не таймаут)
func ErrGateway(err error, message string) *AppError {
	return Wrap(err, CodeExternalServiceError, "gateway", message, http.StatusBadGateway)
}

// ErrAmbiguousOutcome - таймаут/5xx провайдера: исход платежа неизвестен,
// статус не меняем, разрешение откладываем до webhook'а или reconciliation poll.
func ErrAmbiguousOutcome(err error) *AppError {
	return Wrap(err, CodeAmbiguousOutcome, "gateway", "Provider outcome is ambiguous, resolution deferred", http.StatusGatewayTimeout)
}

// --- Payments ---

// ErrInvalidPaymentAmount - сумма вне допустимых границ.
func ErrInvalidPaymentAmount(message string) *AppError {
	return New(CodeValidationFailed, "payment", message, http.StatusBadRequest)
}

// ErrUnknownProvider - провайдер не поддерживается.
var ErrUnknownProvider = New(
	CodeValidationFailed,
	"payment",
	"Unknown payment provider",
	http.StatusBadRequest,
)

// ErrPaymentNotRefundable - возврат возможен только из SUCCEEDED/PARTIALLY_REFUNDED.
var ErrPaymentNotRefundable = New(
	CodeInvalidStatus,
	"refund",
	"Only succeeded payments can be refunded",
	http.StatusConflict,
)

// ErrInsufficientRefundBalance - сумма возврата превышает доступный остаток.
func ErrInsufficientRefundBalance(message string) *AppError {
	return New(CodeInsufficientBalance, "refund", message, http.StatusConflict)
}

// --- Subscriptions ---

// ErrActiveSubscriptionExists - у пользователя уже есть действующая подписка.
var ErrActiveSubscriptionExists = New(
	CodeConflict,
	"subscription",
	"User already has an active subscription",
	http.StatusConflict,
)

// ErrSubscriptionsNotSupported - провайдер не поддерживает подписки.
var ErrSubscriptionsNotSupported = New(
	CodeInvalidOperation,
	"subscription",
	"Subscriptions are not supported for this provider",
	http.StatusBadRequest,
)

// --- Webhooks ---

// ErrInvalidWebhookSignature - подпись не сошлась, событие в журнал не пишем.
var ErrInvalidWebhookSignature = New(
	CodeInvalidSignature,
	"webhook",
	"Webhook signature verification failed",
	http.StatusUnauthorized,
)
