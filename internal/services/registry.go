package services

import (
	"gongbu_payments/internal/email"
)

// ServiceContainer содержит все сервисы приложения.
type ServiceContainer struct {
	PaymentService      PaymentService
	SubscriptionService SubscriptionService
	WebhookService      WebhookService
	EmailProvider       email.Provider
}
