package dto

import (
	"gongbu_payments/internal/models"
)

// CreateSubscriptionRequest - тело POST /subscriptions
type CreateSubscriptionRequest struct {
	PlanID   string            `json:"plan_id" validate:"required,max=64"`
	Provider string            `json:"provider" validate:"required,provider"`
	Email    string            `json:"email" validate:"required,email"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubscriptionCreatedResponse - ответ на создание подписки
type SubscriptionCreatedResponse struct {
	Subscription *models.Subscription `json:"subscription"`
	ClientSecret string               `json:"client_secret,omitempty"`
}
