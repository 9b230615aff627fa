package models

import (
	"time"

	"gorm.io/datatypes"
)

type Subscription struct {
	BaseModel
	// ID подписки на стороне провайдера. Устанавливается один раз.
	ExternalID         *string            `gorm:"index:ix_subscriptions_provider_external" json:"external_id,omitempty"`
	UserID             string             `gorm:"not null;index" json:"user_id"`
	PlanID             string             `gorm:"not null" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"default:'INCOMPLETE';index" json:"status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	Provider           PaymentProvider    `gorm:"not null;index:ix_subscriptions_provider_external" json:"provider"`
	Metadata           datatypes.JSON     `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProviderData       datatypes.JSON     `gorm:"type:jsonb" json:"-"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
}
