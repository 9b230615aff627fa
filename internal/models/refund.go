package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Refund struct {
	BaseModel
	PaymentID string          `gorm:"not null;index" json:"payment_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency  string          `gorm:"type:char(3);not null" json:"currency"`
	Reason    string          `json:"reason"`
	Status    PaymentStatus   `gorm:"default:'PENDING';index" json:"status"`
	// ID возврата на стороне провайдера. Устанавливается один раз.
	ExternalID   *string        `gorm:"index:ix_refunds_provider_external" json:"external_id,omitempty"`
	Provider     PaymentProvider `gorm:"not null;index:ix_refunds_provider_external" json:"provider"`
	RequestedBy  string         `gorm:"not null" json:"requested_by"`
	Metadata     datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProviderData datatypes.JSON `gorm:"type:jsonb" json:"-"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`

	// Relations
	Payment Payment `gorm:"foreignKey:PaymentID" json:"-"`
}
