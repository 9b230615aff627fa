package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// StatusHistoryEntry - одна запись append-only журнала статусов платежа.
type StatusHistoryEntry struct {
	Status    PaymentStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Comment   string        `json:"comment"`
}

type Payment struct {
	BaseModel
	OrderNumber    string          `gorm:"uniqueIndex;not null" json:"order_number"`
	UserID         string          `gorm:"not null;index" json:"user_id"`
	CourseID       *string         `gorm:"index" json:"course_id,omitempty"`
	SubscriptionID *string         `gorm:"index" json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency       string          `gorm:"type:char(3);not null" json:"currency"`
	Description    string          `json:"description"`
	PaymentMethod  PaymentMethod   `gorm:"default:'CARD'" json:"payment_method"`
	Provider       PaymentProvider `gorm:"not null;index:ix_payments_provider_external" json:"provider"`
	// ID платежа на стороне провайдера. Устанавливается один раз.
	ExternalID      *string        `gorm:"index:ix_payments_provider_external" json:"external_id,omitempty"`
	Status          PaymentStatus  `gorm:"default:'PENDING';index" json:"status"`
	StatusHistory   datatypes.JSON `gorm:"type:jsonb" json:"status_history"`
	ConfirmationURL *string        `json:"confirmation_url,omitempty"`
	ReturnURL       *string        `json:"return_url,omitempty"`
	ReceiptEmail    *string        `json:"receipt_email,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProviderData    datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`

	// Relations
	Refunds []Refund `gorm:"foreignKey:PaymentID" json:"refunds,omitempty"`
}

// History разбирает журнал статусов из jsonb.
func (p *Payment) History() []StatusHistoryEntry {
	var entries []StatusHistoryEntry
	if len(p.StatusHistory) == 0 {
		return entries
	}
	_ = json.Unmarshal(p.StatusHistory, &entries)
	return entries
}

// AppendHistory добавляет запись в журнал статусов (append-only).
func (p *Payment) AppendHistory(status PaymentStatus, comment string) {
	entries := append(p.History(), StatusHistoryEntry{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Comment:   comment,
	})
	raw, _ := json.Marshal(entries)
	p.StatusHistory = datatypes.JSON(raw)
}
