package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent - журнал входящих событий провайдеров.
// Уникальный индекс (provider, event_id) - примитив идемпотентности:
// конкурирующие дубликаты гонятся за insert, выигрывает ровно один.
type WebhookEvent struct {
	BaseModel
	EventID      string          `gorm:"not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"event_id"`
	EventType    string          `gorm:"not null" json:"event_type"`
	Provider     PaymentProvider `gorm:"not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	Data         datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	Processed    bool            `gorm:"default:false;index" json:"processed"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ReceivedAt   time.Time       `gorm:"not null" json:"received_at"`
}
