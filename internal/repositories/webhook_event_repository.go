package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gongbu_payments/internal/models"
)

type WebhookEventRepository interface {
	// InsertIfAbsent пишет событие, если его еще нет.
	// Возвращает false, если (provider, event_id) уже в журнале -
	// конкурирующие дубликаты решаются уникальным индексом, а не проверкой перед вставкой.
	InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, provider models.PaymentProvider, eventID string, processErr error) error
	FindByEventID(ctx context.Context, provider models.PaymentProvider, eventID string) (*models.WebhookEvent, error)
}

type WebhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{db: db}
}

func (r *WebhookEventRepositoryImpl) InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *WebhookEventRepositoryImpl) MarkProcessed(ctx context.Context, provider models.PaymentProvider, eventID string, processErr error) error {
	updates := map[string]interface{}{
		"processed":  processErr == nil,
		"updated_at": time.Now(),
	}
	if processErr == nil {
		updates["processed_at"] = time.Now()
	} else {
		msg := processErr.Error()
		updates["error_message"] = msg
	}

	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(updates).Error
}

func (r *WebhookEventRepositoryImpl) FindByEventID(ctx context.Context, provider models.PaymentProvider, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}
