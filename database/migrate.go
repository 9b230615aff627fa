package database

import (
	"fmt"

	"gorm.io/gorm"

	"gongbu_payments/internal/models"
)

// AutoMigrate выполняет миграцию всех моделей.
// Уникальные индексы (order_number, provider+event_id) создаются здесь же
// из тегов моделей.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Payment{},
		&models.Refund{},
		&models.Subscription{},
		&models.WebhookEvent{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}
