package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/models"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRefundNotFound  = errors.New("refund not found")
)

// PaymentStats - агрегаты по платежам за период
type PaymentStats struct {
	TotalCount     int64            `json:"total_count"`
	ByStatus       map[string]int64 `json:"by_status"`
	TotalRevenue   decimal.Decimal  `json:"total_revenue"`
	RefundedAmount decimal.Decimal  `json:"refunded_amount"`
	// AverageAmount - средний чек по оплаченным платежам
	AverageAmount decimal.Decimal `json:"average_payment_amount"`
}

type PaymentRepository interface {
	// Transaction выполняет fn в транзакции; репозиторий внутри fn
	// привязан к tx, *ForUpdate методы берут row lock.
	Transaction(ctx context.Context, fn func(txRepo PaymentRepository) error) error

	Create(ctx context.Context, payment *models.Payment) error
	Save(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error)
	FindByExternalID(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error)
	FindByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error)
	List(ctx context.Context, filter dto.PaymentFilter) ([]models.Payment, int64, error)
	// FindStuck - платежи, зависшие в PENDING/PROCESSING с externalId
	// дольше olderThan (кандидаты на reconciliation poll).
	FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	GetStats(ctx context.Context, from, to time.Time) (*PaymentStats, error)

	CreateRefund(ctx context.Context, refund *models.Refund) error
	SaveRefund(ctx context.Context, refund *models.Refund) error
	FindRefundByID(ctx context.Context, id string) (*models.Refund, error)
	FindRefundByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Refund, error)
	FindRefundsByPayment(ctx context.Context, paymentID string) ([]models.Refund, error)
	// SucceededRefundTotal - сумма успешных возвратов по платежу
	// (для расчета доступного остатка).
	SucceededRefundTotal(ctx context.Context, paymentID string) (decimal.Decimal, error)
}

type PaymentRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &PaymentRepositoryImpl{db: db}
}

func (r *PaymentRepositoryImpl) Transaction(ctx context.Context, fn func(txRepo PaymentRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PaymentRepositoryImpl{db: tx})
	})
}

func (r *PaymentRepositoryImpl) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepositoryImpl) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *PaymentRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) FindByExternalID(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) FindByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) List(ctx context.Context, filter dto.PaymentFilter) ([]models.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.DateFrom != nil {
		query = query.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_at < ?", *filter.DateTo)
	}
	if filter.MinAmount != "" {
		query = query.Where("amount >= ?", filter.MinAmount)
	}
	if filter.MaxAmount != "" {
		query = query.Where("amount <= ?", filter.MaxAmount)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where(
			"order_number ILIKE ? OR description ILIKE ? OR external_id ILIKE ?",
			pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	err := query.Order("created_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize()).
		Find(&payments).Error
	return payments, total, err
}

func (r *PaymentRepositoryImpl) FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing}).
		Where("external_id IS NOT NULL").
		Where("updated_at < ?", olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepositoryImpl) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error
	return count > 0, err
}

func (r *PaymentRepositoryImpl) GetStats(ctx context.Context, from, to time.Time) (*PaymentStats, error) {
	stats := &PaymentStats{
		ByStatus:       make(map[string]int64),
		TotalRevenue:   decimal.Zero,
		RefundedAmount: decimal.Zero,
		AverageAmount:  decimal.Zero,
	}

	base := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("created_at >= ? AND created_at < ?", from, to)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	type statusRow struct {
		Status string
		Count  int64
	}
	var rows []statusRow
	err := base.Session(&gorm.Session{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
	}

	var revenue string
	err = base.Session(&gorm.Session{}).
		Where("status IN ?", []models.PaymentStatus{
			models.PaymentStatusSucceeded,
			models.PaymentStatusPartiallyRefunded,
			models.PaymentStatusRefunded,
		}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	stats.TotalRevenue, err = decimal.NewFromString(revenue)
	if err != nil {
		return nil, err
	}

	var refunded string
	err = r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Where("status = ?", models.PaymentStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&refunded).Error
	if err != nil {
		return nil, err
	}
	stats.RefundedAmount, err = decimal.NewFromString(refunded)
	if err != nil {
		return nil, err
	}

	// Средний чек считаем по оплаченным платежам (выручка / их число)
	paidCount := stats.ByStatus[string(models.PaymentStatusSucceeded)] +
		stats.ByStatus[string(models.PaymentStatusPartiallyRefunded)] +
		stats.ByStatus[string(models.PaymentStatusRefunded)]
	if paidCount > 0 {
		stats.AverageAmount = stats.TotalRevenue.Div(decimal.NewFromInt(paidCount)).Round(2)
	}

	return stats, nil
}

// --- Refunds ---

func (r *PaymentRepositoryImpl) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *PaymentRepositoryImpl) SaveRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

func (r *PaymentRepositoryImpl) FindRefundByID(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *PaymentRepositoryImpl) FindRefundByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *PaymentRepositoryImpl) FindRefundsByPayment(ctx context.Context, paymentID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

func (r *PaymentRepositoryImpl) SucceededRefundTotal(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	var total string
	err := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("payment_id = ? AND status = ?", paymentID, models.PaymentStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}
