package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/email"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/models"
	"gongbu_payments/internal/repositories"
	"gongbu_payments/pkg/apperrors"
)

const (
	orderNumberAttempts = 5
	// Транзакции переходов статуса повторяются при сбоях хранилища
	storageAttempts = 3
)

// withStorageRetry выполняет транзакцию перехода, повторяя ее при сбое
// хранилища до storageAttempts раз; последняя ошибка отдается наверх.
// Доменные ошибки и not-found репозитория не ретраятся.
func withStorageRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storageAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryableStorageErr(err) {
			return err
		}
		logger.CtxWarn(ctx, "storage error during status transition",
			"op", op, "attempt", attempt, "error", err.Error())
	}
	return err
}

func retryableStorageErr(err error) bool {
	if _, ok := apperrors.AsAppError(err); ok {
		return false
	}
	if apperrors.Is(err, repositories.ErrPaymentNotFound) ||
		apperrors.Is(err, repositories.ErrRefundNotFound) {
		return false
	}
	return true
}

type PaymentService interface {
	CreatePayment(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.PaymentCreatedResponse, error)
	GetPayment(ctx context.Context, userID, paymentID string) (*models.Payment, error)
	GetPaymentByOrderNumber(ctx context.Context, userID, orderNumber string) (*models.Payment, error)
	ListPayments(ctx context.Context, filter dto.PaymentFilter) (*dto.PaymentListResponse, error)
	ProcessRefund(ctx context.Context, userID, paymentID string, req *dto.ProcessRefundRequest) (*dto.RefundResponse, error)
	GetStats(ctx context.Context, from, to time.Time) (*repositories.PaymentStats, error)

	// ApplyExternalPaymentStatus применяет статус от провайдера через
	// guarded transition. Единственный вход для webhook'ов и reconciliation.
	ApplyExternalPaymentStatus(ctx context.Context, provider models.PaymentProvider, externalID string, to models.PaymentStatus, providerData []byte, comment string) (bool, error)
	// ApplyExternalRefundStatus - то же для возвратов; при успехе возврата
	// пересчитывает остаток и двигает родительский платеж.
	ApplyExternalRefundStatus(ctx context.Context, provider models.PaymentProvider, externalID string, to models.PaymentStatus, providerData []byte) (bool, error)
	// ResolvePayment опрашивает провайдера и применяет актуальный статус
	ResolvePayment(ctx context.Context, payment *models.Payment) error
}

type paymentService struct {
	paymentRepo    repositories.PaymentRepository
	registry       *gateway.Registry
	emailProvider  email.Provider
	minAmount      decimal.Decimal
	maxAmount      decimal.Decimal
	gatewayTimeout time.Duration
}

func NewPaymentService(
	paymentRepo repositories.PaymentRepository,
	registry *gateway.Registry,
	emailProvider email.Provider,
	minAmount, maxAmount decimal.Decimal,
	gatewayTimeout time.Duration,
) PaymentService {
	return &paymentService{
		paymentRepo:    paymentRepo,
		registry:       registry,
		emailProvider:  emailProvider,
		minAmount:      minAmount,
		maxAmount:      maxAmount,
		gatewayTimeout: gatewayTimeout,
	}
}

// transitPayment - единственная точка смены статуса платежа.
// Запрещенный переход молча игнорируется: replay и out-of-order
// webhook'и не должны ронять обработку.
func transitPayment(p *models.Payment, to models.PaymentStatus, comment string) bool {
	if !models.CanTransitPayment(p.Status, to) {
		return false
	}
	p.Status = to
	p.AppendHistory(to, comment)
	if to == models.PaymentStatusSucceeded {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	return true
}

// transitRefund - то же для возвратов
func transitRefund(r *models.Refund, to models.PaymentStatus) bool {
	if !models.CanTransitRefund(r.Status, to) {
		return false
	}
	r.Status = to
	if to == models.PaymentStatusSucceeded {
		now := time.Now().UTC()
		r.ProcessedAt = &now
	}
	return true
}

func (s *paymentService) CreatePayment(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.PaymentCreatedResponse, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperrors.ErrInvalidPaymentAmount("Amount must be a decimal string")
	}
	if amount.LessThan(s.minAmount) {
		return nil, apperrors.ErrInvalidPaymentAmount(
			fmt.Sprintf("Amount must be at least %s", s.minAmount.String()))
	}
	if amount.GreaterThan(s.maxAmount) {
		return nil, apperrors.ErrInvalidPaymentAmount(
			fmt.Sprintf("Amount must not exceed %s", s.maxAmount.String()))
	}

	provider := models.PaymentProvider(req.Provider)
	gw, err := s.registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	orderNumber, err := s.generateOrderNumber(ctx)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	payment := &models.Payment{
		OrderNumber:   orderNumber,
		UserID:        userID,
		CourseID:      req.CourseID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		PaymentMethod: models.PaymentMethodCard,
		Provider:      provider,
		Status:        models.PaymentStatusPending,
	}
	if req.ReturnURL != "" {
		payment.ReturnURL = &req.ReturnURL
	}
	if req.ReceiptEmail != "" {
		payment.ReceiptEmail = &req.ReceiptEmail
	}
	if len(req.Metadata) > 0 {
		raw, _ := json.Marshal(req.Metadata)
		payment.Metadata = datatypes.JSON(raw)
	}
	payment.AppendHistory(models.PaymentStatusPending, "payment created")

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, apperrors.InternalError(err)
	}

	// Вызов провайдера вне транзакции
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, err := gw.CreatePayment(gwCtx, gateway.CreatePaymentInput{
		OrderNumber:  orderNumber,
		Amount:       amount,
		Currency:     req.Currency,
		Description:  req.Description,
		ReturnURL:    req.ReturnURL,
		ReceiptEmail: req.ReceiptEmail,
		Metadata:     req.Metadata,
	})
	if err != nil {
		if gateway.IsAmbiguous(err) {
			// Исход неизвестен: платеж остается PENDING,
			// разрешит webhook или reconciliation worker.
			logger.CtxWarn(ctx, "payment creation outcome ambiguous",
				"payment_id", payment.ID, "provider", provider)
			return &dto.PaymentCreatedResponse{Payment: payment}, nil
		}
		s.failPayment(ctx, payment.ID, err.Error())
		return nil, apperrors.ErrGateway(err, "Provider rejected the payment")
	}

	err = withStorageRetry(ctx, "finalize payment", func() error {
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			locked, err := tx.FindByIDForUpdate(ctx, payment.ID)
			if err != nil {
				return err
			}
			locked.ExternalID = &intent.ExternalID
			if intent.ConfirmationURL != "" {
				locked.ConfirmationURL = &intent.ConfirmationURL
			}
			if len(intent.Raw) > 0 {
				locked.ProviderData = datatypes.JSON(intent.Raw)
			}
			transitPayment(locked, intent.Status, "provider accepted payment")
			if err := tx.Save(ctx, locked); err != nil {
				return err
			}
			payment = locked
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	if payment.Status == models.PaymentStatusSucceeded {
		s.sendReceipt(payment)
	}

	return &dto.PaymentCreatedResponse{
		Payment:         payment,
		ConfirmationURL: intent.ConfirmationURL,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// failPayment переводит платеж в FAILED после определенного отказа провайдера
func (s *paymentService) failPayment(ctx context.Context, paymentID, reason string) {
	err := withStorageRetry(ctx, "fail payment", func() error {
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			locked, err := tx.FindByIDForUpdate(ctx, paymentID)
			if err != nil {
				return err
			}
			if transitPayment(locked, models.PaymentStatusFailed, reason) {
				return tx.Save(ctx, locked)
			}
			return nil
		})
	})
	if err != nil {
		logger.CtxWithError(ctx, "failed to mark payment as failed", err, "payment_id", paymentID)
	}
}

func (s *paymentService) generateOrderNumber(ctx context.Context) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		candidate := fmt.Sprintf("GB-%d-%03d", time.Now().UnixMilli(), rand.Intn(1000))
		exists, err := s.paymentRepo.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("order number collision after %d attempts", orderNumberAttempts)
}

func (s *paymentService) GetPayment(ctx context.Context, userID, paymentID string) (*models.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, apperrors.ErrNotFound(err)
	}
	if userID != "" && payment.UserID != userID {
		return nil, apperrors.ErrNotFound(repositories.ErrPaymentNotFound)
	}
	return payment, nil
}

func (s *paymentService) GetPaymentByOrderNumber(ctx context.Context, userID, orderNumber string) (*models.Payment, error) {
	payment, err := s.paymentRepo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, apperrors.ErrNotFound(err)
	}
	if userID != "" && payment.UserID != userID {
		return nil, apperrors.ErrNotFound(repositories.ErrPaymentNotFound)
	}
	return payment, nil
}

func (s *paymentService) ListPayments(ctx context.Context, filter dto.PaymentFilter) (*dto.PaymentListResponse, error) {
	payments, total, err := s.paymentRepo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return &dto.PaymentListResponse{
		Payments: payments,
		Total:    total,
		Page:     page,
		Limit:    filter.PageSize(),
	}, nil
}

func (s *paymentService) ProcessRefund(ctx context.Context, userID, paymentID string, req *dto.ProcessRefundRequest) (*dto.RefundResponse, error) {
	var refundAmount decimal.Decimal
	if req.Amount != "" {
		var err error
		refundAmount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			return nil, apperrors.ErrInvalidPaymentAmount("Amount must be a decimal string")
		}
		if !refundAmount.IsPositive() {
			return nil, apperrors.ErrInvalidPaymentAmount("Refund amount must be positive")
		}
	}

	var (
		payment *models.Payment
		refund  *models.Refund
	)

	// Фаза 1: под локом проверяем статус и остаток, создаем PENDING возврат
	err := s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
		locked, err := tx.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if userID != "" && locked.UserID != userID {
			return repositories.ErrPaymentNotFound
		}
		if locked.Status != models.PaymentStatusSucceeded &&
			locked.Status != models.PaymentStatusPartiallyRefunded {
			return apperrors.ErrPaymentNotRefundable
		}

		refunded, err := tx.SucceededRefundTotal(ctx, locked.ID)
		if err != nil {
			return err
		}
		available := locked.Amount.Sub(refunded)

		if req.Amount == "" {
			refundAmount = available
		}
		if refundAmount.GreaterThan(available) {
			return apperrors.ErrInsufficientRefundBalance(
				fmt.Sprintf("Refund amount %s exceeds available balance %s",
					refundAmount.StringFixed(2), available.StringFixed(2)))
		}
		if !refundAmount.IsPositive() {
			return apperrors.ErrInsufficientRefundBalance("Nothing left to refund")
		}

		refund = &models.Refund{
			PaymentID:   locked.ID,
			Amount:      refundAmount,
			Currency:    locked.Currency,
			Reason:      req.Reason,
			Status:      models.PaymentStatusPending,
			Provider:    locked.Provider,
			RequestedBy: userID,
		}
		payment = locked
		return tx.CreateRefund(ctx, refund)
	})
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			return nil, appErr
		}
		if apperrors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, apperrors.ErrNotFound(err)
		}
		return nil, apperrors.InternalError(err)
	}

	gw, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}
	if payment.ExternalID == nil {
		return nil, apperrors.ErrInvalidStatus("refund", "Payment has no provider reference")
	}

	// Фаза 2: вызов провайдера вне транзакции
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := gw.CreateRefund(gwCtx, gateway.RefundInput{
		PaymentExternalID: *payment.ExternalID,
		Amount:            refundAmount,
		Currency:          payment.Currency,
		Reason:            req.Reason,
	})
	if err != nil {
		if gateway.IsAmbiguous(err) {
			// Возврат остается PENDING до webhook'а или reconciliation
			logger.CtxWarn(ctx, "refund outcome ambiguous",
				"refund_id", refund.ID, "payment_id", payment.ID)
			return &dto.RefundResponse{Refund: refund, Payment: payment}, nil
		}
		s.failRefund(ctx, refund.ID)
		return nil, apperrors.ErrGateway(err, "Provider rejected the refund")
	}

	// Фаза 3: фиксируем результат и двигаем родительский платеж
	err = withStorageRetry(ctx, "finalize refund", func() error {
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			lockedPayment, err := tx.FindByIDForUpdate(ctx, payment.ID)
			if err != nil {
				return err
			}
			lockedRefund, err := tx.FindRefundByID(ctx, refund.ID)
			if err != nil {
				return err
			}

			lockedRefund.ExternalID = &result.ExternalID
			if len(result.Raw) > 0 {
				lockedRefund.ProviderData = datatypes.JSON(result.Raw)
			}
			transitRefund(lockedRefund, result.Status)
			if err := tx.SaveRefund(ctx, lockedRefund); err != nil {
				return err
			}

			if lockedRefund.Status == models.PaymentStatusSucceeded {
				if err := applyRefundToPayment(ctx, tx, lockedPayment); err != nil {
					return err
				}
			}

			refund = lockedRefund
			payment = lockedPayment
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	return &dto.RefundResponse{Refund: refund, Payment: payment}, nil
}

// applyRefundToPayment пересчитывает возвращенный остаток и двигает платеж
// в PARTIALLY_REFUNDED или REFUNDED. Вызывается только под локом платежа.
func applyRefundToPayment(ctx context.Context, tx repositories.PaymentRepository, payment *models.Payment) error {
	refunded, err := tx.SucceededRefundTotal(ctx, payment.ID)
	if err != nil {
		return err
	}

	target := models.PaymentStatusPartiallyRefunded
	comment := fmt.Sprintf("refunded %s of %s", refunded.StringFixed(2), payment.Amount.StringFixed(2))
	if refunded.GreaterThanOrEqual(payment.Amount) {
		target = models.PaymentStatusRefunded
		comment = "fully refunded"
	}

	if transitPayment(payment, target, comment) {
		return tx.Save(ctx, payment)
	}
	return nil
}

func (s *paymentService) failRefund(ctx context.Context, refundID string) {
	err := withStorageRetry(ctx, "fail refund", func() error {
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			refund, err := tx.FindRefundByID(ctx, refundID)
			if err != nil {
				return err
			}
			if transitRefund(refund, models.PaymentStatusFailed) {
				return tx.SaveRefund(ctx, refund)
			}
			return nil
		})
	})
	if err != nil {
		logger.CtxWithError(ctx, "failed to mark refund as failed", err, "refund_id", refundID)
	}
}

func (s *paymentService) GetStats(ctx context.Context, from, to time.Time) (*repositories.PaymentStats, error) {
	stats, err := s.paymentRepo.GetStats(ctx, from, to)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return stats, nil
}

func (s *paymentService) ApplyExternalPaymentStatus(ctx context.Context, provider models.PaymentProvider, externalID string, to models.PaymentStatus, providerData []byte, comment string) (bool, error) {
	var (
		changed bool
		payment *models.Payment
	)
	err := withStorageRetry(ctx, "apply external payment status", func() error {
		changed = false
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			locked, err := tx.FindByExternalIDForUpdate(ctx, provider, externalID)
			if err != nil {
				return err
			}
			if transitPayment(locked, to, comment) {
				changed = true
				if len(providerData) > 0 {
					locked.ProviderData = datatypes.JSON(providerData)
				}
				if err := tx.Save(ctx, locked); err != nil {
					return err
				}
			}
			payment = locked
			return nil
		})
	})
	if err != nil {
		return false, err
	}

	if changed && payment.Status == models.PaymentStatusSucceeded {
		s.sendReceipt(payment)
	}
	return changed, nil
}

func (s *paymentService) ApplyExternalRefundStatus(ctx context.Context, provider models.PaymentProvider, externalID string, to models.PaymentStatus, providerData []byte) (bool, error) {
	var changed bool
	err := withStorageRetry(ctx, "apply external refund status", func() error {
		changed = false
		return s.paymentRepo.Transaction(ctx, func(tx repositories.PaymentRepository) error {
			refund, err := tx.FindRefundByExternalIDForUpdate(ctx, provider, externalID)
			if err != nil {
				return err
			}
			// Родительский платеж тоже под лок: его статус пересчитывается
			// от суммы успешных возвратов.
			payment, err := tx.FindByIDForUpdate(ctx, refund.PaymentID)
			if err != nil {
				return err
			}

			if !transitRefund(refund, to) {
				return nil
			}
			changed = true
			if len(providerData) > 0 {
				refund.ProviderData = datatypes.JSON(providerData)
			}
			if err := tx.SaveRefund(ctx, refund); err != nil {
				return err
			}

			if refund.Status == models.PaymentStatusSucceeded {
				return applyRefundToPayment(ctx, tx, payment)
			}
			return nil
		})
	})
	return changed, err
}

// ResolvePayment опрашивает провайдера об актуальном статусе зависшего
// платежа и применяет его через guarded transition.
func (s *paymentService) ResolvePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ExternalID == nil {
		return nil
	}
	gw, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	state, err := gw.GetPayment(gwCtx, *payment.ExternalID)
	if err != nil {
		return err
	}

	_, err = s.ApplyExternalPaymentStatus(ctx, payment.Provider, *payment.ExternalID,
		state.Status, state.Raw, "reconciliation poll")
	return err
}

func (s *paymentService) sendReceipt(payment *models.Payment) {
	if s.emailProvider == nil || payment.ReceiptEmail == nil {
		return
	}
	go func(p models.Payment, to string) {
		msg, err := email.BuildPaymentReceipt(&p, to)
		if err != nil {
			logger.Error("failed to build payment receipt", "payment_id", p.ID, "error", err.Error())
			return
		}
		if err := s.emailProvider.Send(msg); err != nil {
			logger.Error("failed to send payment receipt", "payment_id", p.ID, "error", err.Error())
		}
	}(*payment, *payment.ReceiptEmail)
}
