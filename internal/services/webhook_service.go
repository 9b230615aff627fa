package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/models"
	"gongbu_payments/internal/repositories"
	"gongbu_payments/pkg/apperrors"
)

// WebhookResult - итог обработки входящего события
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate"`
}

type WebhookService interface {
	// HandleWebhook проверяет подпись, дедуплицирует и применяет событие.
	// После успешной проверки подписи всегда возвращает результат без ошибки:
	// провайдер не должен ретраить события, которые мы не смогли применить
	// (их добьет reconciliation worker).
	HandleWebhook(ctx context.Context, provider models.PaymentProvider, payload []byte, signature string) (*WebhookResult, error)
}

type webhookService struct {
	registry         *gateway.Registry
	webhookEventRepo repositories.WebhookEventRepository
	paymentService   PaymentService
	subscriptionRepo repositories.SubscriptionRepository
}

func NewWebhookService(
	registry *gateway.Registry,
	webhookEventRepo repositories.WebhookEventRepository,
	paymentService PaymentService,
	subscriptionRepo repositories.SubscriptionRepository,
) WebhookService {
	return &webhookService{
		registry:         registry,
		webhookEventRepo: webhookEventRepo,
		paymentService:   paymentService,
		subscriptionRepo: subscriptionRepo,
	}
}

func (s *webhookService) HandleWebhook(ctx context.Context, provider models.PaymentProvider, payload []byte, signature string) (*WebhookResult, error) {
	gw, err := s.registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	event, err := gw.VerifyAndParseWebhook(payload, signature)
	if err != nil {
		if gateway.IsSignatureError(err) {
			return nil, apperrors.ErrInvalidWebhookSignature
		}
		return nil, apperrors.NewBadRequestError("Malformed webhook payload")
	}

	// Дедупликация: выигрывает ровно одна вставка по (provider, event_id)
	inserted, err := s.webhookEventRepo.InsertIfAbsent(ctx, &models.WebhookEvent{
		EventID:    event.EventID,
		EventType:  event.EventType,
		Provider:   provider,
		Data:       datatypes.JSON(payload),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if !inserted {
		logger.CtxInfo(ctx, "duplicate webhook event ignored",
			"provider", provider, "event_id", event.EventID)
		return &WebhookResult{
			EventID:   event.EventID,
			EventType: event.EventType,
			Duplicate: true,
		}, nil
	}

	processed, processErr := s.applyEvent(ctx, event)
	if processErr != nil {
		logger.CtxWithError(ctx, "webhook event processing failed", processErr,
			"provider", provider, "event_id", event.EventID, "event_type", event.EventType)
	}

	if err := s.webhookEventRepo.MarkProcessed(ctx, provider, event.EventID, processErr); err != nil {
		logger.CtxWithError(ctx, "failed to update webhook event", err,
			"provider", provider, "event_id", event.EventID)
	}

	return &WebhookResult{
		EventID:   event.EventID,
		EventType: event.EventType,
		Processed: processed,
	}, nil
}

// unknownEntityErr - событие пришло раньше, чем локальная запись узнала свой
// external id. Фиксируется в error_message журнала при processed=false:
// такое событие разрешит повторная доставка провайдера или ручная сверка.
func unknownEntityErr(kind string, event *gateway.CanonicalEvent) error {
	return fmt.Errorf("no local %s for %s external id %s, event kept unprocessed",
		kind, event.Provider, event.ExternalID)
}

func (s *webhookService) applyEvent(ctx context.Context, event *gateway.CanonicalEvent) (bool, error) {
	switch event.Kind {
	case gateway.ObjectPayment:
		changed, err := s.paymentService.ApplyExternalPaymentStatus(ctx,
			event.Provider, event.ExternalID, event.PaymentStatus, event.Raw,
			"webhook "+event.EventType)
		if err != nil {
			if apperrors.Is(err, repositories.ErrPaymentNotFound) {
				logger.CtxWarn(ctx, "webhook arrived before local payment",
					"provider", event.Provider, "external_id", event.ExternalID)
				return false, unknownEntityErr("payment", event)
			}
			return false, err
		}
		return changed, nil

	case gateway.ObjectRefund:
		changed, err := s.paymentService.ApplyExternalRefundStatus(ctx,
			event.Provider, event.ExternalID, event.PaymentStatus, event.Raw)
		if err != nil {
			if apperrors.Is(err, repositories.ErrRefundNotFound) {
				logger.CtxWarn(ctx, "webhook arrived before local refund",
					"provider", event.Provider, "external_id", event.ExternalID)
				return false, unknownEntityErr("refund", event)
			}
			return false, err
		}
		return changed, nil

	case gateway.ObjectSubscription:
		return s.applySubscriptionEvent(ctx, event)

	default:
		logger.CtxInfo(ctx, "webhook event ignored",
			"provider", event.Provider, "event_type", event.EventType)
		return false, nil
	}
}

func (s *webhookService) applySubscriptionEvent(ctx context.Context, event *gateway.CanonicalEvent) (bool, error) {
	var changed bool
	err := s.subscriptionRepo.Transaction(ctx, func(tx repositories.SubscriptionRepository) error {
		sub, err := tx.FindByExternalIDForUpdate(ctx, event.Provider, event.ExternalID)
		if err != nil {
			return err
		}

		sub.Status = event.SubscriptionStatus
		if event.PeriodStart != nil {
			sub.CurrentPeriodStart = event.PeriodStart
		}
		if event.PeriodEnd != nil {
			sub.CurrentPeriodEnd = event.PeriodEnd
		}
		if event.SubscriptionStatus == models.SubscriptionStatusCancelled && sub.CanceledAt == nil {
			now := time.Now().UTC()
			sub.CanceledAt = &now
		}
		if len(event.Raw) > 0 {
			sub.ProviderData = datatypes.JSON(event.Raw)
		}
		changed = true
		return tx.Save(ctx, sub)
	})
	if err != nil {
		if apperrors.Is(err, repositories.ErrSubscriptionNotFound) {
			logger.CtxWarn(ctx, "webhook arrived before local subscription",
				"provider", event.Provider, "external_id", event.ExternalID)
			return false, unknownEntityErr("subscription", event)
		}
		return false, err
	}
	return changed, nil
}
