package services

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/models"
	"gongbu_payments/internal/repositories"
	"gongbu_payments/pkg/apperrors"
)

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionCreatedResponse, error)
	GetUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
}

type subscriptionService struct {
	subscriptionRepo repositories.SubscriptionRepository
	registry         *gateway.Registry
	gatewayTimeout   time.Duration
}

func NewSubscriptionService(
	subscriptionRepo repositories.SubscriptionRepository,
	registry *gateway.Registry,
	gatewayTimeout time.Duration,
) SubscriptionService {
	return &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		registry:         registry,
		gatewayTimeout:   gatewayTimeout,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionCreatedResponse, error) {
	provider := models.PaymentProvider(req.Provider)
	gw, err := s.registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	hasActive, err := s.subscriptionRepo.HasActive(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if hasActive {
		return nil, apperrors.ErrActiveSubscriptionExists
	}

	subscription := &models.Subscription{
		UserID:   userID,
		PlanID:   req.PlanID,
		Provider: provider,
		Status:   models.SubscriptionStatusIncomplete,
	}
	if err := s.subscriptionRepo.Create(ctx, subscription); err != nil {
		return nil, apperrors.InternalError(err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := gw.CreateSubscription(gwCtx, gateway.SubscriptionInput{
		UserID:        userID,
		PlanID:        req.PlanID,
		CustomerEmail: req.Email,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if apperrors.Is(err, gateway.ErrSubscriptionsUnsupported) {
			return nil, apperrors.ErrSubscriptionsNotSupported
		}
		if gateway.IsAmbiguous(err) {
			// Подписка остается INCOMPLETE, провайдер доскажет webhook'ом
			return &dto.SubscriptionCreatedResponse{Subscription: subscription}, nil
		}
		return nil, apperrors.ErrGateway(err, "Provider rejected the subscription")
	}

	subscription.ExternalID = &result.ExternalID
	subscription.Status = result.Status
	subscription.CurrentPeriodStart = result.CurrentPeriodStart
	subscription.CurrentPeriodEnd = result.CurrentPeriodEnd
	if len(result.Raw) > 0 {
		subscription.ProviderData = datatypes.JSON(result.Raw)
	}
	if err := s.subscriptionRepo.Save(ctx, subscription); err != nil {
		return nil, apperrors.InternalError(err)
	}

	return &dto.SubscriptionCreatedResponse{
		Subscription: subscription,
		ClientSecret: result.ClientSecret,
	}, nil
}

func (s *subscriptionService) GetUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	subscriptions, err := s.subscriptionRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return subscriptions, nil
}
