package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/models"
	"gongbu_payments/pkg/apperrors"
)

func newTestSubscriptionService(repo *fakeSubscriptionRepo, gw gateway.Gateway) SubscriptionService {
	return NewSubscriptionService(repo, gateway.NewRegistry(gw), 5*time.Second)
}

func TestCreateSubscription_Success(t *testing.T) {
	t.Parallel()

	repo := newFakeSubscriptionRepo()
	gw := newFakeGateway(models.ProviderStripe)
	periodStart := time.Now().UTC()
	periodEnd := periodStart.AddDate(0, 1, 0)
	gw.createSubscriptionFn = func(in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
		assert.Equal(t, "pro", in.PlanID)
		return &gateway.SubscriptionResult{
			ExternalID:         "sub-ext-1",
			Status:             models.SubscriptionStatusIncomplete,
			CurrentPeriodStart: &periodStart,
			CurrentPeriodEnd:   &periodEnd,
			ClientSecret:       "pi_secret_123",
		}, nil
	}
	svc := newTestSubscriptionService(repo, gw)

	resp, err := svc.CreateSubscription(context.Background(), "user-1", &dto.CreateSubscriptionRequest{
		PlanID:   "pro",
		Provider: "STRIPE",
		Email:    "student@gongbu.app",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_secret_123", resp.ClientSecret)
	require.NotNil(t, resp.Subscription.ExternalID)
	assert.Equal(t, "sub-ext-1", *resp.Subscription.ExternalID)
	assert.Equal(t, models.SubscriptionStatusIncomplete, resp.Subscription.Status)
	require.NotNil(t, resp.Subscription.CurrentPeriodEnd)
}

func TestCreateSubscription_ActiveAlreadyExists(t *testing.T) {
	t.Parallel()

	repo := newFakeSubscriptionRepo()
	require.NoError(t, repo.Create(context.Background(), &models.Subscription{
		UserID:   "user-1",
		PlanID:   "pro",
		Provider: models.ProviderStripe,
		Status:   models.SubscriptionStatusActive,
	}))
	svc := newTestSubscriptionService(repo, newFakeGateway(models.ProviderStripe))

	_, err := svc.CreateSubscription(context.Background(), "user-1", &dto.CreateSubscriptionRequest{
		PlanID:   "pro",
		Provider: "STRIPE",
	})
	require.ErrorIs(t, err, apperrors.ErrActiveSubscriptionExists)

	// У другого пользователя конфликта нет
	_, err = svc.CreateSubscription(context.Background(), "user-2", &dto.CreateSubscriptionRequest{
		PlanID:   "pro",
		Provider: "STRIPE",
	})
	assert.NoError(t, err)
}

func TestCreateSubscription_ProviderWithoutSubscriptions(t *testing.T) {
	t.Parallel()

	repo := newFakeSubscriptionRepo()
	gw := newFakeGateway(models.ProviderYooKassa)
	gw.createSubscriptionFn = func(in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
		return nil, gateway.ErrSubscriptionsUnsupported
	}
	svc := newTestSubscriptionService(repo, gw)

	_, err := svc.CreateSubscription(context.Background(), "user-1", &dto.CreateSubscriptionRequest{
		PlanID:   "pro",
		Provider: "YOOKASSA",
	})
	assert.ErrorIs(t, err, apperrors.ErrSubscriptionsNotSupported)
}

func TestCreateSubscription_AmbiguousLeavesIncomplete(t *testing.T) {
	t.Parallel()

	repo := newFakeSubscriptionRepo()
	gw := newFakeGateway(models.ProviderStripe)
	gw.createSubscriptionFn = func(in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
		return nil, &gateway.AmbiguousError{Provider: models.ProviderStripe, Err: errors.New("timeout")}
	}
	svc := newTestSubscriptionService(repo, gw)

	resp, err := svc.CreateSubscription(context.Background(), "user-1", &dto.CreateSubscriptionRequest{
		PlanID:   "pro",
		Provider: "STRIPE",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusIncomplete, resp.Subscription.Status)
	assert.Nil(t, resp.Subscription.ExternalID)
}

func TestGetUserSubscriptions(t *testing.T) {
	t.Parallel()

	repo := newFakeSubscriptionRepo()
	require.NoError(t, repo.Create(context.Background(), &models.Subscription{
		UserID: "user-1", PlanID: "pro", Provider: models.ProviderStripe, Status: models.SubscriptionStatusActive,
	}))
	require.NoError(t, repo.Create(context.Background(), &models.Subscription{
		UserID: "user-2", PlanID: "pro", Provider: models.ProviderStripe, Status: models.SubscriptionStatusActive,
	}))
	svc := newTestSubscriptionService(repo, newFakeGateway(models.ProviderStripe))

	subscriptions, err := svc.GetUserSubscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, subscriptions, 1)
}
