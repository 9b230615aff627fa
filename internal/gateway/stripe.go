package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/models"
)

// StripeGateway - шлюз Stripe поверх официального SDK.
// Суммы у Stripe в минорных единицах (копейки/центы).
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	// plan_id -> stripe price id
	planPrices map[string]string
}

func NewStripeGateway(secretKey, webhookSecret string, planPrices map[string]string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
		planPrices:    planPrices,
	}
}

func (g *StripeGateway) Name() models.PaymentProvider {
	return models.ProviderStripe
}

func (g *StripeGateway) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentIntent, error) {
	started := time.Now()

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:       stripe.Int64(toMinorUnits(in.Amount)),
		Currency:     stripe.String(strings.ToLower(in.Currency)),
		Description:  stripe.String(in.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(in.ReceiptEmail)
	}
	params.AddMetadata("order_number", in.OrderNumber)
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	// Свежий ключ на каждую попытку: ретраи после неоднозначного исхода
	// не должны переиспользовать старый ключ.
	params.SetIdempotencyKey(uuid.NewString())

	pi, err := g.api.PaymentIntents.New(params)
	logger.GatewayLog(string(models.ProviderStripe), "create_payment", time.Since(started), err)
	if err != nil {
		return nil, g.wrapErr(err)
	}

	raw, _ := json.Marshal(pi)
	return &PaymentIntent{
		ExternalID:   pi.ID,
		Status:       mapStripePaymentStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
		Raw:          raw,
	}, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	started := time.Now()

	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context: ctx,
		},
		PaymentIntent: stripe.String(in.PaymentExternalID),
		Amount:        stripe.Int64(toMinorUnits(in.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if in.Reason != "" {
		params.AddMetadata("reason", in.Reason)
	}
	params.SetIdempotencyKey(uuid.NewString())

	ref, err := g.api.Refunds.New(params)
	logger.GatewayLog(string(models.ProviderStripe), "create_refund", time.Since(started), err)
	if err != nil {
		return nil, g.wrapErr(err)
	}

	raw, _ := json.Marshal(ref)
	return &RefundResult{
		ExternalID: ref.ID,
		Status:     mapStripeRefundStatus(ref.Status),
		Raw:        raw,
	}, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	priceID, ok := g.planPrices[in.PlanID]
	if !ok {
		return nil, &GatewayError{
			Provider: models.ProviderStripe,
			Code:     "unknown_plan",
			Message:  fmt.Sprintf("no price configured for plan %q", in.PlanID),
			HTTPCode: 400,
		}
	}

	started := time.Now()

	custParams := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Email: stripe.String(in.CustomerEmail),
	}
	custParams.AddMetadata("user_id", in.UserID)
	custParams.SetIdempotencyKey(uuid.NewString())

	cust, err := g.api.Customers.New(custParams)
	if err != nil {
		logger.GatewayLog(string(models.ProviderStripe), "create_subscription", time.Since(started), err)
		return nil, g.wrapErr(err)
	}

	subParams := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	subParams.AddMetadata("user_id", in.UserID)
	subParams.AddMetadata("plan_id", in.PlanID)
	for k, v := range in.Metadata {
		subParams.AddMetadata(k, v)
	}
	subParams.AddExpand("latest_invoice.payment_intent")
	subParams.SetIdempotencyKey(uuid.NewString())

	sub, err := g.api.Subscriptions.New(subParams)
	logger.GatewayLog(string(models.ProviderStripe), "create_subscription", time.Since(started), err)
	if err != nil {
		return nil, g.wrapErr(err)
	}

	var clientSecret string
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		clientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}

	raw, _ := json.Marshal(sub)
	periodStart := time.Unix(sub.CurrentPeriodStart, 0).UTC()
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	return &SubscriptionResult{
		ExternalID:         sub.ID,
		Status:             mapStripeSubscriptionStatus(sub.Status),
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		ClientSecret:       clientSecret,
		Raw:                raw,
	}, nil
}

func (g *StripeGateway) GetPayment(ctx context.Context, externalID string) (*PaymentState, error) {
	started := time.Now()

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	pi, err := g.api.PaymentIntents.Get(externalID, params)
	logger.GatewayLog(string(models.ProviderStripe), "get_payment", time.Since(started), err)
	if err != nil {
		return nil, g.wrapErr(err)
	}

	raw, _ := json.Marshal(pi)
	return &PaymentState{
		ExternalID: pi.ID,
		Status:     mapStripePaymentStatus(pi.Status),
		Raw:        raw,
	}, nil
}

func (g *StripeGateway) VerifyAndParseWebhook(payload []byte, signature string) (*CanonicalEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, &SignatureError{Provider: models.ProviderStripe, Err: err}
	}

	ce := &CanonicalEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Provider:  models.ProviderStripe,
		Kind:      ObjectUnknown,
		Raw:       event.Data.Raw,
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe webhook: unmarshal payment intent: %w", err)
		}
		ce.Kind = ObjectPayment
		ce.ExternalID = pi.ID
		ce.PaymentStatus = mapStripePaymentStatus(pi.Status)

	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe webhook: unmarshal subscription: %w", err)
		}
		ce.Kind = ObjectSubscription
		ce.ExternalID = sub.ID
		if event.Type == "customer.subscription.deleted" {
			ce.SubscriptionStatus = models.SubscriptionStatusCancelled
		} else {
			ce.SubscriptionStatus = mapStripeSubscriptionStatus(sub.Status)
		}
		periodStart := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		ce.PeriodStart = &periodStart
		ce.PeriodEnd = &periodEnd

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe webhook: unmarshal invoice: %w", err)
		}
		if inv.Subscription == nil {
			// Инвойс без подписки нам не интересен
			break
		}
		ce.Kind = ObjectSubscription
		ce.ExternalID = inv.Subscription.ID
		if event.Type == "invoice.payment_succeeded" {
			ce.SubscriptionStatus = models.SubscriptionStatusActive
		} else {
			ce.SubscriptionStatus = models.SubscriptionStatusPastDue
		}
		periodStart := time.Unix(inv.PeriodStart, 0).UTC()
		periodEnd := time.Unix(inv.PeriodEnd, 0).UTC()
		ce.PeriodStart = &periodStart
		ce.PeriodEnd = &periodEnd
	}

	return ce, nil
}

// wrapErr разделяет определенные отказы и неоднозначные исходы.
// 5xx и сетевые ошибки - неоднозначно: возможно, Stripe запрос принял.
func (g *StripeGateway) wrapErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 {
			return &AmbiguousError{Provider: models.ProviderStripe, Err: err}
		}
		return &GatewayError{
			Provider: models.ProviderStripe,
			Code:     string(se.Code),
			Message:  se.Msg,
			HTTPCode: se.HTTPStatusCode,
		}
	}
	return &AmbiguousError{Provider: models.ProviderStripe, Err: err}
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func mapStripePaymentStatus(s stripe.PaymentIntentStatus) models.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return models.PaymentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func mapStripeRefundStatus(s stripe.RefundStatus) models.PaymentStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return models.PaymentStatusSucceeded
	case stripe.RefundStatusPending:
		return models.PaymentStatusProcessing
	case stripe.RefundStatusFailed:
		return models.PaymentStatusFailed
	case stripe.RefundStatusCanceled:
		return models.PaymentStatusCancelled
	default:
		return models.PaymentStatusPending
	}
}

func mapStripeSubscriptionStatus(s stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusUnpaid
	default:
		return models.SubscriptionStatusIncomplete
	}
}
