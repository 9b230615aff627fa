package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/email"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/models"
	"gongbu_payments/internal/repositories"
)

// --- In-memory реализация PaymentRepository ---

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]models.Payment
	refunds  map[string]models.Refund
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[string]models.Payment),
		refunds:  make(map[string]models.Refund),
	}
}

func (r *fakePaymentRepo) Transaction(ctx context.Context, fn func(txRepo repositories.PaymentRepository) error) error {
	return fn(r)
}

func (r *fakePaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = time.Now().UTC()
	payment.UpdatedAt = payment.CreatedAt
	r.payments[payment.ID] = *payment
	return nil
}

func (r *fakePaymentRepo) Save(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.ID]; !ok {
		return repositories.ErrPaymentNotFound
	}
	payment.UpdatedAt = time.Now().UTC()
	r.payments[payment.ID] = *payment
	return nil
}

func (r *fakePaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, repositories.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *fakePaymentRepo) FindByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return r.FindByID(ctx, id)
}

func (r *fakePaymentRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderNumber == orderNumber {
			p := p
			return &p, nil
		}
	}
	return nil, repositories.ErrPaymentNotFound
}

func (r *fakePaymentRepo) FindByExternalID(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error) {
	return r.FindByExternalIDForUpdate(ctx, provider, externalID)
}

func (r *fakePaymentRepo) FindByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Provider == provider && p.ExternalID != nil && *p.ExternalID == externalID {
			p := p
			return &p, nil
		}
	}
	return nil, repositories.ErrPaymentNotFound
}

func (r *fakePaymentRepo) List(ctx context.Context, filter dto.PaymentFilter) ([]models.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && string(p.Status) != filter.Status {
			continue
		}
		if filter.Provider != "" && string(p.Provider) != filter.Provider {
			continue
		}
		if filter.DateFrom != nil && p.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && !p.CreatedAt.Before(*filter.DateTo) {
			continue
		}
		if filter.MinAmount != "" && p.Amount.LessThan(decimal.RequireFromString(filter.MinAmount)) {
			continue
		}
		if filter.MaxAmount != "" && p.Amount.GreaterThan(decimal.RequireFromString(filter.MaxAmount)) {
			continue
		}
		if filter.Search != "" && !paymentMatchesSearch(p, filter.Search) {
			continue
		}
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func paymentMatchesSearch(p models.Payment, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(p.OrderNumber), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(p.Description), needle) {
		return true
	}
	return p.ExternalID != nil && strings.Contains(strings.ToLower(*p.ExternalID), needle)
}

func (r *fakePaymentRepo) FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if len(out) >= limit {
			break
		}
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusProcessing {
			continue
		}
		if p.ExternalID == nil || !p.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *fakePaymentRepo) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePaymentRepo) GetStats(ctx context.Context, from, to time.Time) (*repositories.PaymentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repositories.PaymentStats{
		ByStatus:       make(map[string]int64),
		TotalRevenue:   decimal.Zero,
		RefundedAmount: decimal.Zero,
		AverageAmount:  decimal.Zero,
	}
	var paidCount int64
	for _, p := range r.payments {
		stats.TotalCount++
		stats.ByStatus[string(p.Status)]++
		switch p.Status {
		case models.PaymentStatusSucceeded, models.PaymentStatusPartiallyRefunded, models.PaymentStatusRefunded:
			stats.TotalRevenue = stats.TotalRevenue.Add(p.Amount)
			paidCount++
		}
	}
	for _, ref := range r.refunds {
		if ref.Status == models.PaymentStatusSucceeded {
			stats.RefundedAmount = stats.RefundedAmount.Add(ref.Amount)
		}
	}
	if paidCount > 0 {
		stats.AverageAmount = stats.TotalRevenue.Div(decimal.NewFromInt(paidCount)).Round(2)
	}
	return stats, nil
}

func (r *fakePaymentRepo) CreateRefund(ctx context.Context, refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	refund.CreatedAt = time.Now().UTC()
	r.refunds[refund.ID] = *refund
	return nil
}

func (r *fakePaymentRepo) SaveRefund(ctx context.Context, refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[refund.ID]; !ok {
		return repositories.ErrRefundNotFound
	}
	r.refunds[refund.ID] = *refund
	return nil
}

func (r *fakePaymentRepo) FindRefundByID(ctx context.Context, id string) (*models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.refunds[id]
	if !ok {
		return nil, repositories.ErrRefundNotFound
	}
	return &ref, nil
}

func (r *fakePaymentRepo) FindRefundByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.refunds {
		if ref.Provider == provider && ref.ExternalID != nil && *ref.ExternalID == externalID {
			ref := ref
			return &ref, nil
		}
	}
	return nil, repositories.ErrRefundNotFound
}

func (r *fakePaymentRepo) FindRefundsByPayment(ctx context.Context, paymentID string) ([]models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Refund
	for _, ref := range r.refunds {
		if ref.PaymentID == paymentID {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) SucceededRefundTotal(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, ref := range r.refunds {
		if ref.PaymentID == paymentID && ref.Status == models.PaymentStatusSucceeded {
			total = total.Add(ref.Amount)
		}
	}
	return total, nil
}

// --- In-memory реализация SubscriptionRepository ---

type fakeSubscriptionRepo struct {
	mu            sync.Mutex
	subscriptions map[string]models.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subscriptions: make(map[string]models.Subscription)}
}

func (r *fakeSubscriptionRepo) Transaction(ctx context.Context, fn func(txRepo repositories.SubscriptionRepository) error) error {
	return fn(r)
}

func (r *fakeSubscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	r.subscriptions[subscription.ID] = *subscription
	return nil
}

func (r *fakeSubscriptionRepo) Save(ctx context.Context, subscription *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscriptions[subscription.ID]; !ok {
		return repositories.ErrSubscriptionNotFound
	}
	r.subscriptions[subscription.ID] = *subscription
	return nil
}

func (r *fakeSubscriptionRepo) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return nil, repositories.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (r *fakeSubscriptionRepo) FindByExternalID(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Subscription, error) {
	return r.FindByExternalIDForUpdate(ctx, provider, externalID)
}

func (r *fakeSubscriptionRepo) FindByExternalIDForUpdate(ctx context.Context, provider models.PaymentProvider, externalID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscriptions {
		if sub.Provider == provider && sub.ExternalID != nil && *sub.ExternalID == externalID {
			sub := sub
			return &sub, nil
		}
	}
	return nil, repositories.ErrSubscriptionNotFound
}

func (r *fakeSubscriptionRepo) FindByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) HasActive(ctx context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscriptions {
		if sub.UserID == userID && models.IsActiveSubscriptionStatus(sub.Status) {
			return true, nil
		}
	}
	return false, nil
}

// --- In-memory реализация WebhookEventRepository ---

type fakeWebhookEventRepo struct {
	mu     sync.Mutex
	events map[string]models.WebhookEvent
}

func newFakeWebhookEventRepo() *fakeWebhookEventRepo {
	return &fakeWebhookEventRepo{events: make(map[string]models.WebhookEvent)}
}

func webhookEventKey(provider models.PaymentProvider, eventID string) string {
	return fmt.Sprintf("%s/%s", provider, eventID)
}

func (r *fakeWebhookEventRepo) InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookEventKey(event.Provider, event.EventID)
	if _, ok := r.events[key]; ok {
		return false, nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	r.events[key] = *event
	return true, nil
}

func (r *fakeWebhookEventRepo) MarkProcessed(ctx context.Context, provider models.PaymentProvider, eventID string, processErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookEventKey(provider, eventID)
	ev, ok := r.events[key]
	if !ok {
		return nil
	}
	ev.Processed = processErr == nil
	if processErr != nil {
		msg := processErr.Error()
		ev.ErrorMessage = &msg
	} else {
		now := time.Now().UTC()
		ev.ProcessedAt = &now
	}
	r.events[key] = ev
	return nil
}

func (r *fakeWebhookEventRepo) FindByEventID(ctx context.Context, provider models.PaymentProvider, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[webhookEventKey(provider, eventID)]
	if !ok {
		return nil, fmt.Errorf("webhook event not found")
	}
	return &ev, nil
}

func (r *fakeWebhookEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// --- Управляемый шлюз ---

type fakeGateway struct {
	mu   sync.Mutex
	name models.PaymentProvider

	createPaymentFn      func(in gateway.CreatePaymentInput) (*gateway.PaymentIntent, error)
	createRefundFn       func(in gateway.RefundInput) (*gateway.RefundResult, error)
	createSubscriptionFn func(in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error)
	getPaymentFn         func(externalID string) (*gateway.PaymentState, error)
	verifyFn             func(payload []byte, signature string) (*gateway.CanonicalEvent, error)

	createPaymentCalls int
	createRefundCalls  int
	getPaymentCalls    int
}

func newFakeGateway(name models.PaymentProvider) *fakeGateway {
	return &fakeGateway{name: name}
}

func (g *fakeGateway) Name() models.PaymentProvider { return g.name }

func (g *fakeGateway) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (*gateway.PaymentIntent, error) {
	g.mu.Lock()
	g.createPaymentCalls++
	fn := g.createPaymentFn
	g.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &gateway.PaymentIntent{
		ExternalID: "ext-" + in.OrderNumber,
		Status:     models.PaymentStatusProcessing,
	}, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, in gateway.RefundInput) (*gateway.RefundResult, error) {
	g.mu.Lock()
	g.createRefundCalls++
	fn := g.createRefundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &gateway.RefundResult{
		ExternalID: "ref-" + uuid.NewString(),
		Status:     models.PaymentStatusSucceeded,
	}, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, in gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
	g.mu.Lock()
	fn := g.createSubscriptionFn
	g.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &gateway.SubscriptionResult{
		ExternalID: "sub-ext-1",
		Status:     models.SubscriptionStatusActive,
	}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, externalID string) (*gateway.PaymentState, error) {
	g.mu.Lock()
	g.getPaymentCalls++
	fn := g.getPaymentFn
	g.mu.Unlock()
	if fn != nil {
		return fn(externalID)
	}
	return &gateway.PaymentState{ExternalID: externalID, Status: models.PaymentStatusPending}, nil
}

func (g *fakeGateway) VerifyAndParseWebhook(payload []byte, signature string) (*gateway.CanonicalEvent, error) {
	g.mu.Lock()
	fn := g.verifyFn
	g.mu.Unlock()
	if fn != nil {
		return fn(payload, signature)
	}
	return nil, fmt.Errorf("verifyFn is not configured")
}

func (g *fakeGateway) paymentCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createPaymentCalls
}

// --- Email-провайдер, складывающий отправленное в канал ---

type captureEmailProvider struct {
	sent chan *email.Email
}

func newCaptureEmailProvider() *captureEmailProvider {
	return &captureEmailProvider{sent: make(chan *email.Email, 8)}
}

func (p *captureEmailProvider) Send(msg *email.Email) error {
	p.sent <- msg
	return nil
}

func (p *captureEmailProvider) Close() error { return nil }
