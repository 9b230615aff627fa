package gateway

import (
	"gongbu_payments/internal/models"
	"gongbu_payments/pkg/apperrors"
)

// Registry - карта провайдер -> Gateway.
// Заполняется один раз при старте приложения, дальше только чтение.
type Registry struct {
	gateways map[models.PaymentProvider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[models.PaymentProvider]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

// Resolve возвращает шлюз по имени провайдера
func (r *Registry) Resolve(provider models.PaymentProvider) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, apperrors.ErrUnknownProvider
	}
	return g, nil
}

// Providers возвращает список зарегистрированных провайдеров
func (r *Registry) Providers() []models.PaymentProvider {
	out := make([]models.PaymentProvider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	return out
}
