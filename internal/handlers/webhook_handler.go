package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"gongbu_payments/internal/models"
	"gongbu_payments/internal/services"
	"gongbu_payments/pkg/apperrors"
)

type WebhookHandler struct {
	*BaseHandler
	webhookService services.WebhookService
}

func NewWebhookHandler(base *BaseHandler, webhookService services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    base,
		webhookService: webhookService,
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Без аутентификации: вызывают провайдеры, доверие строится на подписи
	r.POST("/webhooks/:provider", h.HandleWebhook)
}

// HandleWebhook - POST /webhooks/:provider.
// После валидной подписи всегда отвечаем 200: иначе провайдер будет
// ретраить событие, которое мы уже записали в журнал.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider := models.PaymentProvider(c.Param("provider"))
	if !models.KnownProvider(provider) {
		apperrors.HandleError(c, apperrors.ErrUnknownProvider)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		apperrors.HandleError(c, apperrors.NewBadRequestError("Failed to read request body"))
		return
	}

	result, svcErr := h.webhookService.HandleWebhook(
		c.Request.Context(), provider, payload, signatureHeader(c, provider))
	if svcErr != nil {
		h.HandleServiceError(c, svcErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":   true,
		"event_id":   result.EventID,
		"event_type": result.EventType,
		"processed":  result.Processed,
		"duplicate":  result.Duplicate,
	})
}

func signatureHeader(c *gin.Context, provider models.PaymentProvider) string {
	switch provider {
	case models.ProviderStripe:
		return c.GetHeader("Stripe-Signature")
	case models.ProviderYooKassa:
		return c.GetHeader("X-Yookassa-Signature")
	default:
		return ""
	}
}
