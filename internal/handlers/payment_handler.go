package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gongbu_payments/internal/dto"
	"gongbu_payments/internal/middleware"
	"gongbu_payments/internal/services"
	"gongbu_payments/pkg/apperrors"
)

type PaymentHandler struct {
	*BaseHandler
	paymentService services.PaymentService
}

func NewPaymentHandler(base *BaseHandler, paymentService services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		BaseHandler:    base,
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	payments.Use(middleware.AuthMiddleware())
	{
		payments.POST("", h.CreatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/stats", middleware.RequireAdmin(), h.GetStats)
		payments.GET("/order/:orderNumber", h.GetPaymentByOrderNumber)
		payments.GET("/:paymentId", h.GetPayment)
		payments.POST("/:paymentId/refund", h.ProcessRefund)
	}
}

// CreatePayment - POST /payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var req dto.CreatePaymentRequest
	if !h.BindAndValidateJSON(c, &req) {
		return
	}

	resp, err := h.paymentService.CreatePayment(c.Request.Context(), userID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetPayment - GET /payments/:paymentId
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	// Админ видит чужие платежи
	if middleware.IsAdmin(c) {
		userID = ""
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), userID, c.Param("paymentId"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// GetPaymentByOrderNumber - GET /payments/order/:orderNumber
func (h *PaymentHandler) GetPaymentByOrderNumber(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	if middleware.IsAdmin(c) {
		userID = ""
	}

	payment, err := h.paymentService.GetPaymentByOrderNumber(c.Request.Context(), userID, c.Param("orderNumber"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListPayments - GET /payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var filter dto.PaymentFilter
	if !h.BindAndValidateQuery(c, &filter) {
		return
	}
	// Каждый видит только свои платежи, админ - все
	filter.UserID = userID
	if middleware.IsAdmin(c) {
		filter.UserID = ""
	}

	resp, err := h.paymentService.ListPayments(c.Request.Context(), filter)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ProcessRefund - POST /payments/:paymentId/refund
func (h *PaymentHandler) ProcessRefund(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	if middleware.IsAdmin(c) {
		userID = ""
	}

	var req dto.ProcessRefundRequest
	if !h.BindAndValidateJSON(c, &req) {
		return
	}

	resp, err := h.paymentService.ProcessRefund(c.Request.Context(), userID, c.Param("paymentId"), &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetStats - GET /payments/stats (admin only)
func (h *PaymentHandler) GetStats(c *gin.Context) {
	from, to, err := parseStatsPeriod(c)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	stats, svcErr := h.paymentService.GetStats(c.Request.Context(), from, to)
	if svcErr != nil {
		h.HandleServiceError(c, svcErr)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// parseStatsPeriod читает период из query (?from=...&to=..., RFC3339).
// По умолчанию - последние 30 дней.
func parseStatsPeriod(c *gin.Context) (time.Time, time.Time, *apperrors.AppError) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, apperrors.NewBadRequestError("Invalid 'from' timestamp, expected RFC3339")
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, apperrors.NewBadRequestError("Invalid 'to' timestamp, expected RFC3339")
		}
		to = parsed
	}

	return from, to, nil
}
