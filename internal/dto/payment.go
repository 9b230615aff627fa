package dto

import (
	"time"

	"gongbu_payments/internal/models"
)

// CreatePaymentRequest - тело POST /payments.
// Amount - десятичная строка ("100.00"), float для денег не используем.
type CreatePaymentRequest struct {
	Amount       string            `json:"amount" validate:"required,amount"`
	Currency     string            `json:"currency" validate:"required,iso4217"`
	Provider     string            `json:"provider" validate:"required,provider"`
	Description  string            `json:"description" validate:"omitempty,max=255"`
	CourseID     *string           `json:"course_id,omitempty"`
	ReturnURL    string            `json:"return_url" validate:"omitempty,url"`
	ReceiptEmail string            `json:"receipt_email" validate:"omitempty,email"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ProcessRefundRequest - тело POST /payments/:paymentId/refund.
// Пустой Amount означает полный возврат доступного остатка.
type ProcessRefundRequest struct {
	Amount string `json:"amount" validate:"omitempty,amount"`
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// PaymentFilter - query-параметры GET /payments.
// Search ищет подстроку в order_number, description и external_id.
type PaymentFilter struct {
	UserID    string     `form:"-"`
	Status    string     `form:"status" validate:"omitempty,oneof=PENDING PROCESSING SUCCEEDED FAILED CANCELLED PARTIALLY_REFUNDED REFUNDED"`
	Provider  string     `form:"provider" validate:"omitempty,provider"`
	DateFrom  *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo    *time.Time `form:"date_to" time_format:"2006-01-02"`
	MinAmount string     `form:"min_amount" validate:"omitempty,amount"`
	MaxAmount string     `form:"max_amount" validate:"omitempty,amount"`
	Search    string     `form:"search" validate:"omitempty,max=100"`
	Page      int        `form:"page,default=1" validate:"omitempty,min=1"`
	Limit     int        `form:"limit,default=20" validate:"omitempty,min=1,max=100"`
}

func (f *PaymentFilter) Offset() int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.PageSize()
}

func (f *PaymentFilter) PageSize() int {
	if f.Limit < 1 {
		return 20
	}
	return f.Limit
}

// PaymentCreatedResponse - ответ на создание платежа.
// ConfirmationURL - redirect flow (YooKassa), ClientSecret - Stripe.
type PaymentCreatedResponse struct {
	Payment         *models.Payment `json:"payment"`
	ConfirmationURL string          `json:"confirmation_url,omitempty"`
	ClientSecret    string          `json:"client_secret,omitempty"`
}

// PaymentListResponse - страница платежей
type PaymentListResponse struct {
	Payments []models.Payment `json:"payments"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// RefundResponse - ответ на запрос возврата
type RefundResponse struct {
	Refund  *models.Refund  `json:"refund"`
	Payment *models.Payment `json:"payment"`
}
