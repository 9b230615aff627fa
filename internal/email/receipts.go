package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"gongbu_payments/internal/models"
)

const receiptTemplate = `<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Спасибо за оплату!</h2>
  <p>Ваш платеж успешно проведен.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><b>Номер заказа</b></td><td>{{.OrderNumber}}</td></tr>
    <tr><td><b>Сумма</b></td><td>{{.Amount}} {{.Currency}}</td></tr>
    <tr><td><b>Описание</b></td><td>{{.Description}}</td></tr>
    <tr><td><b>Дата</b></td><td>{{.CompletedAt}}</td></tr>
  </table>
  <p>Команда Gongbu</p>
</body>
</html>`

var receiptTmpl = template.Must(template.New("payment_receipt").Parse(receiptTemplate))

// BuildPaymentReceipt собирает письмо-квитанцию по успешному платежу
func BuildPaymentReceipt(payment *models.Payment, to string) (*Email, error) {
	completedAt := time.Now().UTC()
	if payment.CompletedAt != nil {
		completedAt = *payment.CompletedAt
	}

	data := map[string]interface{}{
		"OrderNumber": payment.OrderNumber,
		"Amount":      payment.Amount.StringFixed(2),
		"Currency":    payment.Currency,
		"Description": payment.Description,
		"CompletedAt": completedAt.Format("02.01.2006 15:04 MST"),
	}

	var buf bytes.Buffer
	if err := receiptTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}

	return &Email{
		To:      []string{to},
		Subject: fmt.Sprintf("Квитанция об оплате %s", payment.OrderNumber),
		Body: fmt.Sprintf("Платеж %s на сумму %s %s успешно проведен.",
			payment.OrderNumber, payment.Amount.StringFixed(2), payment.Currency),
		HTMLBody: buf.String(),
	}, nil
}
