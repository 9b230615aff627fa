package validator

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"gongbu_payments/internal/models"
)

// registerCustomRules регистрирует кастомные функции валидации.
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// Ошибка регистрации правила - ошибка конфигурации приложения
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// 'amount': положительная десятичная строка ("100.00")
	mustRegister("amount", validateAmount)

	// 'provider': поддерживаемый платежный провайдер
	mustRegister("provider", validateProvider)
}

func validateAmount(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // пустые значения ловит 'required'
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return false
	}
	// Больше двух знаков после запятой провайдеры не принимают
	return d.IsPositive() && d.Exponent() >= -2
}

func validateProvider(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return models.KnownProvider(models.PaymentProvider(value))
}
