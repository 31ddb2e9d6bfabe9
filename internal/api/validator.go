package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/roulette"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Validator wraps the validator instance
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that compares decimal fields numerically
// and knows the roulette bet types
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("bet_type", validateBetType)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// FormatValidationError turns validation errors into a field → message map
func FormatValidationError(err error) map[string]string {
	if err == nil {
		return nil
	}

	errs := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errs["error"] = "Invalid request format"
		return errs
	}

	for _, e := range validationErrors {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch e.Tag() {
		case "required":
			errs[field] = "This field is required"
		case "gt":
			errs[field] = fmt.Sprintf("Must be greater than %s", e.Param())
		case "gte", "min":
			errs[field] = fmt.Sprintf("Must be at least %s", e.Param())
		case "lte", "max":
			errs[field] = fmt.Sprintf("Must be at most %s", e.Param())
		case "bet_type":
			errs[field] = "Unknown bet type"
		default:
			errs[field] = "Invalid value"
		}
	}
	return errs
}

func validateBetType(fl validator.FieldLevel) bool {
	_, ok := roulette.Payouts[domain.BetType(fl.Field().String())]
	return ok
}
