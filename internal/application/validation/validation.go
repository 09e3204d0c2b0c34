package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/niciki/system-design/internal/domain/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var postalCodePattern = regexp.MustCompile(`^[a-zA-Z0-9\- ]+$`)

type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewValidator() *Validator {
	return NewValidatorWithClock(time.Now)
}

// NewValidatorWithClock uses now to decide whether a delivery date lies in the past.
func NewValidatorWithClock(now func() time.Time) *Validator {
	v := &Validator{
		validate: validator.New(),
		now:      now,
	}

	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	// registration only fails on an empty tag
	_ = v.validate.RegisterValidation("postal_code_chars", func(fl validator.FieldLevel) bool {
		return postalCodePattern.MatchString(fl.Field().String())
	})

	v.validate.RegisterStructValidation(v.createRequestRules, model.OrderCreateRequest{})
	v.validate.RegisterStructValidation(v.updateRequestRules, model.OrderUpdateRequest{})
	return v
}

func (v *Validator) ValidateCreate(req model.OrderCreateRequest) error {
	return v.check(req)
}

func (v *Validator) ValidateUpdate(req model.OrderUpdateRequest) error {
	return v.check(req)
}

func (v *Validator) check(s any) error {
	err := v.validate.Struct(s)
	if err != nil {
		var invalidErr *validator.InvalidValidationError
		if errors.As(err, &invalidErr) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrValidationFailed, err)
	}
	return nil
}

func (v *Validator) createRequestRules(sl validator.StructLevel) {
	req := sl.Current().Interface().(model.OrderCreateRequest)

	switch {
	case req.DeliveryType == model.DeliveryPickup && req.DeliveryAddress != nil:
		sl.ReportError(req.DeliveryAddress, "DeliveryAddress", "DeliveryAddress", "excluded_if", "DeliveryType pickup")
	case req.DeliveryType != model.DeliveryPickup && req.DeliveryAddress == nil:
		sl.ReportError(req.DeliveryAddress, "DeliveryAddress", "DeliveryAddress", "required_unless", "DeliveryType pickup")
	}

	if v.inPast(req.EstimatedDelivery) {
		sl.ReportError(req.EstimatedDelivery, "EstimatedDelivery", "EstimatedDelivery", "not_past", "")
	}

	if req.TotalAmount != nil && !model.TotalMatchesItems(*req.TotalAmount, req.Items) {
		sl.ReportError(req.TotalAmount, "TotalAmount", "TotalAmount", "total_matches_items", req.Total().StringFixed(2))
	}
}

func (v *Validator) updateRequestRules(sl validator.StructLevel) {
	req := sl.Current().Interface().(model.OrderUpdateRequest)
	if v.inPast(req.EstimatedDelivery) {
		sl.ReportError(req.EstimatedDelivery, "EstimatedDelivery", "EstimatedDelivery", "not_past", "")
	}
}

func (v *Validator) inPast(date *time.Time) bool {
	return date != nil && model.DateOnly(*date).Before(model.DateOnly(v.now()))
}
