package provider

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"shipsync/internal/model"
)

var validate = validator.New()

// dispatchInput is the shape every provider needs before a create call goes
// out. Validation runs before any network traffic so a malformed order never
// burns a provider request.
type dispatchInput struct {
	OrderNumber     string   `validate:"required"`
	DeliveryName    string   `validate:"required"`
	DeliveryPhone   string   `validate:"required,min=7,max=20"`
	DeliveryAddress string   `validate:"required"`
	Latitude        *float64 `validate:"omitempty,latitude"`
	Longitude       *float64 `validate:"omitempty,longitude"`
	Total           float64  `validate:"gte=0"`
}

// ValidateDispatch checks that an order carries everything a provider create
// call needs. Returns a caller-facing error naming the first failing field.
func ValidateDispatch(o model.Order) error {
	in := dispatchInput{
		OrderNumber:     o.OrderNumber,
		DeliveryName:    o.DeliveryName,
		DeliveryPhone:   stripPhoneSuffix(o.DeliveryPhone),
		DeliveryAddress: o.DeliveryAddress,
		Latitude:        o.CustomerLatitude,
		Longitude:       o.CustomerLongitude,
		Total:           o.Total,
	}
	if err := validate.Struct(in); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("order %s not dispatchable: field %s failed %s", o.OrderNumber, errs[0].Field(), errs[0].Tag())
		}
		return fmt.Errorf("order %s not dispatchable: %w", o.OrderNumber, err)
	}
	return nil
}
