package core

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateItem checks that an item can be auctioned: it needs a name and a positive base value.
// A positive base value also guarantees that the initial asking price is above the floor.
func ValidateItem(item Item) error {
	if !Finite(item.BaseValue) {
		return fmt.Errorf("%w: base value %v", ErrInvalidItem, item.BaseValue)
	}
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidItem, err.Error())
	}
	return nil
}
