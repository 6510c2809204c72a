package auth

import (
	"fmt"
	"ringside/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidatePayload checks the validate tags of an inbound payload.
func ValidatePayload(payload any) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	return nil
}
