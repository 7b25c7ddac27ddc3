package services

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/lborres/gatekeep/core"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// fieldErrors maps "<StructField>.<tag>" to the error reported to clients.
var fieldErrors = map[string]error{
	"Name.required":     core.ErrNameRequired,
	"Name.max":          core.ErrNameTooLong,
	"Username.required": core.ErrUsernameRequired,
	"Username.username": core.ErrInvalidUsername,
	"Email.required":    core.ErrEmailRequired,
	"Email.email":       core.ErrInvalidEmail,
	"Password.required": core.ErrPasswordRequired,
	"Password.minbytes": core.ErrPasswordTooShort,
	"Password.maxbytes": core.ErrPasswordTooLong,
}

type inputValidator struct {
	validate *validator.Validate
}

func newInputValidator() *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	// min and max count runes; password limits are in bytes
	_ = v.RegisterValidation("minbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) >= n
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return &inputValidator{validate: v}
}

// signUp returns the first failing field as a core validation error.
func (v *inputValidator) signUp(input core.SignUpInput) error {
	err := v.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	fe := fieldErrs[0]
	if mapped, ok := fieldErrors[fe.StructField()+"."+fe.Tag()]; ok {
		return mapped
	}
	return fmt.Errorf("%w: %s is invalid", core.ErrValidation, fe.Field())
}
