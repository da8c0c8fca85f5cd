package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

		if name == "-" {
			return ""
		}

		return name
	})

	return &Validator{validate: v}
}

// Validate checks the struct against its validate tags and returns a single
// error describing the first broken rule, or nil.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return err
	}

	first := validationErrors[0]
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%s is required", first.Field())
	case "min":
		return fmt.Errorf("%s must be at least %s", first.Field(), first.Param())
	case "max":
		return fmt.Errorf("%s must not exceed %s", first.Field(), first.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", first.Field(), first.Param())
	case "url":
		return fmt.Errorf("%s must be a valid url", first.Field())
	default:
		return fmt.Errorf("%s failed validation on %s", first.Field(), first.Tag())
	}
}
