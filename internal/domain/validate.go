package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their wire names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// conversation keys join two user ids with "_"
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.TrimSpace(s) != "" && !strings.Contains(s, "_")
	})
	return v
}

// Validate checks s against its `validate` tags and reports the first
// failing field as a *ValidationError.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := ve[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

// ValidUserID reports whether id can take part in a conversation key.
func ValidUserID(id string) bool {
	return validate.Var(id, "required,userid") == nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "userid":
		return "must not be blank or contain '_'"
	case "nefield":
		return "cannot send to self"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}
