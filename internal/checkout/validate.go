package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
)

var fieldMessages = map[string]string{
	"firstName": "First name is required",
	"lastName":  "Last name is required",
	"line1":     "Address is required",
	"city":      "City is required",
	"state":     "State is required",
	"zip":       "ZIP code is required",
	"country":   "Country is required",
}

// FieldErrors maps form field names to a message for the shopper.
type FieldErrors map[string]string

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("phone10", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	// Replace the built-in rule with the storefront's address pattern.
	_ = v.RegisterValidation("email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateAddress checks the form and returns nil when it is valid.
func ValidateAddress(v *validator.Validate, a Address) FieldErrors {
	err := v.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}
	out := FieldErrors{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = messageFor(field, fe.Tag())
	}
	return out
}

func messageFor(field, tag string) string {
	switch {
	case field == "email" && tag == "required":
		return "Email is required"
	case field == "email":
		return "Invalid email address"
	case field == "phone" && tag == "required":
		return "Phone number is required"
	case field == "phone":
		return "Please enter a valid 10-digit phone number"
	}
	if msg, ok := fieldMessages[field]; ok {
		return msg
	}
	return field + " is invalid"
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}
