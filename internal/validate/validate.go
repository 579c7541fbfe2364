// Package validate binds request bodies and checks their struct tags.
package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Body parses the JSON request body into dest and validates it.
func Body(c *fiber.Ctx, dest any) error {
	if err := c.BodyParser(dest); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, err, "invalid request body").
			WithDetails(map[string]string{"body": err.Error()})
	}
	return Struct(dest)
}

// Struct validates an already populated value.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatErrors(err)
	}
	return nil
}

func formatErrors(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Wrap(apperr.InvalidArgument, err, "validation failed")
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fieldPath(fe)] = message(fe)
	}
	return apperr.New(apperr.InvalidArgument, "validation failed").WithDetails(details)
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	}
	return "is invalid"
}
