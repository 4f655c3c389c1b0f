// internal/catalog/validate.go
package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structural rules live in the input struct tags; validate is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateNewBook checks the addBook input shape. It never touches storage.
func ValidateNewBook(in NewBookInput) error {
	return check("addBook", in)
}

// ValidateAuthorEdit checks the editAuthor input shape.
func ValidateAuthorEdit(in EditAuthorInput) error {
	return check("editAuthor", in)
}

// ValidateNewUser checks the createUser input shape.
func ValidateNewUser(in NewUserInput) error {
	return check("createUser", in)
}

func check(op string, in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &Error{Op: op, Kind: KindInternal, Message: "validation failed", Err: err}
	}
	fe := fieldErrs[0]
	return badInput(op, fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entry", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be less than %s", fe.Field(), fe.Param())
	case "notblank":
		return fmt.Sprintf("%s cannot be empty", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
