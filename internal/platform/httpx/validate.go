package httpx

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names in messages; empty falls back to the Go field.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks `validate` struct tags on a request body and returns
// a single readable message covering every failed field.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fieldName(fe)))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must have at least %s", fieldName(fe), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must have at most %s", fieldName(fe), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fieldName(fe), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

func fieldName(fe validator.FieldError) string {
	// StructNamespace looks like "queryRequest.Query"; report the leaf.
	name := fe.Field()
	if name == "" {
		name = fe.StructField()
	}
	return strings.ToLower(name)
}
