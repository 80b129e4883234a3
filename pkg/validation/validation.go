// Package validation runs struct-tag validation and classifies failures.
package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError describes one rejected field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Struct validates v and converts failures into base decorated with the
// offending fields. base should be an InvalidArgument sentinel.
func Struct(v any, base *apperr.Error) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return base.WithMessage("%s", err.Error())
	}

	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fieldName(fe.Namespace())
		fields = append(fields, FieldError{Field: name, Rule: fe.Tag()})
		names = append(names, name)
	}
	return base.
		WithMessage("invalid fields: %s", strings.Join(names, ", ")).
		WithDetails(fields)
}

// fieldName drops the root struct name from a namespace like "Req.Position.Lat".
func fieldName(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return strings.ToLower(namespace)
}
