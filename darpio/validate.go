package darpio

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var ErrInvalidID = errors.New("id must be a positive integer")

// FieldError names one field of a payload that failed a local check.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError is returned before any request is sent. It is never retried.
type ValidationError struct {
	Resource string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" ("+f.Rule+")")
	}
	return fmt.Sprintf("invalid %s: %s", e.Resource, strings.Join(parts, ", "))
}

func (e *ValidationError) Permanent() bool {
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// blank form fields are rejected the same as empty ones
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(validateCardapio, Cardapio{})
	return v
}

func validateCardapio(sl validator.StructLevel) {
	c := sl.Current().Interface().(Cardapio)
	if len(c.RefeicaoIDs) == 0 && len(c.BebidaIDs) == 0 {
		sl.ReportError(c.RefeicaoIDs, "refeicaoIds", "RefeicaoIDs", "itens", "")
	}
}

var validate = newValidator()

func validatePayload(resource string, payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", resource, err)
	}
	ve := &ValidationError{Resource: resource}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return ve
}

func checkID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return nil
}
