// Package validation wraps go-playground/validator with English messages
// keyed by JSON field names.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

const notBlankTag = "notblank"

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		if s, ok := fl.Field().Interface().(string); ok {
			return strings.TrimSpace(s) != ""
		}
		return false
	})
	_ = validate.RegisterTranslation(notBlankTag, translator,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " cannot be blank"
		},
	)
}

// Errors is the flattened form of a failed validation.
type Errors struct {
	FormErrors  []string            `json:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.FieldErrors)+len(e.FormErrors))
	parts = append(parts, e.FormErrors...)
	for field, messages := range e.FieldErrors {
		parts = append(parts, field+": "+strings.Join(messages, ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Struct validates v and returns *Errors when any rule fails.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Errors{FormErrors: []string{err.Error()}, FieldErrors: map[string][]string{}}
	}
	out := &Errors{FormErrors: []string{}, FieldErrors: map[string][]string{}}
	for _, fe := range fieldErrs {
		out.FieldErrors[fe.Field()] = append(out.FieldErrors[fe.Field()], fe.Translate(translator))
	}
	return out
}
