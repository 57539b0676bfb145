package clearance

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	registrationPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{2,6}[0-9]{3,4}$`)
	personNamePattern   = regexp.MustCompile(`^[A-Za-z .\-']+$`)
	mobilePattern       = regexp.MustCompile(`^[0-9]{10}$`)
	phonePattern        = regexp.MustCompile(`^[0-9]{6,15}$`)
	emailPattern        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	countryCodePattern  = regexp.MustCompile(`^\+?[0-9]{1,4}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	patterns := map[string]*regexp.Regexp{
		"regno":       registrationPattern,
		"personname":  personNamePattern,
		"mobile":      mobilePattern,
		"phone":       phonePattern,
		"simpleemail": emailPattern,
		"countrycode": countryCodePattern,
	}
	for tag, pattern := range patterns {
		pattern := pattern
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return pattern.MatchString(fl.Field().String())
		})
	}
	_ = v.RegisterValidation("year", func(fl validator.FieldLevel) bool {
		return validYear(fl.Field().String(), time.Now())
	})
	return v
}

func validYear(value string, now time.Time) bool {
	if len(value) != 4 {
		return false
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return year >= 1900 && year <= now.Year()+10
}

// validateStruct flattens validator errors into a field -> rule map.
func validateStruct(value interface{}) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return serverError(err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &Error{Code: ErrValidationFailed, Fields: fields}
}

// validateValue checks a single value against a tag list.
func validateValue(field, value, tags string) error {
	err := validate.Var(value, tags)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fieldError(field, verrs[0].Tag())
	}
	return serverError(err)
}

func mergeFieldErrors(errs ...error) error {
	fields := map[string]string{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		opErr, ok := AsError(err)
		if !ok || opErr.Code != ErrValidationFailed {
			return err
		}
		for k, v := range opErr.Fields {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Code: ErrValidationFailed, Fields: fields}
}
