package clearance

import (
	"errors"

	"nodues/clearance/internal/authz"
)

const (
	ErrValidationFailed        = "validation_failed"
	ErrForbidden               = "forbidden"
	ErrDepartmentForbidden     = "department_forbidden"
	ErrFormNotFound            = "form_not_found"
	ErrStatusNotFound          = "status_not_found"
	ErrAlreadyActioned         = "already_actioned"
	ErrDuplicateRegistration   = "duplicate_registration"
	ErrNoDepartmentsConfigured = "no_departments_configured"
	ErrFormCompleted           = "form_completed"
	ErrProtectedField          = "protected_field"
	ErrNoRejectedDepartments   = "no_rejected_departments"
	ErrDepartmentNotRejected   = "department_not_rejected"
	ErrReapplicationLimit      = "reapplication_limit_reached"
	ErrNotEligible             = "not_eligible"
	ErrGenerationInProgress    = "generation_in_progress"
	ErrFormNotEditable         = "form_not_editable"
	ErrCertificateNotFound     = "certificate_not_found"
	ErrServerError             = "server_error"
)

// Error is returned by every operation in this package. Err holds the cause of a server_error and
// is never shown to callers.
type Error struct {
	Code    string
	Fields  map[string]string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func AsError(err error) (*Error, bool) {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}

func serverError(err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	return &Error{Code: ErrServerError, Err: err}
}

// MaskMissingForm reports a missing form as forbidden to students so a form id they do not own
// looks the same whether or not it exists.
func MaskMissingForm(principal authz.Principal, err error) error {
	if opErr, ok := AsError(err); ok && opErr.Code == ErrFormNotFound && !principal.IsStaff() {
		return &Error{Code: ErrForbidden}
	}
	return err
}

func fieldError(field, rule string) error {
	return &Error{Code: ErrValidationFailed, Fields: map[string]string{field: rule}}
}
