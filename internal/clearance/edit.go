package clearance

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

// Reasons reported by CheckEditEligibility.
const (
	EditReasonCompleted     = "form_completed"
	EditReasonLimitReached  = "reapplication_limit_reached"
	EditReasonRejected      = "rejected"
	EditReasonPendingReview = "pending_review"
	EditReasonInReview      = "in_review"
)

type EditEligibility struct {
	CanEdit             bool
	CanReapply          bool
	Reason              string
	FormStatus          db.FormStatus
	ReapplicationCount  int32
	ReapplicationLimit  int
	RejectedDepartments []string
}

// CheckEditEligibility reports whether the student may still correct the form or reapply.
// Corrections are allowed while nobody has approved anything yet or after a rejection.
func CheckEditEligibility(form db.Form, statuses []db.DepartmentStatus, defaultLimit int) EditEligibility {
	limit := reapplicationLimit(form, defaultLimit)
	rejected := rejectedDepartments(statuses)
	limitReached := int(form.ReapplicationCount) >= limit
	editable := form.Status == db.FormStatusPending || form.Status == db.FormStatusRejected

	e := EditEligibility{
		CanEdit:             editable && !limitReached,
		CanReapply:          len(rejected) > 0 && form.Status != db.FormStatusCompleted && !limitReached,
		FormStatus:          form.Status,
		ReapplicationCount:  form.ReapplicationCount,
		ReapplicationLimit:  limit,
		RejectedDepartments: rejected,
	}
	switch {
	case form.Status == db.FormStatusCompleted:
		e.Reason = EditReasonCompleted
	case limitReached:
		e.Reason = EditReasonLimitReached
	case len(rejected) > 0:
		e.Reason = EditReasonRejected
	case form.Status == db.FormStatusPending:
		e.Reason = EditReasonPendingReview
	default:
		e.Reason = EditReasonInReview
	}
	return e
}

func EditEligibilityFor(ctx context.Context, store *db.Store, principal authz.Principal, formID string, defaultLimit int) (EditEligibility, error) {
	form, err := loadAccessibleForm(ctx, store, principal, formID)
	if err != nil {
		return EditEligibility{}, err
	}
	statuses, err := store.Queries.ListStatusesByForm(ctx, form.ID)
	if err != nil {
		return EditEligibility{}, serverError(err)
	}
	return CheckEditEligibility(form, statuses, defaultLimit), nil
}

type EditInput struct {
	FormID       string            `json:"form_id"`
	EditedFields map[string]string `json:"edited_fields"`
}

type EditResult struct {
	Form          db.Form
	UpdatedFields []string
}

// planEdit checks a correction in order: completed form, edits, form state, reapplication limit.
func planEdit(form db.Form, fields map[string]string, defaultLimit int) (map[string]string, error) {
	if form.Status == db.FormStatusCompleted {
		return nil, &Error{Code: ErrFormCompleted}
	}
	if len(fields) == 0 {
		return nil, fieldError("edited_fields", "required")
	}
	edits, err := CheckEdits(fields)
	if err != nil {
		return nil, err
	}
	if err := checkYearOrder(form, edits); err != nil {
		return nil, err
	}
	if form.Status != db.FormStatusPending && form.Status != db.FormStatusRejected {
		return nil, &Error{Code: ErrFormNotEditable, Details: map[string]interface{}{"form_status": form.Status}}
	}
	limit := reapplicationLimit(form, defaultLimit)
	if int(form.ReapplicationCount) >= limit {
		return nil, &Error{Code: ErrReapplicationLimit, Details: map[string]interface{}{"limit": limit}}
	}
	return edits, nil
}

// EditForm applies student corrections without touching department statuses.
func EditForm(ctx context.Context, store *db.Store, principal authz.Principal, in EditInput, defaultLimit int) (EditResult, error) {
	in.FormID = strings.TrimSpace(in.FormID)
	if err := validateValue("form_id", in.FormID, "required,uuid"); err != nil {
		return EditResult{}, err
	}

	var result EditResult
	err := store.WithTx(ctx, func(tx *db.Queries) error {
		form, err := tx.GetFormForUpdate(ctx, in.FormID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return MaskMissingForm(principal, &Error{Code: ErrFormNotFound})
			}
			return err
		}
		if !principal.IsAdmin() && !principal.OwnsRegistration(form.RegistrationNo) {
			return &Error{Code: ErrForbidden}
		}
		edits, err := planEdit(form, in.EditedFields, defaultLimit)
		if err != nil {
			return err
		}
		if err := tx.UpdateFormFields(ctx, form.ID, edits); err != nil {
			return err
		}
		names := make([]string, 0, len(edits))
		for name := range edits {
			names = append(names, name)
		}
		sort.Strings(names)
		if err := tx.CreateAuditLog(ctx, principal.UserID, "form_edited", form.ID, map[string]interface{}{
			"fields": names,
		}); err != nil {
			return err
		}
		updated, err := tx.GetForm(ctx, form.ID)
		if err != nil {
			return err
		}
		result = EditResult{Form: updated, UpdatedFields: names}
		return nil
	})
	if err != nil {
		return EditResult{}, serverError(err)
	}
	return result, nil
}
