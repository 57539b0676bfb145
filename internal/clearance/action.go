package clearance

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	MaxBulkActions = 50
)

type ActionInput struct {
	FormID     string `json:"form_id" validate:"required,uuid"`
	Department string `json:"department" validate:"required,max=100"`
	Action     string `json:"action" validate:"required,oneof=approve reject"`
	Reason     string `json:"reason" validate:"max=500"`
}

func (in *ActionInput) Normalize() {
	in.FormID = strings.TrimSpace(in.FormID)
	in.Department = strings.TrimSpace(in.Department)
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Reason = strings.TrimSpace(in.Reason)
}

func ValidateAction(in ActionInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Action == ActionReject && in.Reason == "" {
		return fieldError("reason", "required")
	}
	return nil
}

type ActionResult struct {
	Form   db.Form
	Status db.DepartmentStatus
	Stats  Stats
}

// ReadyForCertificate is true when this action completed the set of approvals.
func (r ActionResult) ReadyForCertificate() bool {
	return r.Status.Status == db.ClearanceApproved && r.Stats.CanGenerate && r.Form.CertificateURL == nil
}

// ApplyAction records one department's decision. The form row is locked for the duration so the
// aggregate written back always reflects every committed decision.
func ApplyAction(ctx context.Context, store *db.Store, principal authz.Principal, in ActionInput) (ActionResult, error) {
	in.Normalize()
	if err := ValidateAction(in); err != nil {
		return ActionResult{}, err
	}
	if !principal.CanActFor(in.Department) {
		return ActionResult{}, &Error{Code: ErrDepartmentForbidden}
	}

	status := db.ClearanceApproved
	var reason *string
	if in.Action == ActionReject {
		status = db.ClearanceRejected
		reason = &in.Reason
	}

	var result ActionResult
	err := store.WithTx(ctx, func(tx *db.Queries) error {
		form, err := tx.GetFormForUpdate(ctx, in.FormID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrFormNotFound}
			}
			return err
		}

		current, err := tx.GetStatus(ctx, form.ID, in.Department)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return statusNotFound(ctx, tx, form.ID)
			}
			return err
		}
		if current.Status != db.ClearancePending {
			return &Error{Code: ErrAlreadyActioned, Details: map[string]interface{}{"current_status": current.Status}}
		}

		updated, err := tx.ApplyAction(ctx, db.ApplyActionParams{
			FormID:          form.ID,
			DepartmentName:  current.DepartmentName,
			Status:          status,
			RejectionReason: reason,
			ActionByUserID:  principal.UserID,
			ActionAt:        now(),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrAlreadyActioned}
			}
			return err
		}

		statuses, err := tx.ListStatusesByForm(ctx, form.ID)
		if err != nil {
			return err
		}
		stats := Aggregate(statuses)
		if form.Status != db.FormStatusCompleted {
			form.Status = stats.FormStatus()
			if err := tx.UpdateFormStatus(ctx, form.ID, form.Status); err != nil {
				return err
			}
		}
		if err := tx.CreateAuditLog(ctx, principal.UserID, "department_"+in.Action, form.ID, map[string]interface{}{
			"department": current.DepartmentName,
			"reason":     in.Reason,
		}); err != nil {
			return err
		}
		result = ActionResult{Form: form, Status: updated, Stats: stats}
		return nil
	})
	if err != nil {
		return ActionResult{}, serverError(err)
	}
	return result, nil
}

func statusNotFound(ctx context.Context, q *db.Queries, formID string) error {
	statuses, err := q.ListStatusesByForm(ctx, formID)
	if err != nil {
		return err
	}
	available := make([]string, 0, len(statuses))
	for _, st := range statuses {
		available = append(available, st.DepartmentName)
	}
	return &Error{Code: ErrStatusNotFound, Details: map[string]interface{}{"available_departments": available}}
}

type BulkActionInput struct {
	FormIDs    []string `json:"form_ids" validate:"required,min=1,max=50,dive,uuid"`
	Department string   `json:"department" validate:"required,max=100"`
	Action     string   `json:"action" validate:"required,oneof=approve reject"`
	Reason     string   `json:"reason" validate:"max=500"`
}

type BulkFailure struct {
	FormID string `json:"form_id"`
	Error  string `json:"error"`
}

type BulkActionResult struct {
	Succeeded []ActionResult
	Failed    []BulkFailure
}

// BulkApplyAction applies the same decision to several forms. Each form commits on its own, so
// one failure does not undo the others.
func BulkApplyAction(ctx context.Context, store *db.Store, principal authz.Principal, in BulkActionInput) (BulkActionResult, error) {
	in.Department = strings.TrimSpace(in.Department)
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validateStruct(in); err != nil {
		return BulkActionResult{}, err
	}
	if in.Action == ActionReject && in.Reason == "" {
		return BulkActionResult{}, fieldError("reason", "required")
	}
	if !principal.CanActFor(in.Department) {
		return BulkActionResult{}, &Error{Code: ErrDepartmentForbidden}
	}

	var result BulkActionResult
	for _, formID := range in.FormIDs {
		res, err := ApplyAction(ctx, store, principal, ActionInput{
			FormID:     formID,
			Department: in.Department,
			Action:     in.Action,
			Reason:     in.Reason,
		})
		if err != nil {
			code := ErrServerError
			if opErr, ok := AsError(err); ok {
				code = opErr.Code
			}
			if code == ErrServerError && ctx.Err() != nil {
				return result, serverError(ctx.Err())
			}
			result.Failed = append(result.Failed, BulkFailure{FormID: formID, Error: code})
			continue
		}
		result.Succeeded = append(result.Succeeded, res)
	}
	return result, nil
}
