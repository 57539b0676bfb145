package clearance

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

const maxChatMessage = 2000

type Thread struct {
	Form     db.Form
	Status   db.DepartmentStatus
	Messages []db.Message
}

// authorizeThread lets the owning student and the department's staff into a thread.
func authorizeThread(principal authz.Principal, form db.Form, department string) error {
	switch {
	case principal.IsStudent():
		if !principal.OwnsRegistration(form.RegistrationNo) {
			return &Error{Code: ErrForbidden}
		}
	case principal.IsStaff():
		if !principal.CanActFor(department) {
			return &Error{Code: ErrDepartmentForbidden}
		}
	default:
		return &Error{Code: ErrForbidden}
	}
	return nil
}

func openThread(ctx context.Context, q *db.Queries, principal authz.Principal, formID, department string) (db.Form, db.DepartmentStatus, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return db.Form{}, db.DepartmentStatus{}, fieldError("department", "required")
	}
	if err := validateValue("form_id", formID, "required,uuid"); err != nil {
		return db.Form{}, db.DepartmentStatus{}, err
	}
	form, err := q.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Form{}, db.DepartmentStatus{}, MaskMissingForm(principal, &Error{Code: ErrFormNotFound})
		}
		return db.Form{}, db.DepartmentStatus{}, serverError(err)
	}
	if err := authorizeThread(principal, form, department); err != nil {
		return db.Form{}, db.DepartmentStatus{}, err
	}
	status, err := q.GetStatus(ctx, form.ID, department)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Form{}, db.DepartmentStatus{}, &Error{Code: ErrStatusNotFound}
		}
		return db.Form{}, db.DepartmentStatus{}, serverError(err)
	}
	return form, status, nil
}

func GetThread(ctx context.Context, store *db.Store, principal authz.Principal, formID, department string) (Thread, error) {
	form, status, err := openThread(ctx, store.Queries, principal, formID, department)
	if err != nil {
		return Thread{}, err
	}
	messages, err := store.Queries.ListMessages(ctx, form.ID, status.DepartmentName)
	if err != nil {
		return Thread{}, serverError(err)
	}
	return Thread{Form: form, Status: status, Messages: messages}, nil
}

func SendMessage(ctx context.Context, store *db.Store, principal authz.Principal, formID, department, text string) (db.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return db.Message{}, fieldError("message", "required")
	}
	if utf8.RuneCountInString(text) > maxChatMessage {
		return db.Message{}, fieldError("message", "max")
	}
	form, status, err := openThread(ctx, store.Queries, principal, formID, department)
	if err != nil {
		return db.Message{}, err
	}

	params := db.CreateMessageParams{
		FormID:         form.ID,
		DepartmentName: status.DepartmentName,
		Message:        text,
	}
	if principal.IsStudent() {
		params.SenderType = db.SenderStudent
		params.SenderID = form.RegistrationNo
		params.SenderName = form.StudentName
	} else {
		params.SenderType = db.SenderDepartment
		params.SenderID = principal.UserID
		params.SenderName = principal.Name
		if params.SenderName == "" {
			params.SenderName = status.DepartmentName
		}
	}
	msg, err := store.Queries.CreateMessage(ctx, params)
	if err != nil {
		return db.Message{}, serverError(err)
	}
	return msg, nil
}

type MarkReadInput struct {
	FormID     string `json:"form_id"`
	Department string `json:"department"`
	ReaderType string `json:"reader_type"`
}

// MarkRead marks the other side's messages as read. The reader type must match the caller.
func MarkRead(ctx context.Context, store *db.Store, principal authz.Principal, in MarkReadInput) (int64, error) {
	var sender db.SenderType
	switch strings.ToLower(strings.TrimSpace(in.ReaderType)) {
	case string(db.SenderDepartment):
		if !principal.IsStaff() {
			return 0, &Error{Code: ErrForbidden}
		}
		sender = db.SenderStudent
	case string(db.SenderStudent):
		if !principal.IsStudent() {
			return 0, &Error{Code: ErrForbidden}
		}
		sender = db.SenderDepartment
	default:
		return 0, fieldError("reader_type", "oneof")
	}

	form, status, err := openThread(ctx, store.Queries, principal, strings.TrimSpace(in.FormID), in.Department)
	if err != nil {
		return 0, err
	}
	marked, err := store.Queries.MarkMessagesRead(ctx, form.ID, status.DepartmentName, sender, now())
	if err != nil {
		return 0, serverError(err)
	}
	return marked, nil
}

func UnreadThreads(ctx context.Context, store *db.Store, principal authz.Principal) ([]db.UnreadThread, error) {
	departments, err := principalDepartments(ctx, store.Queries, principal)
	if err != nil {
		return nil, err
	}
	threads, err := store.Queries.ListUnreadThreads(ctx, departments)
	if err != nil {
		return nil, serverError(err)
	}
	return threads, nil
}
