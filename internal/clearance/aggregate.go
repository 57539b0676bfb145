package clearance

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

type Stats struct {
	Total       int  `json:"total"`
	Approved    int  `json:"approved"`
	Rejected    int  `json:"rejected"`
	Pending     int  `json:"pending"`
	CanGenerate bool `json:"can_generate"`
}

func Aggregate(statuses []db.DepartmentStatus) Stats {
	var s Stats
	for _, st := range statuses {
		s.Total++
		switch st.Status {
		case db.ClearanceApproved:
			s.Approved++
		case db.ClearanceRejected:
			s.Rejected++
		default:
			s.Pending++
		}
	}
	s.CanGenerate = s.Total > 0 && s.Rejected == 0 && s.Pending == 0 && s.Approved == s.Total
	return s
}

// FormStatus derives the overall status from the counts. Completed is never derived here; only
// certificate issuance sets it.
func (s Stats) FormStatus() db.FormStatus {
	switch {
	case s.Rejected > 0:
		return db.FormStatusRejected
	case s.Approved == 0:
		return db.FormStatusPending
	default:
		return db.FormStatusInProgress
	}
}

func rejectedDepartments(statuses []db.DepartmentStatus) []string {
	var names []string
	for _, st := range statuses {
		if st.Status == db.ClearanceRejected {
			names = append(names, st.DepartmentName)
		}
	}
	return names
}

type Evaluation struct {
	Form     db.Form
	Statuses []db.DepartmentStatus
	Stats    Stats
}

func Evaluate(ctx context.Context, q *db.Queries, formID string) (Evaluation, error) {
	form, err := q.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Evaluation{}, &Error{Code: ErrFormNotFound}
		}
		return Evaluation{}, serverError(err)
	}
	statuses, err := q.ListStatusesByForm(ctx, form.ID)
	if err != nil {
		return Evaluation{}, serverError(err)
	}
	return Evaluation{Form: form, Statuses: statuses, Stats: Aggregate(statuses)}, nil
}

// CertificateFor returns the form once its certificate has been issued.
func CertificateFor(ctx context.Context, store *db.Store, principal authz.Principal, formID string) (db.Form, error) {
	form, err := loadAccessibleForm(ctx, store, principal, formID)
	if err != nil {
		return db.Form{}, err
	}
	if !form.FinalCertificateGenerated || form.CertificateURL == nil {
		return db.Form{}, &Error{Code: ErrCertificateNotFound, Details: map[string]interface{}{"form_status": form.Status}}
	}
	return form, nil
}
