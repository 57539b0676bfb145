package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const formColumns = `
  id, registration_no, student_name, parent_name, admission_year, passing_year,
  school_id, course_id, branch_id, school, course, branch,
  country_code, contact_no, personal_email, college_email,
  status, reapplication_count, max_reapplications_override, is_reapplication, last_reapplied_at,
  student_reply_message, certificate_generating, final_certificate_generated, certificate_url,
  blockchain_hash, blockchain_tx, blockchain_block, blockchain_timestamp, blockchain_verified,
  created_at, updated_at`

func scanForm(row pgx.Row) (Form, error) {
	var f Form
	err := row.Scan(
		&f.ID,
		&f.RegistrationNo,
		&f.StudentName,
		&f.ParentName,
		&f.AdmissionYear,
		&f.PassingYear,
		&f.SchoolID,
		&f.CourseID,
		&f.BranchID,
		&f.School,
		&f.Course,
		&f.Branch,
		&f.CountryCode,
		&f.ContactNo,
		&f.PersonalEmail,
		&f.CollegeEmail,
		&f.Status,
		&f.ReapplicationCount,
		&f.MaxReapplicationsOverride,
		&f.IsReapplication,
		&f.LastReappliedAt,
		&f.StudentReplyMessage,
		&f.CertificateGenerating,
		&f.FinalCertificateGenerated,
		&f.CertificateURL,
		&f.BlockchainHash,
		&f.BlockchainTx,
		&f.BlockchainBlock,
		&f.BlockchainTimestamp,
		&f.BlockchainVerified,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

type CreateFormParams struct {
	RegistrationNo string
	StudentName    string
	ParentName     string
	AdmissionYear  string
	PassingYear    string
	SchoolID       string
	CourseID       string
	BranchID       string
	School         string
	Course         string
	Branch         string
	CountryCode    string
	ContactNo      string
	PersonalEmail  string
	CollegeEmail   string
}

func (q *Queries) CreateForm(ctx context.Context, arg CreateFormParams) (Form, error) {
	row := q.db.QueryRow(ctx, `
    INSERT INTO no_dues_forms (
      registration_no, student_name, parent_name, admission_year, passing_year,
      school_id, course_id, branch_id, school, course, branch,
      country_code, contact_no, personal_email, college_email
    )
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    RETURNING`+formColumns,
		arg.RegistrationNo, arg.StudentName, arg.ParentName, arg.AdmissionYear, arg.PassingYear,
		arg.SchoolID, arg.CourseID, arg.BranchID, arg.School, arg.Course, arg.Branch,
		arg.CountryCode, arg.ContactNo, arg.PersonalEmail, arg.CollegeEmail,
	)
	return scanForm(row)
}

func (q *Queries) GetForm(ctx context.Context, id string) (Form, error) {
	return scanForm(q.db.QueryRow(ctx, `SELECT`+formColumns+` FROM no_dues_forms WHERE id = $1`, id))
}

// GetFormForUpdate locks the form row until the surrounding transaction ends.
func (q *Queries) GetFormForUpdate(ctx context.Context, id string) (Form, error) {
	return scanForm(q.db.QueryRow(ctx, `SELECT`+formColumns+` FROM no_dues_forms WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetFormByRegistrationNo(ctx context.Context, registrationNo string) (Form, error) {
	return scanForm(q.db.QueryRow(ctx, `SELECT`+formColumns+` FROM no_dues_forms WHERE registration_no = $1`, registrationNo))
}

func (q *Queries) GetFormByTransactionID(ctx context.Context, txID string) (Form, error) {
	return scanForm(q.db.QueryRow(ctx, `SELECT`+formColumns+` FROM no_dues_forms WHERE blockchain_tx = $1`, txID))
}

// UpdateFormStatus never moves a completed form back.
func (q *Queries) UpdateFormStatus(ctx context.Context, id string, status FormStatus) error {
	_, err := q.db.Exec(ctx, `
    UPDATE no_dues_forms
    SET status = $2, updated_at = now()
    WHERE id = $1 AND status <> 'completed'
  `, id, status)
	return err
}

var editableFormColumns = map[string]bool{
	"student_name":   true,
	"parent_name":    true,
	"admission_year": true,
	"passing_year":   true,
	"country_code":   true,
	"contact_no":     true,
	"personal_email": true,
	"college_email":  true,
}

func (q *Queries) UpdateFormFields(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !editableFormColumns[column] {
			return fmt.Errorf("column %q is not editable", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := []interface{}{id}
	for _, column := range columns {
		args = append(args, fields[column])
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	sets = append(sets, "updated_at = now()")
	_, err := q.db.Exec(ctx, `UPDATE no_dues_forms SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	return err
}

func (q *Queries) MarkReapplied(ctx context.Context, id, message string, at time.Time) (Form, error) {
	row := q.db.QueryRow(ctx, `
    UPDATE no_dues_forms
    SET status = 'pending',
        reapplication_count = reapplication_count + 1,
        is_reapplication = true,
        last_reapplied_at = $2,
        student_reply_message = $3,
        updated_at = $2
    WHERE id = $1
    RETURNING`+formColumns, id, at, message)
	return scanForm(row)
}

// ClaimCertificateGeneration flips certificate_generating from false to true. A claim older than
// staleBefore is treated as abandoned and can be taken over.
func (q *Queries) ClaimCertificateGeneration(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE no_dues_forms
    SET certificate_generating = true, certificate_generating_since = now()
    WHERE id = $1
      AND certificate_url IS NULL
      AND (certificate_generating = false OR certificate_generating_since < $2)
  `, id, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) ReleaseCertificateGeneration(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `
    UPDATE no_dues_forms
    SET certificate_generating = false, certificate_generating_since = NULL
    WHERE id = $1 AND certificate_url IS NULL
  `, id)
	return err
}

type FinalizeCertificateParams struct {
	ID                  string
	CertificateURL      string
	BlockchainHash      string
	BlockchainTx        string
	BlockchainBlock     int64
	BlockchainTimestamp time.Time
}

// FinalizeCertificate only succeeds for the holder of the generation claim.
func (q *Queries) FinalizeCertificate(ctx context.Context, arg FinalizeCertificateParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE no_dues_forms
    SET certificate_url = $2,
        blockchain_hash = $3,
        blockchain_tx = $4,
        blockchain_block = $5,
        blockchain_timestamp = $6,
        blockchain_verified = true,
        final_certificate_generated = true,
        certificate_generating = false,
        certificate_generating_since = NULL,
        status = 'completed',
        updated_at = now()
    WHERE id = $1 AND certificate_generating = true AND certificate_url IS NULL
  `, arg.ID, arg.CertificateURL, arg.BlockchainHash, arg.BlockchainTx, arg.BlockchainBlock, arg.BlockchainTimestamp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListFormsReadyForCertificate returns forms whose every status row is approved but which have no
// certificate yet. Claims older than staleBefore count as abandoned.
func (q *Queries) ListFormsReadyForCertificate(ctx context.Context, staleBefore time.Time, limit int32) ([]Form, error) {
	rows, err := q.db.Query(ctx, `
    SELECT`+formColumns+`
    FROM no_dues_forms f
    WHERE f.certificate_url IS NULL
      AND (f.certificate_generating = false OR f.certificate_generating_since < $2)
      AND EXISTS (SELECT 1 FROM no_dues_status s WHERE s.form_id = f.id)
      AND NOT EXISTS (SELECT 1 FROM no_dues_status s WHERE s.form_id = f.id AND s.status <> 'approved')
    ORDER BY f.updated_at
    LIMIT $1
  `, limit, staleBefore)
	if err != nil {
		return nil, err
	}
	return collectForms(rows)
}

type FormScope struct {
	ID       string
	SchoolID string
	CourseID string
	BranchID string
}

func (q *Queries) ListFormScopes(ctx context.Context) ([]FormScope, error) {
	rows, err := q.db.Query(ctx, `SELECT id, school_id, course_id, branch_id FROM no_dues_forms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scopes []FormScope
	for rows.Next() {
		var s FormScope
		if err := rows.Scan(&s.ID, &s.SchoolID, &s.CourseID, &s.BranchID); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

type DepartmentFormRow struct {
	Form   Form
	Status DepartmentStatus
}

type ListDepartmentFormsParams struct {
	Department string
	Status     *ClearanceStatus
	Limit      int32
}

func (q *Queries) ListDepartmentForms(ctx context.Context, arg ListDepartmentFormsParams) ([]DepartmentFormRow, error) {
	rows, err := q.db.Query(ctx, `
    SELECT`+prefixed("f", formColumns)+`,`+prefixed("s", statusColumns)+`
    FROM no_dues_status s
    JOIN no_dues_forms f ON f.id = s.form_id
    WHERE s.department_name = $1 AND ($2::text IS NULL OR s.status = $2)
    ORDER BY f.created_at DESC
    LIMIT $3
  `, arg.Department, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepartmentFormRow
	for rows.Next() {
		var item DepartmentFormRow
		f, st := &item.Form, &item.Status
		if err := rows.Scan(
			&f.ID, &f.RegistrationNo, &f.StudentName, &f.ParentName, &f.AdmissionYear, &f.PassingYear,
			&f.SchoolID, &f.CourseID, &f.BranchID, &f.School, &f.Course, &f.Branch,
			&f.CountryCode, &f.ContactNo, &f.PersonalEmail, &f.CollegeEmail,
			&f.Status, &f.ReapplicationCount, &f.MaxReapplicationsOverride, &f.IsReapplication, &f.LastReappliedAt,
			&f.StudentReplyMessage, &f.CertificateGenerating, &f.FinalCertificateGenerated, &f.CertificateURL,
			&f.BlockchainHash, &f.BlockchainTx, &f.BlockchainBlock, &f.BlockchainTimestamp, &f.BlockchainVerified,
			&f.CreatedAt, &f.UpdatedAt,
			&st.ID, &st.FormID, &st.DepartmentName, &st.Status, &st.RejectionReason, &st.RejectionCount,
			&st.ActionAt, &st.ActionByUserID, &st.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func collectForms(rows pgx.Rows) ([]Form, error) {
	defer rows.Close()
	var forms []Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = " " + alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ",")
}
