package db

import (
	"context"
)

func (q *Queries) CreateAuditLog(ctx context.Context, actorID, action, targetID string, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	_, err := q.db.Exec(ctx, `
    INSERT INTO audit_logs (actor_id, action, target_id, details)
    VALUES ($1, $2, $3, $4)
  `, actorID, action, targetID, details)
	return err
}

func (q *Queries) CreateGenerationLog(ctx context.Context, formID, outcome, detail string) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO certificate_generation_logs (form_id, outcome, detail)
    VALUES ($1, $2, NULLIF($3, ''))
  `, formID, outcome, detail)
	return err
}

// CreateVerification records one verification attempt and returns how many attempts the form has.
func (q *Queries) CreateVerification(ctx context.Context, formID *string, txID, result, ip string) (int64, error) {
	if _, err := q.db.Exec(ctx, `
    INSERT INTO certificate_verifications (form_id, transaction_id, result, ip_address)
    VALUES ($1, $2, $3, NULLIF($4, ''))
  `, formID, txID, result, ip); err != nil {
		return 0, err
	}
	var count int64
	err := q.db.QueryRow(ctx, `
    SELECT count(*) FROM certificate_verifications WHERE transaction_id = $1
  `, txID).Scan(&count)
	return count, err
}
