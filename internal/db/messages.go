package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, form_id, department_name, sender_type, sender_id, sender_name, message, is_read, read_at, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.FormID,
		&m.DepartmentName,
		&m.SenderType,
		&m.SenderID,
		&m.SenderName,
		&m.Message,
		&m.IsRead,
		&m.ReadAt,
		&m.CreatedAt,
	)
	return m, err
}

type CreateMessageParams struct {
	FormID         string
	DepartmentName string
	SenderType     SenderType
	SenderID       string
	SenderName     string
	Message        string
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	return scanMessage(q.db.QueryRow(ctx, `
    INSERT INTO no_dues_messages (form_id, department_name, sender_type, sender_id, sender_name, message)
    VALUES ($1, $2, $3, $4, $5, $6)
    RETURNING `+messageColumns,
		arg.FormID, arg.DepartmentName, arg.SenderType, arg.SenderID, arg.SenderName, arg.Message,
	))
}

func (q *Queries) ListMessages(ctx context.Context, formID, department string) ([]Message, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+messageColumns+`
    FROM no_dues_messages
    WHERE form_id = $1 AND department_name = $2
    ORDER BY created_at, id
  `, formID, department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessagesRead marks unread messages sent by sender as read.
func (q *Queries) MarkMessagesRead(ctx context.Context, formID, department string, sender SenderType, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE no_dues_messages
    SET is_read = true, read_at = $4
    WHERE form_id = $1 AND department_name = $2 AND sender_type = $3 AND is_read = false
  `, formID, department, sender, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type UnreadThread struct {
	FormID         string
	DepartmentName string
	RegistrationNo string
	StudentName    string
	Unread         int64
	LastMessageAt  time.Time
}

func (q *Queries) ListUnreadThreads(ctx context.Context, departments []string) ([]UnreadThread, error) {
	rows, err := q.db.Query(ctx, `
    SELECT m.form_id, m.department_name, f.registration_no, f.student_name, count(*), max(m.created_at)
    FROM no_dues_messages m
    JOIN no_dues_forms f ON f.id = m.form_id
    WHERE m.department_name = ANY($1::text[]) AND m.sender_type = 'student' AND m.is_read = false
    GROUP BY m.form_id, m.department_name, f.registration_no, f.student_name
    ORDER BY max(m.created_at) DESC
  `, departments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnreadThread
	for rows.Next() {
		var t UnreadThread
		if err := rows.Scan(&t.FormID, &t.DepartmentName, &t.RegistrationNo, &t.StudentName, &t.Unread, &t.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
