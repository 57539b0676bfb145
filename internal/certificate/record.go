package certificate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"nodues/clearance/internal/db"
)

const txPrefix = "JECRC"

const txAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// hashInput fixes the field order of the fingerprint. Changing it invalidates every issued
// certificate.
type hashInput struct {
	StudentID      string           `json:"studentId"`
	RegistrationNo string           `json:"registrationNo"`
	FullName       string           `json:"fullName"`
	Course         string           `json:"course"`
	Branch         string           `json:"branch"`
	Status         string           `json:"status"`
	CompletedAt    string           `json:"completedAt"`
	Departments    []hashDepartment `json:"departments"`
}

type hashDepartment struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	ActionAt *string `json:"actionAt"`
}

// Record is the tamper evidence stored on a form when its certificate is issued.
type Record struct {
	Hash          string
	TransactionID string
	Block         int64
	IssuedAt      time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Hash fingerprints the form and its department decisions as of completedAt.
func Hash(form db.Form, statuses []db.DepartmentStatus, completedAt time.Time) (string, error) {
	in := hashInput{
		StudentID:      form.ID,
		RegistrationNo: form.RegistrationNo,
		FullName:       form.StudentName,
		Course:         form.Course,
		Branch:         form.Branch,
		Status:         string(db.FormStatusCompleted),
		CompletedAt:    formatTime(completedAt),
		Departments:    make([]hashDepartment, 0, len(statuses)),
	}
	for _, st := range statuses {
		d := hashDepartment{Name: st.DepartmentName, Status: string(st.Status)}
		if st.ActionAt != nil {
			at := formatTime(*st.ActionAt)
			d.ActionAt = &at
		}
		in.Departments = append(in.Departments, d)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode certificate fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// TransactionID formats JECRC-YYYY-XXXXX-HASH8.
func TransactionID(hash string, at time.Time) (string, error) {
	if len(hash) < 8 {
		return "", fmt.Errorf("certificate hash too short")
	}
	var suffix strings.Builder
	for i := 0; i < 5; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(txAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate transaction id: %w", err)
		}
		suffix.WriteByte(txAlphabet[n.Int64()])
	}
	return fmt.Sprintf("%s-%d-%s-%s", txPrefix, at.UTC().Year(), suffix.String(), strings.ToUpper(hash[:8])), nil
}

// NewRecord hashes the form and stamps it. The issue time is truncated to what Postgres stores so
// the hash can be recomputed from the database later.
func NewRecord(form db.Form, statuses []db.DepartmentStatus, now time.Time) (Record, error) {
	issued := now.UTC().Truncate(time.Microsecond)
	hash, err := Hash(form, statuses, issued)
	if err != nil {
		return Record{}, err
	}
	tx, err := TransactionID(hash, issued)
	if err != nil {
		return Record{}, err
	}
	return Record{Hash: hash, TransactionID: tx, Block: issued.UnixMilli(), IssuedAt: issued}, nil
}

// QRPayload is the JSON embedded in the certificate's QR code and posted back for verification.
type QRPayload struct {
	TxID      string `json:"txId"`
	Hash      string `json:"hash"`
	Block     int64  `json:"block"`
	StudentID string `json:"studentId"`
	RegNo     string `json:"regNo"`
	Name      string `json:"name"`
	Issued    string `json:"issued"`
	VerifyURL string `json:"verifyUrl"`
}

func NewQRPayload(form db.Form, rec Record, appURL string) QRPayload {
	return QRPayload{
		TxID:      rec.TransactionID,
		Hash:      rec.Hash,
		Block:     rec.Block,
		StudentID: form.ID,
		RegNo:     form.RegistrationNo,
		Name:      form.StudentName,
		Issued:    formatTime(rec.IssuedAt),
		VerifyURL: strings.TrimRight(appURL, "/") + "/verify/" + rec.TransactionID,
	}
}
