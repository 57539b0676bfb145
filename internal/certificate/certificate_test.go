package certificate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
)

func sampleForm() db.Form {
	return db.Form{
		ID:             "55555555-5555-5555-5555-555555555555",
		RegistrationNo: "21BCON1234",
		StudentName:    "Asha Verma",
		School:         "School of Engineering",
		Course:         "B.Tech",
		Branch:         "Computer Science",
		PersonalEmail:  "asha@example.com",
		CollegeEmail:   "asha@college.edu",
	}
}

func sampleStatuses() []db.DepartmentStatus {
	at := time.Date(2025, 4, 2, 10, 30, 0, 123456000, time.UTC)
	return []db.DepartmentStatus{
		{DepartmentName: "library", Status: db.ClearanceApproved, ActionAt: &at},
		{DepartmentName: "accounts", Status: db.ClearanceApproved, ActionAt: &at},
	}
}

func TestHashDeterministic(t *testing.T) {
	completed := time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)
	a, err := Hash(sampleForm(), sampleStatuses(), completed)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, _ := Hash(sampleForm(), sampleStatuses(), completed.In(time.FixedZone("IST", 5*3600+1800)))
	if a != b {
		t.Fatalf("hash must not depend on the time zone")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha-256 hex, got %q", a)
	}

	changed := sampleForm()
	changed.StudentName = "Asha V."
	c, _ := Hash(changed, sampleStatuses(), completed)
	if c == a {
		t.Fatalf("hash must change with the student name")
	}
	statuses := sampleStatuses()
	statuses[1].Status = db.ClearanceRejected
	d, _ := Hash(sampleForm(), statuses, completed)
	if d == a {
		t.Fatalf("hash must change with a department status")
	}
}

func TestTransactionIDFormat(t *testing.T) {
	hash := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	tx, err := TransactionID(hash, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("transaction id: %v", err)
	}
	pattern := regexp.MustCompile(`^JECRC-2025-[0-9A-Z]{5}-ABCDEF01$`)
	if !pattern.MatchString(tx) {
		t.Fatalf("unexpected transaction id %q", tx)
	}
	if _, err := TransactionID("abc", time.Now()); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestNewRecordTruncatesToMicroseconds(t *testing.T) {
	now := time.Date(2025, 4, 3, 8, 0, 0, 123456789, time.UTC)
	rec, err := NewRecord(sampleForm(), sampleStatuses(), now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.IssuedAt.Nanosecond() != 123456000 {
		t.Fatalf("expected microsecond precision, got %d", rec.IssuedAt.Nanosecond())
	}
	if rec.Block != rec.IssuedAt.UnixMilli() {
		t.Fatalf("block must be the issue time in milliseconds")
	}
	again, _ := Hash(sampleForm(), sampleStatuses(), rec.IssuedAt)
	if again != rec.Hash {
		t.Fatalf("hash must be reproducible from the stored issue time")
	}
}

func TestQRPayloadJSON(t *testing.T) {
	rec := Record{Hash: "h", TransactionID: "JECRC-2025-AAAAA-HHHHHHHH", Block: 42, IssuedAt: time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)}
	payload := NewQRPayload(sampleForm(), rec, "https://nodues.example.edu/")
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"txId"`, `"hash"`, `"block":42`, `"regNo":"21BCON1234"`, `"verifyUrl":"https://nodues.example.edu/verify/JECRC-2025-AAAAA-HHHHHHHH"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("payload %s missing %s", raw, key)
		}
	}
	parsed, err := ParseQR(string(raw))
	if err != nil || parsed != payload {
		t.Fatalf("expected payload to parse back, got %+v %v", parsed, err)
	}
}

func TestParseQRRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"txId":""}`, `{"txId":"X"}`} {
		_, err := ParseQR(raw)
		opErr, ok := clearance.AsError(err)
		if !ok || opErr.Code != clearance.ErrValidationFailed {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}

func issuedForm(t *testing.T) (db.Form, []db.DepartmentStatus, QRPayload) {
	t.Helper()
	form := sampleForm()
	statuses := sampleStatuses()
	rec, err := NewRecord(form, statuses, time.Now())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	url := "https://cdn.example.edu/certificates/x.pdf"
	form.BlockchainTx = &rec.TransactionID
	form.BlockchainHash = &rec.Hash
	form.BlockchainTimestamp = &rec.IssuedAt
	form.CertificateURL = &url
	return form, statuses, NewQRPayload(form, rec, "http://app")
}

func TestCheckRecord(t *testing.T) {
	form, statuses, payload := issuedForm(t)
	if reason := checkRecord(form, statuses, payload); reason != "" {
		t.Fatalf("expected valid record, got %q", reason)
	}

	tampered := payload
	tampered.Hash = strings.Repeat("0", 64)
	if reason := checkRecord(form, statuses, tampered); reason != "certificate hash mismatch" {
		t.Fatalf("unexpected reason %q", reason)
	}

	wrongStudent := payload
	wrongStudent.RegNo = "22BCON0001"
	if reason := checkRecord(form, statuses, wrongStudent); reason != "student details mismatch" {
		t.Fatalf("unexpected reason %q", reason)
	}

	edited := form
	edited.StudentName = "Someone Else"
	if reason := checkRecord(edited, statuses, payload); reason != "certificate data modified after issue" {
		t.Fatalf("unexpected reason %q", reason)
	}

	unissued := sampleForm()
	if reason := checkRecord(unissued, statuses, payload); reason != "certificate not issued" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestRenderProducesPDF(t *testing.T) {
	form, statuses, payload := issuedForm(t)
	pdf, err := Render(form, statuses, payload)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("output is not a pdf")
	}
	if len(pdf) < 1000 {
		t.Fatalf("pdf suspiciously small: %d bytes", len(pdf))
	}
}

func TestLocalStoragePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "/files/")
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	url, err := store.Put(context.Background(), ObjectKey(sampleForm()), []byte("%PDF-1.3"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/files/certificates/21BCON1234-55555555-5555-5555-5555-555555555555.pdf" {
		t.Fatalf("unexpected url %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "certificates", "21BCON1234-55555555-5555-5555-5555-555555555555.pdf"))
	if err != nil || string(data) != "%PDF-1.3" {
		t.Fatalf("file not written: %v", err)
	}

	escaped, err := store.Put(context.Background(), "../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if escaped != "/files/etc/passwd" {
		t.Fatalf("key must stay inside the storage dir, got %q", escaped)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc", "passwd")); err != nil {
		t.Fatalf("expected file inside storage dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "late.pdf", nil); err == nil {
		t.Fatalf("expected cancelled context to fail")
	}
}

func TestOSSPublicURL(t *testing.T) {
	if got := ossPublicURL("", "https://oss-ap-south-1.aliyuncs.com", "certs", "certificates/a.pdf"); got != "https://certs.oss-ap-south-1.aliyuncs.com/certificates/a.pdf" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := ossPublicURL("https://cdn.example.edu", "oss.example", "certs", "a.pdf"); got != "https://cdn.example.edu/a.pdf" {
		t.Fatalf("unexpected url %q", got)
	}
	if _, err := NewOSSStorage(OSSOptions{Endpoint: "x"}); err == nil {
		t.Fatalf("expected missing credentials to fail")
	}
}

func TestGenerateRejectsMalformedID(t *testing.T) {
	svc := &Service{}
	_, err := svc.Generate(context.Background(), "not-a-uuid")
	opErr, ok := clearance.AsError(err)
	if !ok || opErr.Code != clearance.ErrValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}
