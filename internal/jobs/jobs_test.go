package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"nodues/clearance/internal/db"
	"nodues/clearance/internal/notify"
)

type fakeSource struct {
	departments []db.Department
	counts      []db.DepartmentCounts
	staff       map[string][]string
}

func (f *fakeSource) ListActiveDepartments(context.Context) ([]db.Department, error) {
	return f.departments, nil
}

func (f *fakeSource) CountStatusesByDepartment(_ context.Context, names []string) ([]db.DepartmentCounts, error) {
	allowed := map[string]bool{}
	for _, n := range names {
		allowed[n] = true
	}
	var out []db.DepartmentCounts
	for _, c := range f.counts {
		if allowed[c.DepartmentName] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) ListStaffEmails(_ context.Context, id string, _ bool) ([]string, error) {
	return f.staff[id], nil
}

type fakeMailer struct {
	sent []notify.Message
	fail string
}

func (m *fakeMailer) SendNow(_ context.Context, msg notify.Message) error {
	if m.fail != "" && strings.Contains(msg.Body, m.fail) {
		return errors.New("relay down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestReminderRun(t *testing.T) {
	libraryMail := "library@uni.edu"
	source := &fakeSource{
		departments: []db.Department{
			{ID: "d1", Name: "library", DisplayName: "Central Library", Email: &libraryMail},
			{ID: "d2", Name: "hostel", DisplayName: "Hostel"},
			{ID: "d3", Name: "accounts", DisplayName: "Accounts"},
			{ID: "d4", Name: "sports", DisplayName: "Sports"},
		},
		counts: []db.DepartmentCounts{
			{DepartmentName: "library", Pending: 4},
			{DepartmentName: "hostel", Pending: 0, Approved: 9},
			{DepartmentName: "accounts", Pending: 2},
			{DepartmentName: "sports", Pending: 1},
		},
		staff: map[string][]string{
			"d1": {"librarian@uni.edu"},
			"d2": {"warden@uni.edu"},
			"d3": {"clerk@uni.edu"},
		},
	}
	mailer := &fakeMailer{fail: "Accounts"}
	logger, hook := test.NewNullLogger()
	s := NewReminderScheduler("0 9 * * *", source, mailer, logger, "http://app")

	sent, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 1 || len(mailer.sent) != 1 {
		t.Fatalf("expected one reminder, got %d", sent)
	}
	to := append([]string(nil), mailer.sent[0].To...)
	sort.Strings(to)
	if strings.Join(to, ",") != "librarian@uni.edu,library@uni.edu" {
		t.Fatalf("unexpected recipients %v", to)
	}
	if !strings.Contains(mailer.sent[0].Subject, "4 pending") {
		t.Fatalf("unexpected subject %q", mailer.sent[0].Subject)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["department"] != "accounts" {
		t.Fatalf("expected delivery failure to be logged")
	}
}

func TestReminderStartRejectsBadSpec(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewReminderScheduler("not a cron", &fakeSource{}, &fakeMailer{}, logger, "")
	if err := s.Start(); err == nil {
		t.Fatalf("expected invalid spec error")
	}
}

type fakeProcessor struct {
	issued int
	err    error
	limit  int32
}

func (f *fakeProcessor) ProcessReady(ctx context.Context, limit int32) (int, error) {
	f.limit = limit
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("expected deadline")
	}
	return f.issued, f.err
}

func TestRunCertificateBatch(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := &fakeProcessor{issued: 3}
	if got := runCertificateBatch(context.Background(), p, time.Second, logger); got != 3 {
		t.Fatalf("expected 3 issued, got %d", got)
	}
	if p.limit != certificateBatchSize {
		t.Fatalf("expected batch size %d, got %d", certificateBatchSize, p.limit)
	}

	p.err = errors.New("db down")
	runCertificateBatch(context.Background(), p, time.Second, logger)
	if hook.LastEntry() == nil || hook.LastEntry().Message != "certificate job error" {
		t.Fatalf("expected error log")
	}
}
