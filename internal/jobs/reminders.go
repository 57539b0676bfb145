package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"nodues/clearance/internal/db"
	"nodues/clearance/internal/metrics"
	"nodues/clearance/internal/notify"
)

const reminderTimeout = 5 * time.Minute

type ReminderSource interface {
	ListActiveDepartments(ctx context.Context) ([]db.Department, error)
	CountStatusesByDepartment(ctx context.Context, departments []string) ([]db.DepartmentCounts, error)
	ListStaffEmails(ctx context.Context, departmentID string, includeAdmins bool) ([]string, error)
}

type Mailer interface {
	SendNow(ctx context.Context, msg notify.Message) error
}

// ReminderScheduler emails each department that still has pending applications.
type ReminderScheduler struct {
	cron   *cron.Cron
	spec   string
	source ReminderSource
	mailer Mailer
	logger logrus.FieldLogger
	appURL string
}

func NewReminderScheduler(spec string, source ReminderSource, mailer Mailer, logger logrus.FieldLogger, appURL string) *ReminderScheduler {
	return &ReminderScheduler{
		cron:   cron.New(cron.WithLocation(time.Local), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:   spec,
		source: source,
		mailer: mailer,
		logger: logger,
		appURL: appURL,
	}
}

func (s *ReminderScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reminderTimeout)
		defer cancel()
		sent, err := s.Run(ctx)
		if err != nil {
			metrics.JobRuns.WithLabelValues("reminders", "error").Inc()
			s.logger.WithError(err).Error("pending reminder job failed")
			return
		}
		metrics.JobRuns.WithLabelValues("reminders", "ok").Inc()
		s.logger.WithField("sent", sent).Info("pending reminders sent")
	}); err != nil {
		return fmt.Errorf("schedule reminders %q: %w", s.spec, err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running reminder to finish.
func (s *ReminderScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run sends one reminder per department with pending rows and returns how many were sent.
func (s *ReminderScheduler) Run(ctx context.Context) (int, error) {
	departments, err := s.source.ListActiveDepartments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list departments: %w", err)
	}
	names := make([]string, 0, len(departments))
	byName := make(map[string]db.Department, len(departments))
	for _, d := range departments {
		names = append(names, d.Name)
		byName[d.Name] = d
	}
	counts, err := s.source.CountStatusesByDepartment(ctx, names)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}

	sent := 0
	for _, c := range counts {
		if c.Pending == 0 {
			continue
		}
		dept := byName[c.DepartmentName]
		recipients, err := s.source.ListStaffEmails(ctx, dept.ID, false)
		if err != nil {
			return sent, fmt.Errorf("list staff for %s: %w", dept.Name, err)
		}
		if dept.Email != nil && *dept.Email != "" {
			recipients = append(recipients, *dept.Email)
		}
		if len(recipients) == 0 {
			continue
		}
		label := dept.DisplayName
		if label == "" {
			label = dept.Name
		}
		if err := s.mailer.SendNow(ctx, notify.PendingReminder(recipients, label, c.Pending, s.appURL)); err != nil {
			s.logger.WithError(err).WithField("department", dept.Name).Warn("pending reminder not delivered")
			continue
		}
		sent++
	}
	return sent, nil
}
