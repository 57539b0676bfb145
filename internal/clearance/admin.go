package clearance

import (
	"context"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

const (
	recentActivityWindow = 30 * 24 * time.Hour
	recentActivityLimit  = 50
	pendingAlertAge      = 7 * 24 * time.Hour
	pendingAlertLimit    = 20

	defaultDashboardLimit = 20
	maxDashboardLimit     = 100

	defaultReportWindow = 30 * 24 * time.Hour
	pendingReportLimit  = 500
	reportDateLayout    = "2006-01-02"
)

// Report types accepted by BuildReport.
const (
	ReportDepartmentPerformance = "department-performance"
	ReportRequestsOverTime      = "requests-over-time"
	ReportPendingAnalysis       = "pending-analysis"
)

type DepartmentReport struct {
	db.DepartmentPerformance
	Total         int64
	ApprovalRate  float64
	RejectionRate float64
}

// departmentReports adds percentages, rounded to two decimals, to the raw counts.
func departmentReports(rows []db.DepartmentPerformance) []DepartmentReport {
	out := make([]DepartmentReport, 0, len(rows))
	for _, p := range rows {
		r := DepartmentReport{DepartmentPerformance: p, Total: p.Pending + p.Approved + p.Rejected}
		if r.Total > 0 {
			r.ApprovalRate = percent(p.Approved, r.Total)
			r.RejectionRate = percent(p.Rejected, r.Total)
		}
		out = append(out, r)
	}
	return out
}

func percent(part, total int64) float64 {
	return math.Round(float64(part)*10000/float64(total)) / 100
}

type AdminStats struct {
	Forms          db.FormCounts
	Departments    []DepartmentReport
	RecentActivity []db.ActionHistoryRow
	PendingAlerts  []db.ActionHistoryRow
}

// LoadAdminStats gathers the overview counters. Pending alerts are rows still waiting after a week.
func LoadAdminStats(ctx context.Context, store *db.Store, principal authz.Principal, at time.Time) (AdminStats, error) {
	if !principal.IsAdmin() {
		return AdminStats{}, &Error{Code: ErrForbidden}
	}
	q := store.Queries
	var stats AdminStats
	var performance []db.DepartmentPerformance
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Forms, err = q.CountForms(gctx)
		return err
	})
	g.Go(func() (err error) {
		performance, err = q.DepartmentPerformance(gctx, time.Time{}, at.Add(time.Second))
		return err
	})
	g.Go(func() (err error) {
		stats.RecentActivity, err = q.ListRecentActions(gctx, at.Add(-recentActivityWindow), recentActivityLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.PendingAlerts, err = q.ListPendingSince(gctx, at.Add(-pendingAlertAge), pendingAlertLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return AdminStats{}, serverError(err)
	}
	stats.Departments = departmentReports(performance)
	return stats, nil
}

type DashboardInput struct {
	Status     string
	Department string
	Search     string
	Page       int
	Limit      int
}

type DashboardRow struct {
	Form     db.Form
	Statuses []db.DepartmentStatus
	Stats    Stats
}

type Dashboard struct {
	Rows       []DashboardRow
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// normalize fills paging defaults and validates the status filter.
func (in *DashboardInput) normalize() (*db.FormStatus, error) {
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	in.Department = strings.TrimSpace(in.Department)
	in.Search = strings.TrimSpace(in.Search)
	if in.Page < 1 {
		in.Page = 1
	}
	switch {
	case in.Limit <= 0:
		in.Limit = defaultDashboardLimit
	case in.Limit > maxDashboardLimit:
		in.Limit = maxDashboardLimit
	}
	if in.Status == "" {
		return nil, nil
	}
	if err := validateValue("status", in.Status, "oneof=pending in_progress completed rejected"); err != nil {
		return nil, err
	}
	status := db.FormStatus(in.Status)
	return &status, nil
}

func LoadDashboard(ctx context.Context, store *db.Store, principal authz.Principal, in DashboardInput) (Dashboard, error) {
	if !principal.IsAdmin() {
		return Dashboard{}, &Error{Code: ErrForbidden}
	}
	status, err := in.normalize()
	if err != nil {
		return Dashboard{}, err
	}
	forms, total, err := store.Queries.SearchForms(ctx, db.SearchFormsParams{
		Status:     status,
		Department: in.Department,
		Search:     in.Search,
		Limit:      int32(in.Limit),
		Offset:     int32(in.Limit * (in.Page - 1)),
	})
	if err != nil {
		return Dashboard{}, serverError(err)
	}
	ids := make([]string, 0, len(forms))
	for _, form := range forms {
		ids = append(ids, form.ID)
	}
	byForm, err := store.Queries.ListStatusesByForms(ctx, ids)
	if err != nil {
		return Dashboard{}, serverError(err)
	}
	rows := make([]DashboardRow, 0, len(forms))
	for _, form := range forms {
		statuses := byForm[form.ID]
		rows = append(rows, DashboardRow{Form: form, Statuses: statuses, Stats: Aggregate(statuses)})
	}
	return Dashboard{
		Rows:       rows,
		Total:      total,
		Page:       in.Page,
		Limit:      in.Limit,
		TotalPages: int((total + int64(in.Limit) - 1) / int64(in.Limit)),
	}, nil
}

type ReportInput struct {
	Type      string
	StartDate string
	EndDate   string
}

type Report struct {
	Type        string
	From        time.Time
	To          time.Time
	Departments []DepartmentReport
	Days        []db.DailyFormCounts
	Pending     []db.ActionHistoryRow
}

// reportRange resolves the inclusive date range to [from, to). Without dates it covers the last
// thirty days up to at.
func reportRange(in ReportInput, at time.Time) (time.Time, time.Time, error) {
	to := at
	from := at.Add(-defaultReportWindow)
	if in.EndDate != "" {
		end, err := time.Parse(reportDateLayout, in.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("end_date", "date")
		}
		to = end.AddDate(0, 0, 1)
		if in.StartDate == "" {
			from = to.Add(-defaultReportWindow)
		}
	}
	if in.StartDate != "" {
		start, err := time.Parse(reportDateLayout, in.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("start_date", "date")
		}
		from = start
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fieldError("end_date", "gtefield")
	}
	return from, to, nil
}

func BuildReport(ctx context.Context, store *db.Store, principal authz.Principal, in ReportInput, at time.Time) (Report, error) {
	if !principal.IsAdmin() {
		return Report{}, &Error{Code: ErrForbidden}
	}
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.StartDate = strings.TrimSpace(in.StartDate)
	in.EndDate = strings.TrimSpace(in.EndDate)
	if err := validateValue("type", in.Type, "required,oneof="+ReportDepartmentPerformance+" "+ReportRequestsOverTime+" "+ReportPendingAnalysis); err != nil {
		return Report{}, err
	}
	from, to, err := reportRange(in, at)
	if err != nil {
		return Report{}, err
	}

	report := Report{Type: in.Type, From: from, To: to}
	q := store.Queries
	switch in.Type {
	case ReportDepartmentPerformance:
		rows, err := q.DepartmentPerformance(ctx, from, to)
		if err != nil {
			return Report{}, serverError(err)
		}
		report.Departments = departmentReports(rows)
	case ReportRequestsOverTime:
		report.Days, err = q.CountFormsByDay(ctx, from, to)
		if err != nil {
			return Report{}, serverError(err)
		}
	case ReportPendingAnalysis:
		report.Pending, err = q.ListPendingSince(ctx, to, pendingReportLimit)
		if err != nil {
			return Report{}, serverError(err)
		}
	}
	return report, nil
}
