package http

import (
	"net/http"
	"strconv"
	"time"

	"nodues/clearance/internal/clearance"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	stats, err := clearance.LoadAdminStats(r.Context(), s.store, principal, time.Now())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	f := stats.Forms
	writeJSON(w, http.StatusOK, adminStatsResponse{
		Forms: formCountsResponse{
			Total:        f.Total,
			Pending:      f.Pending,
			InProgress:   f.InProgress,
			Completed:    f.Completed,
			Rejected:     f.Rejected,
			Reapplied:    f.Reapplied,
			Certificates: f.Certificates,
		},
		Departments:    mapDepartmentReports(stats.Departments),
		RecentActivity: mapHistoryRows(stats.RecentActivity),
		PendingAlerts:  mapHistoryRows(stats.PendingAlerts),
	})
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	dash, err := clearance.LoadDashboard(r.Context(), s.store, principal, clearance.DashboardInput{
		Status:     query.Get("status"),
		Department: query.Get("department"),
		Search:     query.Get("search"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	rows := make([]dashboardRowResponse, 0, len(dash.Rows))
	for _, row := range dash.Rows {
		rows = append(rows, dashboardRowResponse{Form: mapForm(row.Form), Statuses: mapStatuses(row.Statuses), Stats: row.Stats})
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Forms:      rows,
		Total:      dash.Total,
		Page:       dash.Page,
		Limit:      dash.Limit,
		TotalPages: dash.TotalPages,
	})
}

func (s *Server) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	query := r.URL.Query()
	report, err := clearance.BuildReport(r.Context(), s.store, principal, clearance.ReportInput{
		Type:      query.Get("type"),
		StartDate: query.Get("start_date"),
		EndDate:   query.Get("end_date"),
	}, time.Now())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := reportResponse{Type: report.Type, From: report.From, To: report.To}
	switch report.Type {
	case clearance.ReportDepartmentPerformance:
		resp.Departments = mapDepartmentReports(report.Departments)
	case clearance.ReportRequestsOverTime:
		resp.Days = make([]dailyCountsResponse, 0, len(report.Days))
		for _, d := range report.Days {
			resp.Days = append(resp.Days, dailyCountsResponse{
				Day:        d.Day.Format("2006-01-02"),
				Pending:    d.Pending,
				InProgress: d.InProgress,
				Completed:  d.Completed,
				Rejected:   d.Rejected,
			})
		}
	case clearance.ReportPendingAnalysis:
		resp.Pending = mapHistoryRows(report.Pending)
	}
	writeJSON(w, http.StatusOK, resp)
}
