package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
	"nodues/clearance/internal/metrics"
	"nodues/clearance/internal/notify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := clearance.ApplyAction(r.Context(), s.store, principal, clearance.ActionInput{
		FormID:     req.FormID,
		Department: req.Department,
		Action:     req.Action,
		Reason:     req.Reason,
	})
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	s.afterAction(res)
	writeJSON(w, http.StatusOK, actionResponse{
		Status:     mapStatus(res.Status),
		Stats:      res.Stats,
		FormStatus: string(res.Form.Status),
	})
}

func (s *Server) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req bulkActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := clearance.BulkApplyAction(r.Context(), s.store, principal, clearance.BulkActionInput{
		FormIDs:    req.FormIDs,
		Department: req.Department,
		Action:     req.Action,
		Reason:     req.Reason,
	})
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := bulkActionResponse{Succeeded: []bulkActionSuccess{}, Failed: res.Failed}
	if resp.Failed == nil {
		resp.Failed = []clearance.BulkFailure{}
	}
	for _, item := range res.Succeeded {
		s.afterAction(item)
		resp.Succeeded = append(resp.Succeeded, bulkActionSuccess{
			FormID:     item.Form.ID,
			Status:     string(item.Status.Status),
			FormStatus: string(item.Form.Status),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// afterAction runs the side effects of a committed decision: the rejection mail and, once every
// department approved, certificate generation.
func (s *Server) afterAction(res clearance.ActionResult) {
	metrics.DepartmentActions.WithLabelValues(string(res.Status.Status)).Inc()
	log := s.logger.WithField("form_id", res.Form.ID).WithField("department", res.Status.DepartmentName)
	log.WithField("status", res.Status.Status).Info("department action recorded")

	if res.Status.Status == db.ClearanceRejected {
		reason := ""
		if res.Status.RejectionReason != nil {
			reason = *res.Status.RejectionReason
		}
		s.dispatcher.Dispatch(notify.Rejection(res.Form.PersonalEmail, res.Form.StudentName,
			res.Form.RegistrationNo, res.Status.DepartmentName, reason, s.cfg.AppURL))
	}
	if res.ReadyForCertificate() {
		s.generateAsync(res.Form.ID)
	}
}

// generateAsync issues the certificate off the request path with its own deadline.
func (s *Server) generateAsync(formID string) {
	if s.certificates == nil {
		return
	}
	timeout := s.cfg.CertificateJobTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.certificates.Generate(ctx, formID); err != nil {
			s.logger.WithError(err).WithField("form_id", formID).Warn("automatic certificate generation failed")
		}
	}()
}

func (s *Server) handleDepartmentForms(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	query := r.URL.Query()
	rows, err := clearance.ListDepartmentForms(r.Context(), s.store, principal,
		query.Get("department"), query.Get("status"), parseLimit(r, defaultListLimit))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := make([]departmentFormResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, departmentFormResponse{Form: mapForm(row.Form), Status: mapStatus(row.Status)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	rows, err := clearance.ActionHistory(r.Context(), s.store, principal, parseLimit(r, defaultListLimit))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapHistoryRows(rows))
}

func (s *Server) handleStaffFormDetail(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	detail, err := clearance.FormDetailForStaff(r.Context(), s.store, principal, chi.URLParam(r, "formId"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	history := make([]reapplicationResponse, 0, len(detail.Reapplications))
	for _, h := range detail.Reapplications {
		history = append(history, mapReapplication(h))
	}
	writeJSON(w, http.StatusOK, formDetailResponse{
		Form:           mapForm(detail.Form),
		Statuses:       mapStatuses(detail.Statuses),
		Stats:          detail.Stats,
		Reapplications: history,
	})
}

func (s *Server) handleDepartmentStats(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	counts, err := clearance.DepartmentStats(r.Context(), s.store, principal)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := make([]departmentCountsResponse, 0, len(counts))
	for _, c := range counts {
		resp = append(resp, departmentCountsResponse{
			Department: c.DepartmentName,
			Pending:    c.Pending,
			Approved:   c.Approved,
			Rejected:   c.Rejected,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveChats(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	threads, err := clearance.UnreadThreads(r.Context(), s.store, principal)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := make([]unreadThreadResponse, 0, len(threads))
	for _, t := range threads {
		resp = append(resp, unreadThreadResponse{
			FormID:         t.FormID,
			Department:     t.DepartmentName,
			RegistrationNo: t.RegistrationNo,
			StudentName:    t.StudentName,
			Unread:         t.Unread,
			LastMessageAt:  t.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRepairStatuses(w http.ResponseWriter, r *http.Request) {
	res, err := clearance.RepairStatuses(r.Context(), s.store)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	s.logger.WithField("forms_scanned", res.FormsScanned).WithField("rows_created", res.RowsCreated).Info("status repair finished")
	writeJSON(w, http.StatusOK, res)
}
