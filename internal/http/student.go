package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
	"nodues/clearance/internal/metrics"
	"nodues/clearance/internal/notify"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitFormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := clearance.Submit(r.Context(), s.store, req.input())
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	metrics.FormsSubmitted.Inc()
	s.logger.WithField("form_id", res.Form.ID).WithField("departments", len(res.Statuses)).Info("form submitted")

	submission := notify.Submission{
		StudentName:    res.Form.StudentName,
		RegistrationNo: res.Form.RegistrationNo,
		School:         res.Form.School,
		Course:         res.Form.Course,
		Branch:         res.Form.Branch,
		FormID:         res.Form.ID,
	}
	s.notifyDepartments(r.Context(), res.Departments, func(to []string) notify.Message {
		return notify.NewSubmission(to, submission, s.cfg.AppURL)
	})

	writeJSON(w, http.StatusCreated, submitResponse{Form: mapForm(res.Form), Statuses: mapStatuses(res.Statuses)})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	res, err := clearance.Lookup(r.Context(), s.store, r.URL.Query().Get("registration_no"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := lookupResponse{Exists: res.Exists}
	if res.Form != nil {
		status := string(res.Form.Status)
		resp.FormID = &res.Form.ID
		resp.Status = &status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	eval, err := clearance.CheckStatus(r.Context(), s.store, r.URL.Query().Get("registration_no"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkStatusResponse{
		Form:     mapForm(eval.Form),
		Statuses: mapStatuses(eval.Statuses),
		Stats:    eval.Stats,
	})
}

// handleRequestOTP answers 202 whether or not the registration number exists.
func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	if !s.otp.Enabled() {
		writeError(w, http.StatusServiceUnavailable, codeOTPUnavailable)
		return
	}
	found, err := clearance.Lookup(r.Context(), s.store, req.RegistrationNo)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	accepted := map[string]string{"status": "sent"}
	if !found.Exists {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}
	code, err := s.otp.Issue(r.Context(), found.Form.RegistrationNo)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	s.dispatcher.Dispatch(notify.OTPCode(found.Form.PersonalEmail, code, s.cfg.StudentOTPTTL.String()))
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	regNo := strings.ToUpper(strings.TrimSpace(req.RegistrationNo))
	fields := map[string]string{}
	if regNo == "" {
		fields["registration_no"] = "required"
	}
	if strings.TrimSpace(req.Code) == "" {
		fields["code"] = "required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: clearance.ErrValidationFailed, Fields: fields})
		return
	}
	ok, err := s.otp.Consume(r.Context(), regNo, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrOTPUnavailable) {
			writeError(w, http.StatusServiceUnavailable, codeOTPUnavailable)
			return
		}
		s.writeOpError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, codeInvalidCode)
		return
	}
	found, err := clearance.Lookup(r.Context(), s.store, regNo)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	if !found.Exists {
		writeError(w, http.StatusUnauthorized, codeInvalidCode)
		return
	}
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.StudentTokenTTL, auth.Claims{
		UserID:         found.Form.ID,
		UserType:       auth.UserTypeStudent,
		RegistrationNo: found.Form.RegistrationNo,
	})
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, otpVerifyResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.StudentTokenTTL.Seconds()),
		FormID:      found.Form.ID,
	})
}

func (s *Server) handleReapply(w http.ResponseWriter, r *http.Request) {
	s.reapply(w, r, false)
}

func (s *Server) handleReapplyDepartment(w http.ResponseWriter, r *http.Request) {
	s.reapply(w, r, true)
}

func (s *Server) reapply(w http.ResponseWriter, r *http.Request, requireDepartment bool) {
	principal, _ := principalFromContext(r.Context())
	var req reapplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	if requireDepartment && strings.TrimSpace(req.Department) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  clearance.ErrValidationFailed,
			Fields: map[string]string{"department": "required"},
		})
		return
	}
	res, err := clearance.Reapply(r.Context(), s.store, principal, clearance.ReapplyInput{
		FormID:       req.FormID,
		Department:   req.Department,
		Message:      req.Message,
		EditedFields: req.EditedFields,
	}, s.cfg.MaxReapplications)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	metrics.Reapplications.Inc()
	s.logger.WithField("form_id", res.Form.ID).WithField("reapplication_number", res.Reapplication.ReapplicationNumber).Info("form reapplied")

	departments := s.departmentsByName(r.Context(), res.ResetDepartments)
	s.notifyDepartments(r.Context(), departments, func(to []string) notify.Message {
		return notify.Reapplication(to, res.Form.StudentName, res.Form.RegistrationNo,
			res.Reapplication.ReapplicationNumber, res.Reapplication.StudentMessage, res.Form.ID, s.cfg.AppURL)
	})

	writeJSON(w, http.StatusOK, reapplyResponse{
		ReapplicationNumber: res.Reapplication.ReapplicationNumber,
		ResetDepartments:    res.ResetDepartments,
		Form:                mapForm(res.Form),
	})
}

func (s *Server) handleListReapplications(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	history, err := clearance.ListReapplications(r.Context(), s.store, principal, r.URL.Query().Get("form_id"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := make([]reapplicationResponse, 0, len(history))
	for _, h := range history {
		resp = append(resp, mapReapplication(h))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Notifications

// notifyDepartments mails the staff of each department. Lookup failures are logged and skipped.
func (s *Server) notifyDepartments(ctx context.Context, departments []db.Department, build func(to []string) notify.Message) {
	for _, d := range departments {
		to, err := s.store.Queries.ListStaffEmails(ctx, d.ID, false)
		if err != nil {
			s.logger.WithError(err).WithField("department", d.Name).Warn("list staff emails")
			continue
		}
		if d.Email != nil && *d.Email != "" {
			to = append(to, *d.Email)
		}
		s.dispatcher.Dispatch(build(to))
	}
}

func (s *Server) departmentsByName(ctx context.Context, names []string) []db.Department {
	out := make([]db.Department, 0, len(names))
	for _, name := range names {
		d, err := s.store.Queries.GetDepartmentByName(ctx, name)
		if err != nil {
			s.logger.WithError(err).WithField("department", name).Warn("load department")
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Server) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	catalog, err := clearance.LoadCatalog(r.Context(), s.store.Queries)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapCatalog(catalog))
}

func (s *Server) handleCanEdit(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	e, err := clearance.EditEligibilityFor(r.Context(), s.store, principal, r.URL.Query().Get("form_id"), s.cfg.MaxReapplications)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	resp := editEligibilityResponse{
		CanEdit:             e.CanEdit,
		CanReapply:          e.CanReapply,
		Reason:              e.Reason,
		FormStatus:          string(e.FormStatus),
		ReapplicationCount:  e.ReapplicationCount,
		ReapplicationLimit:  e.ReapplicationLimit,
		RejectedDepartments: e.RejectedDepartments,
		EditableFields:      []string{},
	}
	if resp.RejectedDepartments == nil {
		resp.RejectedDepartments = []string{}
	}
	if e.CanEdit || e.CanReapply {
		resp.EditableFields = clearance.EditableFields()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := clearance.EditForm(r.Context(), s.store, principal, clearance.EditInput{
		FormID:       req.FormID,
		EditedFields: req.EditedFields,
	}, s.cfg.MaxReapplications)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	s.logger.WithField("form_id", res.Form.ID).WithField("fields", res.UpdatedFields).Info("form edited")
	writeJSON(w, http.StatusOK, editResponse{Form: mapForm(res.Form), UpdatedFields: res.UpdatedFields})
}

func (s *Server) handleStudentCertificate(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	form, err := clearance.CertificateFor(r.Context(), s.store, principal, r.URL.Query().Get("form_id"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, studentCertificateResponse{
		FormID:              form.ID,
		RegistrationNo:      form.RegistrationNo,
		StudentName:         form.StudentName,
		CertificateURL:      *form.CertificateURL,
		TransactionID:       form.BlockchainTx,
		BlockchainHash:      form.BlockchainHash,
		BlockchainTimestamp: form.BlockchainTimestamp,
	})
}
