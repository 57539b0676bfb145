package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"nodues/clearance/internal/certificate"
	"nodues/clearance/internal/clearance"
)

func (s *Server) handleCertificateEligibility(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	formID := strings.TrimSpace(r.URL.Query().Get("form_id"))
	if _, err := uuid.Parse(formID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  clearance.ErrValidationFailed,
			Fields: map[string]string{"form_id": "uuid"},
		})
		return
	}
	eval, err := clearance.Evaluate(r.Context(), s.store.Queries, formID)
	if err != nil {
		s.writeOpError(w, r, clearance.MaskMissingForm(principal, err))
		return
	}
	if !principal.IsStaff() && !principal.OwnsRegistration(eval.Form.RegistrationNo) {
		writeError(w, http.StatusForbidden, clearance.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{
		CanGenerate:    eval.Stats.CanGenerate,
		Stats:          eval.Stats,
		CertificateURL: eval.Form.CertificateURL,
	})
}

func (s *Server) handleGenerateCertificate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := s.certificates.Generate(r.Context(), strings.TrimSpace(req.FormID))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	res, err := s.certificates.Verify(r.Context(), req.QRData, s.limiter.ClientIP(r))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req bulkGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	switch {
	case len(req.FormIDs) == 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: clearance.ErrValidationFailed, Fields: map[string]string{"form_ids": "required"}})
		return
	case len(req.FormIDs) > certificate.MaxBulkGenerate:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: clearance.ErrValidationFailed, Fields: map[string]string{"form_ids": "max"}})
		return
	}
	res, err := s.certificates.BulkGenerate(r.Context(), req.FormIDs)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	s.logger.WithField("succeeded", len(res.Succeeded)).WithField("failed", len(res.Failed)).Info("bulk certificate generation finished")
	writeJSON(w, http.StatusOK, res)
}
