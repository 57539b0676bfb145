package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/metrics"
)

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	thread, err := clearance.GetThread(r.Context(), s.store, principal, chi.URLParam(r, "formId"), chi.URLParam(r, "department"))
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	messages := make([]messageResponse, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		messages = append(messages, mapMessage(m))
	}
	writeJSON(w, http.StatusOK, threadResponse{
		Form: threadFormResponse{
			ID:             thread.Form.ID,
			RegistrationNo: thread.Form.RegistrationNo,
			StudentName:    thread.Form.StudentName,
			Status:         string(thread.Form.Status),
		},
		Status:          string(thread.Status.Status),
		RejectionReason: thread.Status.RejectionReason,
		Messages:        messages,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	msg, err := clearance.SendMessage(r.Context(), s.store, principal, chi.URLParam(r, "formId"), chi.URLParam(r, "department"), req.Message)
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	metrics.ChatMessages.WithLabelValues(string(msg.SenderType)).Inc()
	writeJSON(w, http.StatusCreated, mapMessage(msg))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	marked, err := clearance.MarkRead(r.Context(), s.store, principal, clearance.MarkReadInput{
		FormID:     req.FormID,
		Department: req.Department,
		ReaderType: req.ReaderType,
	})
	if err != nil {
		s.writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{MarkedRead: marked})
}
