package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/certificate"
	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/config"
	"nodues/clearance/internal/db"
	"nodues/clearance/internal/logging"
	"nodues/clearance/internal/metrics"
	"nodues/clearance/internal/notify"
	"nodues/clearance/internal/ratelimit"
)

const (
	codeInvalidRequest = "invalid_request"
	codeMissingToken   = "missing_token"
	codeInvalidToken   = "invalid_token"
	codeInvalidCode    = "invalid_code"
	codeRateLimited    = "rate_limited"
	codeOTPUnavailable = "otp_unavailable"

	filesPrefix = "/files"
)

type Server struct {
	cfg          config.Config
	store        *db.Store
	authorizer   authz.Authorizer
	otp          *auth.OTPStore
	certificates *certificate.Service
	dispatcher   *notify.Dispatcher
	limiter      *ratelimit.Limiter
	logger       logrus.FieldLogger
}

func NewServer(cfg config.Config, store *db.Store, otp *auth.OTPStore, certificates *certificate.Service, dispatcher *notify.Dispatcher, limiter *ratelimit.Limiter, logger logrus.FieldLogger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret required")
	}
	if store == nil {
		return nil, errors.New("store required")
	}
	return &Server{
		cfg:          cfg,
		store:        store,
		authorizer:   authz.NewProfileAuthorizer(store.Queries),
		otp:          otp,
		certificates: certificates,
		dispatcher:   dispatcher,
		limiter:      limiter,
		logger:       logger,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, logging.RequestLogger(s.logger), middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.cfg.StorageDriver == "local" && s.cfg.StorageDir != "" {
		r.Handle(filesPrefix+"/*", http.StripPrefix(filesPrefix, http.FileServer(http.Dir(s.cfg.StorageDir))))
	}

	submitLimit := s.limiter.Middleware("submit", 5, 10*time.Minute)
	lookupLimit := s.limiter.Middleware("lookup", 60, time.Minute)
	otpLimit := s.limiter.Middleware("otp", 5, 15*time.Minute)
	verifyLimit := s.limiter.Middleware("verify", 30, time.Minute)

	r.With(lookupLimit).Get("/public/config", s.handlePublicConfig)

	r.With(submitLimit).Post("/student", s.handleSubmit)
	r.With(lookupLimit).Get("/student/lookup", s.handleLookup)
	r.With(lookupLimit).Get("/student/status", s.handleCheckStatus)
	r.With(otpLimit).Post("/student/otp", s.handleRequestOTP)
	r.With(otpLimit).Post("/student/otp/verify", s.handleVerifyOTP)
	r.With(s.authMiddleware, s.requireStudent).Post("/student/reapply", s.handleReapply)
	r.With(s.authMiddleware, s.requireStudent).Post("/student/reapply/department", s.handleReapplyDepartment)
	r.With(s.authMiddleware).Get("/student/reapply", s.handleListReapplications)
	r.With(s.authMiddleware).Get("/student/can-edit", s.handleCanEdit)
	r.With(s.authMiddleware, s.requireStudent).Post("/student/edit", s.handleEdit)
	r.With(s.authMiddleware).Get("/student/certificate", s.handleStudentCertificate)

	r.With(s.authMiddleware, s.requireStaff, s.userLimit("staff_action", 30, time.Minute)).Post("/staff/action", s.handleAction)
	r.With(s.authMiddleware, s.requireStaff, s.userLimit("staff_bulk_action", 5, time.Minute)).Post("/staff/bulk-action", s.handleBulkAction)
	r.With(s.authMiddleware, s.requireStaff).Get("/staff/forms", s.handleDepartmentForms)
	r.With(s.authMiddleware, s.requireStaff).Get("/staff/history", s.handleActionHistory)
	r.With(s.authMiddleware, s.requireStaff).Get("/staff/stats", s.handleDepartmentStats)
	r.With(s.authMiddleware, s.requireStaff).Get("/staff/active-chats", s.handleActiveChats)
	r.With(s.authMiddleware, s.requireStaff).Get("/staff/student/{formId}", s.handleStaffFormDetail)

	r.With(s.authMiddleware).Get("/certificate/generate", s.handleCertificateEligibility)
	r.With(s.authMiddleware, s.requireStaff).Post("/certificate/generate", s.handleGenerateCertificate)
	r.With(verifyLimit).Post("/certificate/verify", s.handleVerifyCertificate)

	r.With(s.authMiddleware).Post("/chat/mark-read", s.handleMarkRead)
	r.With(s.authMiddleware).Get("/chat/{formId}/{department}", s.handleGetThread)
	r.With(s.authMiddleware, s.userLimit("chat", 30, time.Minute)).Post("/chat/{formId}/{department}", s.handleSendMessage)

	r.With(s.authMiddleware, s.requireAdmin).Post("/admin/certificate/bulk-generate", s.handleBulkGenerate)
	r.With(s.authMiddleware, s.requireAdmin).Post("/admin/repair-statuses", s.handleRepairStatuses)
	r.With(s.authMiddleware, s.requireAdmin).Get("/admin/stats", s.handleAdminStats)
	r.With(s.authMiddleware, s.requireAdmin).Get("/admin/dashboard", s.handleAdminDashboard)
	r.With(s.authMiddleware, s.requireAdmin).Get("/admin/reports", s.handleAdminReports)

	return r
}

// Auth

type principalKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeMissingToken)
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeInvalidToken)
			return
		}
		principal, err := s.authorizer.Resolve(r.Context(), claims)
		if err != nil {
			switch {
			case errors.Is(err, authz.ErrForbidden):
				writeError(w, http.StatusForbidden, clearance.ErrForbidden)
			case errors.Is(err, authz.ErrUnauthenticated):
				writeError(w, http.StatusUnauthorized, codeInvalidToken)
			default:
				s.writeOpError(w, r, err)
			}
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return requirePrincipal(next, authz.Principal.IsStaff)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return requirePrincipal(next, authz.Principal.IsAdmin)
}

func (s *Server) requireStudent(next http.Handler) http.Handler {
	return requirePrincipal(next, authz.Principal.IsStudent)
}

func requirePrincipal(next http.Handler, allowed func(authz.Principal) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok || !allowed(principal) {
			writeError(w, http.StatusForbidden, clearance.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromContext(ctx context.Context) (authz.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(authz.Principal)
	return principal, ok
}

// userLimit rate limits authenticated routes by caller instead of client IP.
func (s *Server) userLimit(bucket string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := principalFromContext(r.Context())
			key := principal.UserID
			if key == "" {
				key = principal.RegistrationNo
			}
			if !s.limiter.Allow(r.Context(), bucket+":"+key, limit, window) {
				metrics.RateLimited.WithLabelValues(bucket).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				writeError(w, http.StatusTooManyRequests, codeRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Errors

type errorResponse struct {
	Error   string                 `json:"error"`
	Fields  map[string]string      `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func statusForCode(code string) int {
	switch code {
	case clearance.ErrValidationFailed, codeInvalidRequest, clearance.ErrAlreadyActioned:
		return http.StatusBadRequest
	case codeMissingToken, codeInvalidToken, codeInvalidCode:
		return http.StatusUnauthorized
	case clearance.ErrForbidden, clearance.ErrDepartmentForbidden, clearance.ErrFormCompleted,
		clearance.ErrProtectedField, clearance.ErrReapplicationLimit:
		return http.StatusForbidden
	case clearance.ErrDuplicateRegistration, clearance.ErrNoRejectedDepartments, clearance.ErrDepartmentNotRejected,
		clearance.ErrNotEligible, clearance.ErrGenerationInProgress, clearance.ErrFormNotEditable:
		return http.StatusConflict
	case clearance.ErrNoDepartmentsConfigured:
		return http.StatusUnprocessableEntity
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeOTPUnavailable:
		return http.StatusServiceUnavailable
	}
	if strings.HasSuffix(code, "_not_found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeOpError renders an operation error. Causes of server errors are logged, never returned.
func (s *Server) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	opErr, ok := clearance.AsError(err)
	if !ok {
		opErr = &clearance.Error{Code: clearance.ErrServerError, Err: err}
	}
	status := statusForCode(opErr.Code)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
		writeError(w, status, clearance.ErrServerError)
		return
	}
	writeJSON(w, status, errorResponse{Error: opErr.Code, Fields: opErr.Fields, Details: opErr.Details})
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func parseLimit(r *http.Request, fallback int32) int32 {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxListLimit {
				return maxListLimit
			}
			return int32(parsed)
		}
	}
	return fallback
}
