package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nodues/clearance/internal/clearance"
	"nodues/clearance/internal/db"
	"nodues/clearance/internal/metrics"
	"nodues/clearance/internal/notify"
)

const (
	bulkConcurrency  = 5
	MaxBulkGenerate  = 100
	releaseTimeout   = 5 * time.Second
	defaultStaleness = 5 * time.Minute
)

var errClaimLost = errors.New("certificate generation claim lost")

type Options struct {
	AppURL     string
	StaleAfter time.Duration
}

// Service issues and verifies no dues certificates.
type Service struct {
	store      *db.Store
	storage    Storage
	dispatcher *notify.Dispatcher
	logger     logrus.FieldLogger
	appURL     string
	staleAfter time.Duration
	now        func() time.Time
}

func NewService(store *db.Store, storage Storage, dispatcher *notify.Dispatcher, logger logrus.FieldLogger, opts Options) *Service {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleness
	}
	return &Service{
		store:      store,
		storage:    storage,
		dispatcher: dispatcher,
		logger:     logger,
		appURL:     strings.TrimRight(opts.AppURL, "/"),
		staleAfter: opts.StaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	FormID           string          `json:"form_id"`
	CertificateURL   string          `json:"certificate_url"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	AlreadyGenerated bool            `json:"already_generated"`
	Stats            clearance.Stats `json:"stats"`
}

func internalError(err error) error {
	if _, ok := clearance.AsError(err); ok {
		return err
	}
	return &clearance.Error{Code: clearance.ErrServerError, Err: err}
}

func alreadyGenerated(form db.Form, stats clearance.Stats) Result {
	res := Result{FormID: form.ID, CertificateURL: *form.CertificateURL, AlreadyGenerated: true, Stats: stats}
	if form.BlockchainTx != nil {
		res.TransactionID = *form.BlockchainTx
	}
	return res
}

// Generate issues the certificate for a fully cleared form. Concurrent callers race on the
// certificate_generating claim; exactly one renders, the others see the stored URL or
// generation_in_progress.
func (s *Service) Generate(ctx context.Context, formID string) (Result, error) {
	if _, err := uuid.Parse(formID); err != nil {
		return Result{}, &clearance.Error{Code: clearance.ErrValidationFailed, Fields: map[string]string{"form_id": "uuid"}}
	}
	eval, err := clearance.Evaluate(ctx, s.store.Queries, formID)
	if err != nil {
		return Result{}, err
	}
	form := eval.Form
	if form.CertificateURL != nil {
		return alreadyGenerated(form, eval.Stats), nil
	}
	if !eval.Stats.CanGenerate {
		return Result{}, &clearance.Error{Code: clearance.ErrNotEligible, Details: map[string]interface{}{"stats": eval.Stats}}
	}

	log := s.logger.WithField("form_id", form.ID)
	claimed, err := s.store.Queries.ClaimCertificateGeneration(ctx, form.ID, s.now().Add(-s.staleAfter))
	if err != nil {
		return Result{}, internalError(fmt.Errorf("claim certificate generation: %w", err))
	}
	if !claimed {
		return s.afterLostRace(ctx, form.ID, eval.Stats)
	}

	started := time.Now()
	res, err := s.issue(ctx, form, eval)
	if err != nil {
		if errors.Is(err, errClaimLost) {
			metrics.CertificateGenerations.WithLabelValues("lost_claim").Inc()
			return s.afterLostRace(ctx, form.ID, eval.Stats)
		}
		s.release(ctx, form.ID, err)
		metrics.CertificateGenerations.WithLabelValues("failure").Inc()
		log.WithError(err).Error("certificate generation failed")
		return Result{}, internalError(err)
	}
	metrics.CertificateGenerations.WithLabelValues("success").Inc()
	metrics.CertificateGenerationSeconds.Observe(time.Since(started).Seconds())
	log.WithField("transaction_id", res.TransactionID).Info("certificate issued")

	s.dispatcher.Dispatch(notify.CertificateReady(
		[]string{form.PersonalEmail, form.CollegeEmail}, form.StudentName, form.RegistrationNo, res.CertificateURL,
	))
	return res, nil
}

func (s *Service) issue(ctx context.Context, form db.Form, eval clearance.Evaluation) (Result, error) {
	rec, err := NewRecord(form, eval.Statuses, s.now())
	if err != nil {
		return Result{}, err
	}
	pdf, err := Render(form, eval.Statuses, NewQRPayload(form, rec, s.appURL))
	if err != nil {
		return Result{}, err
	}
	url, err := s.storage.Put(ctx, ObjectKey(form), pdf)
	if err != nil {
		return Result{}, err
	}

	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		ok, err := q.FinalizeCertificate(ctx, db.FinalizeCertificateParams{
			ID:                  form.ID,
			CertificateURL:      url,
			BlockchainHash:      rec.Hash,
			BlockchainTx:        rec.TransactionID,
			BlockchainBlock:     rec.Block,
			BlockchainTimestamp: rec.IssuedAt,
		})
		if err != nil {
			return fmt.Errorf("finalize certificate: %w", err)
		}
		if !ok {
			return errClaimLost
		}
		return q.CreateGenerationLog(ctx, form.ID, "success", rec.TransactionID)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{FormID: form.ID, CertificateURL: url, TransactionID: rec.TransactionID, Stats: eval.Stats}, nil
}

func (s *Service) afterLostRace(ctx context.Context, formID string, stats clearance.Stats) (Result, error) {
	form, err := s.store.Queries.GetForm(ctx, formID)
	if err != nil {
		return Result{}, internalError(fmt.Errorf("reload form: %w", err))
	}
	if form.CertificateURL != nil {
		return alreadyGenerated(form, stats), nil
	}
	return Result{}, &clearance.Error{Code: clearance.ErrGenerationInProgress}
}

// release gives the claim back and records the failure. It runs even when ctx is already done.
func (s *Service) release(ctx context.Context, formID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	log := s.logger.WithField("form_id", formID)
	if err := s.store.Queries.ReleaseCertificateGeneration(ctx, formID); err != nil {
		log.WithError(err).Error("release certificate claim")
	}
	if err := s.store.Queries.CreateGenerationLog(ctx, formID, "failure", cause.Error()); err != nil {
		log.WithError(err).Warn("record certificate failure")
	}
}

type BulkSuccess struct {
	FormID         string `json:"form_id"`
	CertificateURL string `json:"certificate_url"`
}

type BulkFailure struct {
	FormID string `json:"form_id"`
	Error  string `json:"error"`
}

type BulkResult struct {
	Succeeded []BulkSuccess `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkGenerate runs Generate for each id with bounded parallelism. Per-form failures are
// collected rather than aborting the batch.
func (s *Service) BulkGenerate(ctx context.Context, formIDs []string) (BulkResult, error) {
	result := BulkResult{Succeeded: []BulkSuccess{}, Failed: []BulkFailure{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, id := range formIDs {
		id := id
		g.Go(func() error {
			res, err := s.Generate(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				code := clearance.ErrServerError
				if opErr, ok := clearance.AsError(err); ok {
					code = opErr.Code
				}
				result.Failed = append(result.Failed, BulkFailure{FormID: id, Error: code})
				return nil
			}
			result.Succeeded = append(result.Succeeded, BulkSuccess{FormID: id, CertificateURL: res.CertificateURL})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, internalError(err)
	}
	if err := ctx.Err(); err != nil {
		return result, internalError(err)
	}
	return result, nil
}

// ProcessReady generates certificates for forms that were fully approved but never issued, for
// example because the asynchronous trigger died with the process.
func (s *Service) ProcessReady(ctx context.Context, limit int32) (int, error) {
	forms, err := s.store.Queries.ListFormsReadyForCertificate(ctx, s.now().Add(-s.staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list forms ready for certificate: %w", err)
	}
	issued := 0
	for _, form := range forms {
		if ctx.Err() != nil {
			return issued, ctx.Err()
		}
		res, err := s.Generate(ctx, form.ID)
		if err != nil {
			s.logger.WithError(err).WithField("form_id", form.ID).Warn("backfill certificate generation failed")
			continue
		}
		if !res.AlreadyGenerated {
			issued++
		}
	}
	return issued, nil
}

type VerifyResult struct {
	Valid             bool                 `json:"valid"`
	Reason            string               `json:"reason,omitempty"`
	VerificationCount int64                `json:"verification_count"`
	Certificate       *VerifiedCertificate `json:"certificate,omitempty"`
}

type VerifiedCertificate struct {
	TransactionID  string    `json:"transaction_id"`
	Hash           string    `json:"hash"`
	Block          int64     `json:"block"`
	IssuedAt       time.Time `json:"issued_at"`
	StudentName    string    `json:"student_name"`
	RegistrationNo string    `json:"registration_no"`
	Course         string    `json:"course"`
	Branch         string    `json:"branch"`
	CertificateURL string    `json:"certificate_url"`
}

// ParseQR decodes the QR payload a verifier posts back.
func ParseQR(raw string) (QRPayload, error) {
	var payload QRPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return QRPayload{}, &clearance.Error{Code: clearance.ErrValidationFailed, Fields: map[string]string{"qr_data": "json"}}
	}
	if payload.TxID == "" || payload.Hash == "" {
		return QRPayload{}, &clearance.Error{Code: clearance.ErrValidationFailed, Fields: map[string]string{"qr_data": "required"}}
	}
	return payload, nil
}

// Verify checks a scanned QR payload against the stored record and the hash recomputed from the
// current form data. Every attempt is recorded.
func (s *Service) Verify(ctx context.Context, raw, remoteIP string) (VerifyResult, error) {
	payload, err := ParseQR(raw)
	if err != nil {
		return VerifyResult{}, err
	}

	form, err := s.store.Queries.GetFormByTransactionID(ctx, payload.TxID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return VerifyResult{}, internalError(fmt.Errorf("load certificate: %w", err))
		}
		count, err := s.store.Queries.CreateVerification(ctx, nil, payload.TxID, "not_found", remoteIP)
		if err != nil {
			return VerifyResult{}, internalError(fmt.Errorf("record verification: %w", err))
		}
		metrics.CertificateVerifications.WithLabelValues("not_found").Inc()
		return VerifyResult{Valid: false, Reason: "certificate not found", VerificationCount: count}, nil
	}
	statuses, err := s.store.Queries.ListStatusesByForm(ctx, form.ID)
	if err != nil {
		return VerifyResult{}, internalError(fmt.Errorf("load statuses: %w", err))
	}

	reason := checkRecord(form, statuses, payload)
	outcome := "valid"
	if reason != "" {
		outcome = "invalid"
	}
	count, err := s.store.Queries.CreateVerification(ctx, &form.ID, payload.TxID, outcome, remoteIP)
	if err != nil {
		return VerifyResult{}, internalError(fmt.Errorf("record verification: %w", err))
	}
	metrics.CertificateVerifications.WithLabelValues(outcome).Inc()

	res := VerifyResult{Valid: reason == "", Reason: reason, VerificationCount: count}
	if res.Valid {
		res.Certificate = &VerifiedCertificate{
			TransactionID:  *form.BlockchainTx,
			Hash:           *form.BlockchainHash,
			IssuedAt:       *form.BlockchainTimestamp,
			StudentName:    form.StudentName,
			RegistrationNo: form.RegistrationNo,
			Course:         form.Course,
			Branch:         form.Branch,
			CertificateURL: *form.CertificateURL,
		}
		if form.BlockchainBlock != nil {
			res.Certificate.Block = *form.BlockchainBlock
		}
	}
	return res, nil
}

// checkRecord returns an empty string when the payload matches, otherwise the first mismatch.
func checkRecord(form db.Form, statuses []db.DepartmentStatus, payload QRPayload) string {
	if form.BlockchainTx == nil || form.BlockchainHash == nil || form.BlockchainTimestamp == nil || form.CertificateURL == nil {
		return "certificate not issued"
	}
	if payload.TxID != *form.BlockchainTx {
		return "transaction id mismatch"
	}
	if payload.Hash != *form.BlockchainHash {
		return "certificate hash mismatch"
	}
	if payload.RegNo != "" && !strings.EqualFold(payload.RegNo, form.RegistrationNo) {
		return "student details mismatch"
	}
	if payload.StudentID != "" && payload.StudentID != form.ID {
		return "student details mismatch"
	}
	current, err := Hash(form, statuses, *form.BlockchainTimestamp)
	if err != nil || current != *form.BlockchainHash {
		return "certificate data modified after issue"
	}
	return ""
}
