package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nodues/clearance/internal/config"
	"nodues/clearance/internal/metrics"
)

const certificateBatchSize = 50

type ReadyProcessor interface {
	ProcessReady(ctx context.Context, limit int32) (int, error)
}

// StartCertificateJob periodically issues certificates for fully approved forms that were missed
// by the asynchronous trigger.
func StartCertificateJob(ctx context.Context, cfg config.Config, processor ReadyProcessor, logger logrus.FieldLogger) {
	if !cfg.CertificateJobEnabled {
		return
	}
	if processor == nil {
		logger.Warn("certificate job disabled: no certificate service")
		return
	}
	interval := cfg.CertificateJobInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.CertificateJobTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCertificateBatch(ctx, processor, timeout, logger)
			}
		}
	}()
}

func runCertificateBatch(ctx context.Context, processor ReadyProcessor, timeout time.Duration, logger logrus.FieldLogger) int {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	issued, err := processor.ProcessReady(tickCtx, certificateBatchSize)
	if err != nil {
		metrics.JobRuns.WithLabelValues("certificates", "error").Inc()
		logger.WithError(err).Error("certificate job error")
		return issued
	}
	metrics.JobRuns.WithLabelValues("certificates", "ok").Inc()
	if issued > 0 {
		logger.WithField("issued", issued).Info("certificate job issued certificates")
	}
	return issued
}
