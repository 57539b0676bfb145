package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/certificate"
	"nodues/clearance/internal/config"
	"nodues/clearance/internal/db"
	appgrpc "nodues/clearance/internal/grpc"
	internalhttp "nodues/clearance/internal/http"
	"nodues/clearance/internal/jobs"
	"nodues/clearance/internal/logging"
	"nodues/clearance/internal/notify"
	"nodues/clearance/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.WithError(err).Fatal("db connection failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.WithError(err).Fatal("db migration failed")
	}
	store := db.NewStore(pool)

	var redisClient *redis.Client
	var scripter redis.Scripter
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.WithError(err).Fatal("redis ping failed")
		}
		cancel()
		scripter = redisClient
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("redis close error")
			}
		}()
	} else {
		logger.Warn("REDIS_ADDR not set: student OTP login and rate limiting are disabled")
	}

	storage, err := newStorage(cfg)
	if err != nil {
		logger.WithError(err).Fatal("certificate storage init failed")
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	dispatcher := notify.NewDispatcher(notifier, logger, 30*time.Second)

	certificates := certificate.NewService(store, storage, dispatcher, logger, certificate.Options{
		AppURL:     cfg.AppURL,
		StaleAfter: cfg.CertificateGenerationStale,
	})

	limiter := ratelimit.New(scripter, logger)
	if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		logger.WithError(err).Fatal("TRUSTED_PROXIES invalid")
	}

	server, err := internalhttp.NewServer(cfg, store, auth.NewOTPStore(redisClient, cfg.StudentOTPTTL), certificates, dispatcher, limiter, logger)
	if err != nil {
		logger.WithError(err).Fatal("server init failed")
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		grpcServer, err = appgrpc.NewServer(cfg.ServiceAuthToken, appgrpc.NewStoreReader(store), logger)
		if err != nil {
			logger.WithError(err).Fatal("grpc server init failed")
		}
	}

	jobs.StartCertificateJob(ctx, cfg, certificates, logger)

	var reminders *jobs.ReminderScheduler
	if cfg.ReminderCron != "" {
		reminders = jobs.NewReminderScheduler(cfg.ReminderCron, store.Queries, dispatcher, logger, cfg.AppURL)
		if err := reminders.Start(); err != nil {
			logger.WithError(err).Fatal("reminder scheduler init failed")
		}
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("clearance http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server error")
		}
	}()

	if grpcServer != nil {
		go serveGRPC(grpcServer, cfg.GRPCAddr, logger)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if reminders != nil {
		reminders.Stop()
	}
}

func serveGRPC(server *grpc.Server, addr string, logger logrus.FieldLogger) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.WithError(err).Fatal("grpc listen error")
	}
	logger.WithField("addr", addr).Info("clearance grpc listening")
	if err := server.Serve(listener); err != nil {
		logger.WithError(err).Fatal("grpc server error")
	}
}

func newStorage(cfg config.Config) (certificate.Storage, error) {
	switch cfg.StorageDriver {
	case "oss":
		return certificate.NewOSSStorage(certificate.OSSOptions{
			Endpoint:   cfg.OSSEndpoint,
			AccessKey:  cfg.OSSAccessKey,
			SecretKey:  cfg.OSSSecretKey,
			Bucket:     cfg.OSSBucket,
			PublicBase: cfg.StoragePublicURL,
		})
	case "local", "":
		return certificate.NewLocalStorage(cfg.StorageDir, localBaseURL(cfg))
	default:
		return nil, errors.New("unknown STORAGE_DRIVER " + cfg.StorageDriver)
	}
}

// localBaseURL points at the /files route of this server unless a public URL is configured.
func localBaseURL(cfg config.Config) string {
	if cfg.StoragePublicURL != "" {
		return cfg.StoragePublicURL
	}
	host := cfg.HTTPAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/files"
}
