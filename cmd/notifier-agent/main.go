// cmd/notifier-agent/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-notifier/internal/common/config"
	"civic-notifier/internal/common/database"
	apperrors "civic-notifier/internal/common/errors"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/observability"
	"civic-notifier/internal/models"
	"civic-notifier/internal/pipeline/presentation"
	"civic-notifier/internal/pipeline/session"
	tokenstore "civic-notifier/internal/session"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retryWithBackoff retries fn with exponential backoff up to maxRetries times.
func retryWithBackoff(ctx context.Context, fn func() error, maxRetries uint64, initial time.Duration, zapLog *zap.Logger, operationName string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx), func(err error, next time.Duration) {
		zapLog.Warn(operationName+" failed, retrying...",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("nextRetryIn", next),
		)
	})
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	configPath := flag.String("config", "", "Path to a config file (default: ./configs/config.yaml)")
	userID := flag.String("user", "", "User to log in as (default: session.user_id)")
	lang := flag.String("lang", "", "Display language (default: presentation.language)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.Open(cfg.Logging)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notifier agent...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.Bool("push", cfg.Push.Enabled),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel metrics exporter unavailable", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *database.RedisClient
	if cfg.Redis.Address != "" {
		rdb = database.NewRedis(cfg.Redis)
		err = retryWithBackoff(ctx, func() error { return rdb.Ping(ctx) }, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}

	store, err := tokenstore.FromConfig(cfg.Session, rdb)
	if err != nil {
		zapLog.Fatal("token store init failed", zap.Error(err))
	}

	manager, err := session.NewManager(session.Deps{
		Config: cfg,
		Store:  store,
		Sink:   presentation.NewLogSink(log),
		Log:    log,
		Obs:    obs,
	})
	if err != nil {
		zapLog.Fatal("session manager init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           newServer(manager, log).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.Metrics.Enabled {
		go func() {
			zapLog.Info("Health/Metrics server listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	id := models.Identity{UserID: *userID, Language: *lang}
	if id.UserID == "" {
		id.UserID = cfg.Session.UserID
	}

	s, err := manager.Login(ctx, id)
	switch {
	case err == nil:
		go watch(ctx, s, zapLog)
	case apperrors.IsPrecondition(err):
		zapLog.Warn("No active session, agent stays logged out", zap.String("userId", id.UserID), zap.Error(err))
	default:
		zapLog.Fatal("login failed", zap.Error(err))
	}

	<-ctx.Done()
	zapLog.Info("Shutdown signal received, closing session...")

	manager.Logout()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("http shutdown", zap.Error(err))
	}
	zapLog.Info("Notifier agent stopped")
}

// watch logs inbox and channel transitions for the session until ctx ends.
func watch(ctx context.Context, s *session.Session, zapLog *zap.Logger) {
	changes := s.ConnectionChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.Updates():
			fields := []zap.Field{
				zap.Int("count", len(snap.Notifications)),
				zap.Int("unread", snap.UnreadCount),
				zap.Bool("loading", snap.IsLoading),
			}
			if snap.Err != nil {
				fields = append(fields, zap.Error(snap.Err))
			}
			zapLog.Debug("Inbox updated", fields...)
		case connected := <-changes:
			zapLog.Info("Push channel", zap.Bool("connected", connected))
		}
	}
}
