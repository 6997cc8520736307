package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/admin"
	"github.com/DanielSantin/site-barbearia-sub000/internal/alert"
	"github.com/DanielSantin/site-barbearia-sub000/internal/api"
	"github.com/DanielSantin/site-barbearia-sub000/internal/audit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/config"
	"github.com/DanielSantin/site-barbearia-sub000/internal/jobs"
	"github.com/DanielSantin/site-barbearia-sub000/internal/metrics"
	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/policy"
	"github.com/DanielSantin/site-barbearia-sub000/internal/ratelimit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/reservation"
	"github.com/DanielSantin/site-barbearia-sub000/internal/slots"
	"github.com/DanielSantin/site-barbearia-sub000/internal/storage/memory"
	"github.com/DanielSantin/site-barbearia-sub000/internal/storage/sqlite"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// store is everything the engine needs from persistence.
type store interface {
	slots.Store
	policy.StrikeStore
	policy.ReservationCounter
	audit.Store
	reservation.Store
	PingContext(ctx context.Context) error
	Close() error
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("set auth.jwt_secret in config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid time zone")
	}
	rules, err := cfg.Rules()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid schedule")
	}

	var (
		st     store
		sqlDB  *sqlite.DB
		backup *sqlite.BackupService
	)
	switch cfg.Storage.Driver {
	case "memory":
		st = memory.NewStore(loc)
		logger.Warn().Msg("Using in-memory storage; state is lost on restart")
	case "sqlite":
		sqlDB, err = sqlite.NewDB(cfg.Storage.Path, loc, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		st = sqlDB
		backup = sqlite.NewBackupService(sqlDB, sqlite.BackupConfig{
			Dir:           cfg.Backup.Path,
			RetentionDays: cfg.Backup.RetentionDays,
		}, logger)
	default:
		logger.Fatal().Str("driver", cfg.Storage.Driver).Msg("unknown storage driver")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	notifier := alert.Multi{alert.NewLogNotifier(logger)}
	if tg := cfg.Alerts.Telegram; tg.BotToken != "" {
		n, err := alert.NewTelegramNotifier(tg.BotToken, tg.ChatIDs)
		if err != nil {
			logger.Error().Err(err).Msg("Telegram alerts disabled")
		} else {
			notifier = append(notifier, n)
		}
	}

	clock := model.SystemClock{}
	auditLog := audit.NewLogger(st, notifier, audit.Config{
		QueueSize:       cfg.Audit.QueueSize,
		WriteTimeout:    cfg.AuditWriteTimeout(),
		EscalateAfter:   cfg.Audit.EscalateAfter,
		DefaultPageSize: cfg.Audit.DefaultPageSize,
		MaxPageSize:     cfg.Audit.MaxPageSize,
	}, clock, logger)
	auditLog.Start()
	defer auditLog.Stop()

	inventory := slots.NewInventory(st, rules, loc, clock, logger)
	engine := policy.NewEngine(st, policy.Config{
		Windows:    policy.Windows{TooSoon: cfg.TooSoonWindow(), Late: cfg.LateWindow()},
		MaxStrikes: cfg.MaxStrikes(),
	}, logger)
	limiter := policy.NewBookingLimiter(st, cfg.MaxActivePerUser())
	coordinator := reservation.NewCoordinator(inventory, limiter, engine, policy.TrustClientFee{}, auditLog, st, reservation.Config{
		MinLead:          cfg.MinLead(),
		MaxAdvanceMonths: cfg.MaxAdvanceMonths(),
		Services:         cfg.Booking.Services,
		ComboFirst:       cfg.Booking.ComboFirst,
		ComboSecond:      cfg.Booking.ComboSecond,
		Rollback: reservation.RetryConfig{
			MaxAttempts: cfg.RollbackAttempts(),
			Delays:      cfg.RollbackBackoff(),
		},
	}, logger)
	adminSvc := admin.NewService(inventory, engine, auditLog, logger)

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	requestLimiter := newRequestLimiter(ctx, cfg, rdb, logger)

	scheduler := jobs.NewScheduler(loc, logger)
	if retention := cfg.AuditRetention(); retention > 0 {
		if err := scheduler.Add(jobs.AuditRetentionJob, cfg.Audit.RetentionSchedule, 10*time.Minute, jobs.AuditRetention(auditLog, retention)); err != nil {
			logger.Fatal().Err(err).Msg("schedule audit retention")
		}
	}
	if backup != nil && cfg.Backup.Enabled {
		if err := scheduler.Add(jobs.BackupJob, cfg.Backup.Schedule, 30*time.Minute, jobs.Backup(backup)); err != nil {
			logger.Fatal().Err(err).Msg("schedule backup")
		}
	}
	scheduler.Start()

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, st, rdb, &logger)
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewServer(api.Deps{
		Days:         inventory,
		Reservations: coordinator,
		Admin:        adminSvc,
		Audit:        auditLog,
		Auth:         api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Limiter:      requestLimiter,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("address", cfg.Server.Address).Str("storage", cfg.Storage.Driver).Msg("Barbearia API started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server error")
	}

	ctxStop, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(ctxStop)
	logger.Info().Msg("Barbearia API stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Logging.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// newRequestLimiter prefers the Redis window shared by all instances and
// falls back to a per-process token bucket while Redis is unreachable.
func newRequestLimiter(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return ratelimit.Nop{}
	}
	requests := cfg.RateLimit.Requests
	if requests <= 0 {
		requests = 60
	}
	local := ratelimit.NewMemoryLimiter(requests, cfg.RateLimitWindow())
	local.StartJanitor(ctx)
	if rdb == nil {
		return local
	}
	shared := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Prefix, requests, cfg.RateLimitWindow())
	return ratelimit.NewFailoverLimiter(shared, local, logger)
}

func startHealthServer(ctx context.Context, port int, st store, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := st.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
