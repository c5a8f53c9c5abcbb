// cmd/statuswatch/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"job-status-stream/internal/auth"
	"job-status-stream/internal/config"
	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
	"job-status-stream/internal/repository/postgresql"
	redisrepo "job-status-stream/internal/repository/redis"
	"job-status-stream/internal/service"
	"job-status-stream/internal/stream"
	"job-status-stream/internal/transport/backend"
	httptransport "job-status-stream/internal/transport/http"
	"job-status-stream/internal/transport/sse"
	"job-status-stream/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// @title statuswatch API
// @version 1.0
// @description Local bridge to live video job status streams.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		base := xlog.Base()
		base.Fatal().Err(err).Msg("config")
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "statuswatch"})
	logger := xlog.WithComponent("main")
	cfg.Log(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("statuswatch stopped with error")
	}
	logger.Info().Msg("statuswatch stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	tokens := auth.Static(cfg.APIToken)

	var (
		workerCache    worker.StatusCache
		workerJournal  worker.StatusJournal
		serviceCache   service.StatusCache
		serviceJournal service.StatusJournal
	)

	// Redis
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		cache := redisrepo.NewStatusCache(rdb, cfg.StatusCacheTTL)
		workerCache, serviceCache = cache, cache
	}

	// Postgres
	if cfg.PostgresDSN != "" {
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		journal := postgresql.NewStatusJournal(pool)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		workerJournal, serviceJournal = journal, journal
	}

	recorder := worker.NewPool(
		worker.NewProcessor(workerCache, workerJournal, xlog.WithComponent("recorder")),
		cfg.Recorder.Workers,
		cfg.Recorder.Buffer,
		xlog.WithComponent("recorder"),
	)

	var limiter *rate.Limiter
	if cfg.Stream.OpenRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Stream.OpenRatePerSec), max(1, int(cfg.Stream.OpenRatePerSec)))
	}

	st, err := stream.New(stream.Options{
		Transport: sse.NewClient(cfg.APIBaseURL, nil, xlog.WithComponent("sse")),
		Tokens:    tokens,
		Notifier:  backend.NewNotifier(cfg.APIBaseURL, nil, tokens),
		Policy: stream.ReconnectPolicy{
			BaseDelay: cfg.Stream.RetryBaseDelay,
			MaxDelay:  cfg.Stream.RetryMaxDelay,
		},
		MaxAttempts:        cfg.Stream.MaxAttempts,
		HealthInterval:     cfg.Stream.HealthInterval,
		VisibilityDebounce: cfg.Stream.VisibilityDebounce,
		BatchWindow:        cfg.Stream.BatchWindow,
		OpenLimiter:        limiter,
		Recorder:           recorder,
		Logger:             xlog.WithComponent("stream"),
	})
	if err != nil {
		return err
	}

	statusSvc := service.NewStatusService(st, serviceCache, serviceJournal)
	for _, id := range cfg.WatchJobs {
		if _, err := statusSvc.Subscribe(entity.JobID(id), watchObserver(logger, entity.JobID(id))); err != nil {
			logger.Warn().Err(err).Str(xlog.FieldJobID, id).Msg("watch failed")
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httptransport.Routes(httptransport.NewHandler(statusSvc), httptransport.RouteOptions{
			Logger:            xlog.WithComponent("http"),
			RequestsPerMinute: 600,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// the recorder outlives the stream so the last updates are still written
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.Run(gctx)
	})
	g.Go(func() error {
		recorder.Run(recorderCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := st.Shutdown(shutdownCtx)
		if err != nil {
			logger.Warn().Err(err).Msg("stream shutdown incomplete")
		}
		stopRecorder()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		return nil
	})

	return g.Wait()
}

func watchObserver(logger zerolog.Logger, jobID entity.JobID) stream.Observer {
	l := logger.With().Str(xlog.FieldJobID, string(jobID)).Logger()
	return stream.ObserverFuncs{
		Update: func(u entity.StatusUpdate) {
			l.Info().Str(xlog.FieldStatus, string(u.Status)).Str(xlog.FieldStep, string(u.ProcessingStep)).Msg(u.Text())
		},
		Error: func(err error) {
			l.Error().Err(err).Msg("watch ended")
		},
	}
}
