package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/triage-ai/palisade-rasp/internal/api"
	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/chread"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/engine/detectors"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
	"github.com/triage-ai/palisade-rasp/internal/observability"
	"github.com/triage-ai/palisade-rasp/internal/server"
	"github.com/triage-ai/palisade-rasp/internal/service"
	"github.com/triage-ai/palisade-rasp/internal/storage"
	"github.com/triage-ai/palisade-rasp/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("RASP_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("RASP_HTTP_PORT", "8080")
	grpcPort := envOrDefault("RASP_GRPC_PORT", "9090")
	matrixFile := os.Getenv("RASP_MATRIX_FILE")
	matrixPoll := time.Duration(envOrDefaultInt("RASP_MATRIX_POLL_S", 30)) * time.Second
	queryCacheSize := envOrDefaultInt("RASP_QUERY_CACHE_SIZE", engine.DefaultQueryCacheSize)
	cacheTTL := time.Duration(envOrDefaultInt("RASP_AUTH_CACHE_TTL_S", 30)) * time.Second
	defaultProject := os.Getenv("RASP_DEFAULT_PROJECT")
	defaultMode := envOrDefault("RASP_DEFAULT_MODE", auth.ModeEnforce)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	migrate := os.Getenv("RASP_MIGRATE") == "true"

	logger.Info("starting rasp server",
		zap.String("http_port", httpPort),
		zap.String("grpc_port", grpcPort),
		zap.String("matrix_file", matrixFile),
		zap.Int("query_cache_size", queryCacheSize),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Engine. Detectors are wired here to avoid an import cycle.
	queryCache := engine.NewQueryCache(queryCacheSize)
	metrics.WatchQueryCache(queryCache)
	eng := engine.New(engine.Options{
		Matrix:   engine.NewMatrixHolder(matrix.Default()),
		Cache:    queryCache,
		Logger:   logger,
		Observer: metrics,
	})
	detectors.Register(eng, queryCache)

	// Postgres (projects, stored matrices, auth)
	var pgStore *store.Store
	var pgDB *sql.DB
	if postgresDSN != "" {
		db, err := store.Open(ctx, postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		pgDB = db
		pgStore = store.NewStore(db)
		if migrate {
			if err := pgStore.Migrate(ctx); err != nil {
				logger.Fatal("failed to migrate postgres", zap.Error(err))
			}
			logger.Info("postgres schema migrated")
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, using static auth and no project API")
	}

	// Algorithm matrix: a file wins over the database.
	var source matrix.Source
	switch {
	case matrixFile != "":
		source = matrix.FileSource{Path: matrixFile}
	case pgStore != nil:
		source = pgStore.MatrixSource()
	}
	var reloader *matrix.Reloader
	if source != nil {
		reloader = matrix.NewReloader(source, eng, logger)
		if _, err := reloader.Reload(ctx); err != nil {
			logger.Fatal("failed to load algorithm matrix", zap.Error(err))
		}
		if matrixPoll > 0 {
			go reloader.Run(ctx, matrixPoll)
		}
	} else {
		logger.Info("using built-in algorithm matrix")
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		var err error
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Auth
	var authenticator auth.Authenticator
	var authCache *auth.AuthCache
	if pgStore != nil {
		pgAuth := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       pgDB,
			CacheTTL: cacheTTL,
			Logger:   logger,
		})
		authenticator = pgAuth
		authCache = pgAuth.Cache()
	} else {
		authenticator = auth.NewStaticAuthenticator(defaultProject, defaultMode)
	}

	evaluator := service.NewEvaluator(eng, writer, metrics, logger)

	// HTTP API
	deps := &api.Dependencies{
		Evaluator: evaluator,
		Auth:      authenticator,
		AuthCache: authCache,
		Metrics:   metrics.Handler(reg),
		Logger:    logger,
	}
	if pgStore != nil {
		deps.Projects = pgStore
		deps.Matrices = pgStore
	}
	if chReader != nil {
		deps.Reader = chReader
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC API
	grpcServer, healthServer := server.NewGRPCServer(server.NewRaspServer(evaluator, authenticator, logger))
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal; SIGHUP reloads the matrix.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if reloader == nil {
				logger.Info("SIGHUP ignored, no matrix source configured")
				continue
			}
			if _, err := reloader.Reload(ctx); err != nil {
				logger.Warn("algorithm matrix reload failed, keeping current matrix", zap.Error(err))
			}
			continue
		}
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		break
	}

	// Graceful shutdown
	healthServer.Shutdown()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	logger.Info("rasp server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
