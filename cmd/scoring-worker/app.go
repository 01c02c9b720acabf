package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/emitter"
	"ally/internal/filter"
	"ally/internal/logger"
	"ally/internal/processor"
	"ally/internal/scoring"
	"ally/internal/store"
	"ally/internal/stream"
	"ally/internal/uniqueness"
	"ally/internal/worker"
	"ally/pkg/bootstrap"
	"ally/pkg/health"
	"ally/pkg/metrics"
	"ally/pkg/tracing"
)

type App struct {
	Config *config.Config
	Logger logger.Logger

	dbConnector *bootstrap.DatabaseConnector
	redisClient *redis.Client
	db          *sql.DB
	mongoClient *mongo.Client

	streams        *stream.RedisStreams
	scoredEmitter  emitter.Emitter
	engine         *uniqueness.Engine
	worker         *worker.Worker
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("scoring-worker")
	}
	return &App{
		Config:      cfg,
		Logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initWorker(ctx); err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "scoring-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterWorkerMetrics()
	metrics.RegisterScoringMetrics()
	metrics.RegisterUniquenessMetrics()
	metrics.RegisterEmitterMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterDatabaseMetrics()

	a.initHTTPServer()

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := store.RunMigrations(a.db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.Info("Database migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initWorker(ctx context.Context) error {
	a.streams = stream.NewRedisStreams(a.redisClient, a.Logger)

	pgStore := store.NewPostgresStore(a.db)

	auditDB := a.Config.Database.MongoDB.Database
	if auditDB == "" {
		auditDB = constants.AuditDatabase
	}
	audit := store.NewMongoAuditTrail(a.mongoClient.Database(auditDB), constants.AuditCollection)
	if err := audit.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure audit indexes: %w", err)
	}

	embedder := uniqueness.NewOpenAIEmbedder(
		a.Config.Scoring.Value.APIKey,
		a.Config.Scoring.Value.BaseURL,
		a.Config.Uniqueness.EmbeddingModel,
	)
	index := uniqueness.NewIndex(ctx, a.Config.Uniqueness, a.Logger)
	a.engine = uniqueness.NewEngine(embedder, index, a.Config.Uniqueness, a.Logger)

	sentiment := scoring.NewHTTPSentimentClient(a.Config.Scoring.SentimentURL, a.Config.Scoring.SentimentTimeout)
	value := scoring.NewOpenAIValueScorer(a.Config.Scoring.Value, a.Logger)

	scoringCfg := scoring.Config{
		Weights: scoring.Weights{
			Sentiment:  a.Config.Scoring.Weights.Sentiment,
			Value:      a.Config.Scoring.Weights.Value,
			Uniqueness: a.Config.Scoring.Weights.Uniqueness,
		},
		SentimentURL: a.Config.Scoring.SentimentURL,
	}
	orch, err := scoring.NewOrchestrator(scoringCfg, sentiment, value, a.engine, a.Config.Uniqueness.EmbeddingModel, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if a.Config.Emitter.Enabled {
		scoredEmitter, err := emitter.New(a.Config.Emitter, a.streams, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create emitter: %w", err)
		}
		a.scoredEmitter = scoredEmitter
	}

	var ignore *filter.IgnoreFilter
	if len(a.Config.Filter.IgnoreRules) > 0 {
		ignore, err = filter.New(a.Config.Filter.IgnoreRules, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to compile ignore rules: %w", err)
		}
	}

	opts := processor.Options{
		Emitter:    a.scoredEmitter,
		History:    a.engine,
		WindowDays: a.Config.Uniqueness.WindowDays,
		TopK:       a.Config.Uniqueness.TopK,
		Logger:     a.Logger,
	}
	registry := processor.NewRegistry(
		processor.NewDiscordProcessor(opts),
		processor.NewTelegramProcessor(opts),
	)

	a.worker = worker.New(a.streams, a.streams, audit, pgStore, registry, orch, ignore, a.Config.Worker, a.Logger)

	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	healthRegistry.Register(health.NewWorkerChecker(a.worker.Stats(), 0))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.worker.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	if a.scoredEmitter != nil {
		if err := a.scoredEmitter.Close(); err != nil {
			a.Logger.Warnw("emitter close error", "error", err)
		}
	}

	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.Logger.Warnw("uniqueness engine close error", "error", err)
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warnw("tracer shutdown error", "error", err)
		}
	}

	for _, err := range a.dbConnector.ShutdownDatabases(shutdownCtx, a.redisClient, a.db, a.mongoClient) {
		a.Logger.Warnw("database shutdown error", "error", err)
	}
}
