package app

import (
	"context"
	"log/slog"
	"time"

	"IngestTuner/internal/config"
	"IngestTuner/internal/infrastructure/scheduler"
	"IngestTuner/internal/infrastructure/storage"
	"IngestTuner/internal/logging"
	"IngestTuner/internal/usecase"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Application wires configuration to the control services and owns their
// lifecycle. Services are constructed once here and passed explicitly to
// callers; nothing holds process-wide state.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store     *usecase.ReputationStore
	filter    *usecase.QualityFilter
	learner   *usecase.Learner
	ledger    *usecase.Ledger
	optimizer *usecase.ScheduleOptimizer
	admin     *usecase.Admin
	jobs      *usecase.Jobs
}

// New builds the full service graph. A database that is down at start leaves
// the repositories degraded rather than failing construction; the breaker and
// write queue cover the gap until persistence returns.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	clock := systemClock{}

	db, err := storage.Connect(cfg.Database.DSN)
	if err != nil {
		baseLogger.Warn("database unavailable at start, running degraded", "error", err)
	} else if err := storage.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		baseLogger.Warn("migrations failed", "error", err)
	}

	thresholds := usecase.NewThresholdsCache(cfg.Thresholds.Build())
	ledger := usecase.NewLedger(storage.NewTuningRepository(db), clock, baseLogger.With("component", "ledger"))
	admin := usecase.NewAdmin(thresholds, storage.NewThresholdRepository(db), ledger, clock,
		baseLogger.With("component", "admin"))

	store := usecase.NewReputationStore(usecase.ReputationDeps{
		Repository: storage.NewReputationRepository(db),
		History:    storage.NewHistoryRepository(db),
		Signals:    storage.NewSignalRepository(db),
		Ledger:     ledger,
		Thresholds: thresholds,
		Clock:      clock,
		Logger:     baseLogger.With("component", "reputation"),

		InitialScore:  cfg.Reputation.InitialScore,
		QueueCapacity: cfg.Reputation.QueueCapacity,
		HealthWeights: usecase.HealthWeights{
			AvgQuality:        cfg.Reputation.HealthWeights.AvgQuality,
			Accuracy:          cfg.Reputation.HealthWeights.Accuracy,
			CrossVerification: cfg.Reputation.HealthWeights.CrossVerification,
		},
	})

	filter := usecase.NewQualityFilter(usecase.FilterDeps{
		Store:      store,
		Log:        storage.NewFilterLogRepository(db),
		Thresholds: thresholds,
		Clock:      clock,
		Logger:     baseLogger.With("component", "filter"),
		SoftMode:   cfg.Filter.SoftMode,
		FailOpen:   cfg.Filter.FailOpen(),
	})

	learner := usecase.NewLearner(
		storage.NewPerformanceRepository(db),
		ledger,
		learnerSettings(cfg.Learner),
		clock,
		baseLogger.With("component", "learner"),
	)

	optimizer := usecase.NewScheduleOptimizer(
		storage.NewScheduleRepository(db),
		ledger,
		cfg.Optimizer.MinDeltaMinutes,
		baseLogger.With("component", "optimizer"),
	)

	jobs := usecase.NewJobs(
		scheduler.NewCronScheduler(ctx),
		store, learner, optimizer,
		usecase.JobSpecs{
			Decay:    cfg.Jobs.Decay,
			Snapshot: cfg.Jobs.Snapshot,
			Learning: cfg.Jobs.Learning,
			Optimize: cfg.Jobs.Optimize,
			Drain:    cfg.Jobs.Drain,
		},
		baseLogger.With("component", "jobs"),
	)

	app := &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		filter:    filter,
		learner:   learner,
		ledger:    ledger,
		optimizer: optimizer,
		admin:     admin,
		jobs:      jobs,
	}

	if err := admin.LoadOrSeed(ctx); err != nil {
		baseLogger.Warn("thresholds not persisted, using configured values", "error", err)
	}

	return app
}

// Run starts the periodic jobs and blocks until the context is canceled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.jobs.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("control loop running")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.jobs.Stop(stopCtx)
}

// Reputation exposes the reputation store to embedding callers.
func (a *Application) Reputation() *usecase.ReputationStore { return a.store }

// Filter exposes the quality filter to the ingestion pipeline.
func (a *Application) Filter() *usecase.QualityFilter { return a.filter }

// Learner exposes the performance learner to scrape/validation workers.
func (a *Application) Learner() *usecase.Learner { return a.learner }

// Ledger exposes the tuning history for administrative rollback.
func (a *Application) Ledger() *usecase.Ledger { return a.ledger }

// Optimizer exposes the schedule optimizer to the scheduling driver.
func (a *Application) Optimizer() *usecase.ScheduleOptimizer { return a.optimizer }

// Admin exposes the threshold administration surface.
func (a *Application) Admin() *usecase.Admin { return a.admin }

func learnerSettings(cfg config.LearnerConfig) usecase.LearnerSettings {
	return usecase.LearnerSettings{
		Enforcing:       cfg.Enforcing(),
		WindowSize:      cfg.WindowSize,
		WindowAge:       time.Duration(cfg.WindowMinutes) * time.Minute,
		MinTimeoutMS:    cfg.MinTimeoutMS,
		MaxTimeoutMS:    cfg.MaxTimeoutMS,
		MinRetries:      cfg.MinRetries,
		MaxRetries:      cfg.MaxRetries,
		MinConcurrency:  cfg.MinConcurrency,
		MaxConcurrency:  cfg.MaxConcurrency,
		MinBatchSize:    cfg.MinBatchSize,
		MaxBatchSize:    cfg.MaxBatchSize,
		ErrorCeiling:    cfg.ErrorCeiling,
		ConfidenceFloor: cfg.ConfidenceFloor,
		ConfidenceK:     cfg.ConfidenceK,
		PatternFloor:    cfg.PatternFloor,
	}
}
