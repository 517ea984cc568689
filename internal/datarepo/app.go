package datarepo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common"
	"github.com/dinvlad/jade-data-repo/internal/common/cluster"
	dbcommon "github.com/dinvlad/jade-data-repo/internal/common/database"
	"github.com/dinvlad/jade-data-repo/internal/common/health"
	"github.com/dinvlad/jade-data-repo/internal/common/logging"
	"github.com/dinvlad/jade-data-repo/internal/common/serve"
	"github.com/dinvlad/jade-data-repo/internal/common/task"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/blob"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/configuration"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/ingest"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/podcount"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/resource"
)

const backgroundTaskShutdownTimeout = 5 * time.Second

type backgroundTask struct {
	function   func()
	interval   time.Duration
	metricName string
}

// App is one member of the ingest fleet.
type App struct {
	Namespace *filesystem.Service
	Ledger    load.Ledger
	Engine    flight.Engine
	Ingest    *ingest.Service

	config          configuration.Configuration
	checker         *health.MultiChecker
	runEngine       func(ctx context.Context) error
	backgroundTasks []backgroundTask
	closers         []func()
}

// NewApp connects to the configured stores and wires the ingest components. Nothing runs until RunEngine or
// Run is called.
func NewApp(ctx context.Context, config configuration.Configuration) (*App, error) {
	a := &App{
		config:  config,
		checker: health.NewMultiChecker(),
	}
	realClock := clock.RealClock{}

	//////////////////////////////////////////////////////////////////////////
	// Namespace and load ledger
	//////////////////////////////////////////////////////////////////////////
	retryPolicy := config.Retry.Policy()
	if config.UsePostgres() {
		log.Infof("Setting up postgres connection")
		db, err := dbcommon.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return nil, errors.WithMessage(err, "error opening connection to postgres")
		}
		a.closers = append(a.closers, db.Close)
		a.checker.Add(dbcommon.NewPostgresChecker(db))
		a.Namespace = filesystem.NewService(filesystem.NewPostgresStore(db), retryPolicy)
		a.Ledger = load.NewPostgresLedger(db)
	} else {
		log.Warn("No postgres connection configured; namespace and ledger are kept in memory")
		store, err := filesystem.NewMemDbStore()
		if err != nil {
			return nil, err
		}
		ledger, err := load.NewMemDbLedger()
		if err != nil {
			return nil, err
		}
		a.Namespace = filesystem.NewService(store, retryPolicy)
		a.Ledger = ledger
	}

	//////////////////////////////////////////////////////////////////////////
	// Flight engine
	//////////////////////////////////////////////////////////////////////////
	registry := flight.NewRegistry()
	switch config.Engine.Type {
	case configuration.RedisEngine:
		log.Infof("Using redis flight queue %s", config.Engine.QueueName)
		redisClient := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		a.closers = append(a.closers, func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(errors.WithStack(err)).Warnf("Redis client didn't close down cleanly")
			}
		})
		engine := flight.NewRedisEngine(redisClient, registry, flight.RedisEngineConfig{
			QueueName:         config.Engine.QueueName,
			Workers:           config.Engine.Workers,
			PollInterval:      config.Engine.PollInterval,
			HeartbeatInterval: config.Engine.HeartbeatInterval,
			StaleAfter:        config.Engine.StaleAfter,
		}, realClock)
		a.checker.Add(engine)
		a.backgroundTasks = append(a.backgroundTasks, backgroundTask{
			function:   func() { requeueStale(engine) },
			interval:   config.Engine.HeartbeatInterval,
			metricName: "requeue_stale_flights",
		})
		a.Engine = engine
		a.runEngine = engine.Run
	default:
		log.Infof("Using in-process flight queue with %d workers", config.Engine.Workers)
		engine := flight.NewMemoryEngine(registry, config.Engine.Workers, config.Engine.QueueSize, realClock)
		a.Engine = engine
		a.runEngine = engine.Run
	}

	//////////////////////////////////////////////////////////////////////////
	// Fleet size
	//////////////////////////////////////////////////////////////////////////
	var pods podcount.Provider = podcount.Static(config.Kubernetes.StaticPodCount)
	if config.Kubernetes.Enabled {
		client, err := cluster.NewKubernetesClient(config.Kubernetes.QPS, config.Kubernetes.Burst)
		if err != nil {
			return nil, errors.WithMessage(err, "error creating kubernetes client")
		}
		pods = podcount.NewKubernetesProvider(
			client,
			config.Kubernetes.Namespace,
			config.Kubernetes.PodLabelSelector,
			config.Kubernetes.CacheTTL,
			realClock,
		)
	}

	//////////////////////////////////////////////////////////////////////////
	// Ingest flights
	//////////////////////////////////////////////////////////////////////////
	provisioner, err := resource.NewCachingProvisioner(
		resource.NewLocalProvisioner(string(config.Storage.Root), realClock),
		config.Storage.CacheSize,
	)
	if err != nil {
		return nil, err
	}
	copier := blob.NewLocalCopier(config.Copy.BytesPerSecond.Value(), realClock)
	driver := ingest.NewDriver(a.Ledger, a.Engine, pods, realClock, config.Load.ConcurrentFiles)
	registry.Register(
		ingest.WorkerFlightClass,
		ingest.NewWorkerFlightFactory(a.Namespace, provisioner, copier, retryPolicy, retryPolicy),
	)
	registry.Register(
		ingest.BulkFlightClass,
		ingest.NewBulkFlightFactory(
			a.Ledger,
			driver,
			config.Load.BulkArrayFilesMax,
			config.Load.DriverWait,
			retryPolicy,
			retryPolicy,
		),
	)
	a.Ingest = ingest.NewService(a.Engine, realClock, config.Load.BulkArrayFilesMax, config.Engine.PollInterval)
	return a, nil
}

func requeueStale(engine *flight.RedisEngine) {
	n, err := engine.RequeueStale()
	if err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("Failed to requeue stale flights")
		return
	}
	if n > 0 {
		log.Infof("Requeued %d stale flights", n)
	}
}

// RunEngine works on the flight queue until ctx is cancelled.
func (a *App) RunEngine(ctx context.Context) error {
	taskManager := task.NewBackgroundTaskManager(ingest.MetricsPrefix)
	for _, t := range a.backgroundTasks {
		taskManager.Register(t.function, t.interval, t.metricName)
	}
	err := a.runEngine(ctx)
	if timedOut := taskManager.StopAll(backgroundTaskShutdownTimeout); timedOut {
		log.Warn("Background tasks did not stop in time")
	}
	return err
}

// Run works on the flight queue and serves the health and metrics endpoints until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	health.SetupHttpMux(mux, a.checker)
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.HealthPort),
		Handler: mux,
	}

	g.Go(func() error { return serve.ListenAndServe(ctx, healthServer) })
	g.Go(func() error { return common.ServeMetrics(ctx, a.config.MetricsPort) })
	g.Go(func() error { return a.RunEngine(ctx) })
	return g.Wait()
}

// Close releases the store and queue connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
