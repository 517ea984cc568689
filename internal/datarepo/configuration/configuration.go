package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/dinvlad/jade-data-repo/internal/common/config"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

const (
	MemoryEngine = "memory"
	RedisEngine  = "redis"
)

type Configuration struct {
	// Namespace and ledger store. The in-memory stores are used when no connection is configured.
	Postgres config.PostgresConfig `validate:"-"`
	// Only used by the redis engine
	Redis  config.RedisConfig `validate:"-"`
	Engine EngineConfig
	Load   LoadConfig
	// Where the fleet size comes from
	Kubernetes KubernetesConfig
	Storage    StorageConfig
	Copy       CopyConfig
	// Retry rule of the namespace and ledger transactions and of the flight steps
	Retry       RetryConfig
	MetricsPort uint16 `validate:"required"`
	HealthPort  uint16 `validate:"required"`
}

// UsePostgres reports whether a postgres connection is configured.
func (c Configuration) UsePostgres() bool {
	return len(c.Postgres.Connection) > 0
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(configurationValidation, Configuration{})
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Engine.Type == RedisEngine {
		return validate.Struct(c.Redis)
	}
	return nil
}

func configurationValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(Configuration)
	if c.Engine.Type == MemoryEngine && c.Engine.Workers < 2 {
		// One worker is taken by the bulk flight that drives the others.
		sl.ReportError(c.Engine.Workers, "Workers", "Workers", "min_memory_workers", "2")
	}
	if !c.Kubernetes.Enabled && c.Kubernetes.StaticPodCount < 1 {
		sl.ReportError(c.Kubernetes.StaticPodCount, "StaticPodCount", "StaticPodCount", "gte", "1")
	}
	if c.Kubernetes.Enabled && c.Kubernetes.CacheTTL > c.Load.DriverWait {
		// A stale count may hold for at most one driver iteration.
		sl.ReportError(c.Kubernetes.CacheTTL, "CacheTTL", "CacheTTL", "ltefield", "DriverWait")
	}
}

type EngineConfig struct {
	// memory or redis
	Type string `validate:"oneof=memory redis"`
	// Flights run concurrently by each instance
	Workers int `validate:"gte=1"`
	// Capacity of the in-memory queue
	QueueSize int `validate:"gte=1"`
	// Name of the shared redis queue
	QueueName string `validate:"required"`
	// How often idle workers look for work and waiters poll flight state
	PollInterval      time.Duration `validate:"required"`
	HeartbeatInterval time.Duration `validate:"required"`
	// A flight whose heartbeat is older than this is requeued
	StaleAfter time.Duration `validate:"required,gtfield=HeartbeatInterval"`
}

type LoadConfig struct {
	// Per instance limit of concurrently running file flights
	ConcurrentFiles int `validate:"gte=1"`
	// How long the driver sleeps between looks at running loads
	DriverWait time.Duration `validate:"required"`
	// Maximum number of files in one bulk load request
	BulkArrayFilesMax int `validate:"gte=1"`
	// Default of the request field of the same name. -1 never stops.
	MaxFailedFileLoads int `validate:"gte=-1"`
}

type KubernetesConfig struct {
	// When false the fleet is assumed to be StaticPodCount instances
	Enabled          bool
	Namespace        string `validate:"required_if=Enabled true"`
	PodLabelSelector string `validate:"required_if=Enabled true"`
	// How long a pod count is reused. At most load.driverWait.
	CacheTTL time.Duration `validate:"gt=0"`
	QPS              float32
	Burst            int
	StaticPodCount   int
}

type StorageConfig struct {
	// Directory holding the storage locations of every collection
	Root config.Path `validate:"required"`
	// Number of locations remembered by the provisioner cache
	CacheSize int `validate:"gte=1"`
}

type CopyConfig struct {
	// Throttle of each copy. Zero disables throttling.
	BytesPerSecond resource.Quantity
}

type RetryConfig struct {
	Attempts uint          `validate:"gte=1"`
	Delay    time.Duration `validate:"gte=0"`
	MaxDelay time.Duration
}

func (c RetryConfig) Policy() util.RetryPolicy {
	return util.RetryPolicy{
		Attempts: c.Attempts,
		Delay:    c.Delay,
		MaxDelay: c.MaxDelay,
	}
}
