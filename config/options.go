package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edge-robotics/command-core/logger"
)

// Config holds edge-robot-core's full configuration surface:
// queue backend selection and per-backend settings, coordinator supervision
// defaults, offline buffer policy, and the ambient telemetry/logging stack.
// Built with a functional-options pattern (config.Option, config.New(opts...)).
type Config struct {
	queue       *QueueConfig
	amqp        *AMQPConfig
	cloud       *CloudConfig
	coordinator *CoordinatorConfig
	offline     *OfflineConfig
	telemetry   *TelemetryConfig
	logger      logger.Interface
}

// Option configures a Config.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// ================================
// Queue Configuration
// ================================

// QueueConfig selects and sizes the queue backend.
type QueueConfig struct {
	QueueType           string // "memory", "amqp", "cloud"
	MaxSize             int    // 0 = unbounded, memory backend only
	MaxWorkers           int
	PollIntervalSeconds float64
}

// WithQueue configures the queue backend and worker pool size.
func WithQueue(queueType string, maxWorkers int) Option {
	return optionFunc(func(c *Config) {
		c.queue = &QueueConfig{
			QueueType:           queueType,
			MaxWorkers:           maxWorkers,
			PollIntervalSeconds: 0.1,
		}
	})
}

// WithQueueMaxSize bounds the memory backend's capacity.
func WithQueueMaxSize(maxSize int) Option {
	return optionFunc(func(c *Config) {
		if c.queue != nil {
			c.queue.MaxSize = maxSize
		}
	})
}

// WithQueuePollInterval overrides the default 100ms dequeue poll cadence.
func WithQueuePollInterval(seconds float64) Option {
	return optionFunc(func(c *Config) {
		if c.queue != nil {
			c.queue.PollIntervalSeconds = seconds
		}
	})
}

// WithQueueFromEnv configures the queue backend from environment variables.
func WithQueueFromEnv() Option {
	return optionFunc(func(c *Config) {
		c.queue = &QueueConfig{
			QueueType:           getEnvOrDefault("EDGE_ROBOT_QUEUE_TYPE", "memory"),
			MaxSize:             getEnvIntOrDefault("EDGE_ROBOT_QUEUE_MAX_SIZE", 0),
			MaxWorkers:           getEnvIntOrDefault("EDGE_ROBOT_QUEUE_MAX_WORKERS", 5),
			PollIntervalSeconds: getEnvFloatOrDefault("EDGE_ROBOT_QUEUE_POLL_INTERVAL", 0.1),
		}
	})
}

// ================================
// AMQP Backend Configuration
// ================================

// AMQPConfig configures the broker-backed queue backend.
type AMQPConfig struct {
	URL                string
	Exchange           string
	Queue              string
	DLX                string
	DLQ                string
	PrefetchCount      int
	ConnectionPoolSize int
	ChannelPoolSize    int
}

// WithAMQP configures the AMQP backend, defaulting topology names to
// robot.commands.* naming.
func WithAMQP(url string) Option {
	return optionFunc(func(c *Config) {
		c.amqp = &AMQPConfig{
			URL:           url,
			Exchange:      "robot.commands",
			Queue:         "robot.commands.queue",
			DLX:           "robot.commands.dlx",
			DLQ:           "robot.commands.dlq",
			PrefetchCount: 10,
		}
	})
}

// WithAMQPPools overrides the reserved connection/channel pool sizing.
func WithAMQPPools(connectionPoolSize, channelPoolSize int) Option {
	return optionFunc(func(c *Config) {
		if c.amqp != nil {
			c.amqp.ConnectionPoolSize = connectionPoolSize
			c.amqp.ChannelPoolSize = channelPoolSize
		}
	})
}

// WithAMQPFromEnv configures the AMQP backend from environment variables.
func WithAMQPFromEnv() Option {
	return optionFunc(func(c *Config) {
		if url := os.Getenv("EDGE_ROBOT_AMQP_URL"); url != "" {
			c.amqp = &AMQPConfig{
				URL:                url,
				Exchange:           getEnvOrDefault("EDGE_ROBOT_AMQP_EXCHANGE", "robot.commands"),
				Queue:              getEnvOrDefault("EDGE_ROBOT_AMQP_QUEUE", "robot.commands.queue"),
				DLX:                getEnvOrDefault("EDGE_ROBOT_AMQP_DLX", "robot.commands.dlx"),
				DLQ:                getEnvOrDefault("EDGE_ROBOT_AMQP_DLQ", "robot.commands.dlq"),
				PrefetchCount:      getEnvIntOrDefault("EDGE_ROBOT_AMQP_PREFETCH", 10),
				ConnectionPoolSize: getEnvIntOrDefault("EDGE_ROBOT_AMQP_CONN_POOL", 1),
				ChannelPoolSize:    getEnvIntOrDefault("EDGE_ROBOT_AMQP_CHANNEL_POOL", 1),
			}
		}
	})
}

// ================================
// Cloud Backend Configuration
// ================================

// CloudConfig configures the SQS-compatible cloud backend.
type CloudConfig struct {
	QueueURL          string
	QueueName         string
	DLQName           string
	Region            string
	VisibilityTimeout time.Duration
	WaitTimeSeconds   int
	UseFIFO           bool
}

// WithCloud configures the cloud backend, defaulting naming to // robot-edge-commands-* naming.
func WithCloud(region string) Option {
	return optionFunc(func(c *Config) {
		c.cloud = &CloudConfig{
			QueueName:         "robot-edge-commands-queue",
			DLQName:           "robot-edge-commands-dlq",
			Region:            region,
			VisibilityTimeout: 30 * time.Second,
			WaitTimeSeconds:   20,
		}
	})
}

// WithCloudQueueURL pins an already-provisioned queue URL, skipping lookup.
func WithCloudQueueURL(url string) Option {
	return optionFunc(func(c *Config) {
		if c.cloud != nil {
			c.cloud.QueueURL = url
		}
	})
}

// WithCloudFIFO enables FIFO ordering/deduplication semantics.
func WithCloudFIFO() Option {
	return optionFunc(func(c *Config) {
		if c.cloud != nil {
			c.cloud.UseFIFO = true
		}
	})
}

// WithCloudFromEnv configures the cloud backend from environment variables.
func WithCloudFromEnv() Option {
	return optionFunc(func(c *Config) {
		if region := os.Getenv("EDGE_ROBOT_CLOUD_REGION"); region != "" {
			c.cloud = &CloudConfig{
				QueueURL:          os.Getenv("EDGE_ROBOT_CLOUD_QUEUE_URL"),
				QueueName:         getEnvOrDefault("EDGE_ROBOT_CLOUD_QUEUE_NAME", "robot-edge-commands-queue"),
				DLQName:           getEnvOrDefault("EDGE_ROBOT_CLOUD_DLQ_NAME", "robot-edge-commands-dlq"),
				Region:            region,
				VisibilityTimeout: getEnvDurationOrDefault("EDGE_ROBOT_CLOUD_VISIBILITY_TIMEOUT", 30*time.Second),
				WaitTimeSeconds:   getEnvIntOrDefault("EDGE_ROBOT_CLOUD_WAIT_TIME", 20),
				UseFIFO:           getEnvBoolOrDefault("EDGE_ROBOT_CLOUD_FIFO", false),
			}
		}
	})
}

// ================================
// Coordinator Configuration
// ================================

// CoordinatorConfig holds the defaults new services are registered with
//, overridable per-service at Register time.
type CoordinatorConfig struct {
	HealthCheckInterval time.Duration
	MaxRestartAttempts  int
	RestartDelay        time.Duration
	AlertThreshold      int
}

// WithCoordinator configures coordinator supervision defaults.
func WithCoordinator(healthCheckInterval, restartDelay time.Duration, maxRestartAttempts int) Option {
	return optionFunc(func(c *Config) {
		c.coordinator = &CoordinatorConfig{
			HealthCheckInterval: healthCheckInterval,
			MaxRestartAttempts:  maxRestartAttempts,
			RestartDelay:        restartDelay,
			AlertThreshold:      3,
		}
	})
}

// WithCoordinatorAlertThreshold overrides the default 3-consecutive-failure
// alert trigger.
func WithCoordinatorAlertThreshold(n int) Option {
	return optionFunc(func(c *Config) {
		if c.coordinator != nil {
			c.coordinator.AlertThreshold = n
		}
	})
}

// WithCoordinatorFromEnv configures coordinator defaults from environment.
func WithCoordinatorFromEnv() Option {
	return optionFunc(func(c *Config) {
		c.coordinator = &CoordinatorConfig{
			HealthCheckInterval: getEnvDurationOrDefault("EDGE_ROBOT_HEALTH_CHECK_INTERVAL", 30*time.Second),
			MaxRestartAttempts:  getEnvIntOrDefault("EDGE_ROBOT_MAX_RESTART_ATTEMPTS", 3),
			RestartDelay:        getEnvDurationOrDefault("EDGE_ROBOT_RESTART_DELAY", 2*time.Second),
			AlertThreshold:      getEnvIntOrDefault("EDGE_ROBOT_ALERT_THRESHOLD", 3),
		}
	})
}

// ================================
// Offline Buffer Configuration
// ================================

// OfflineConfig configures the offline command/sync buffers.
type OfflineConfig struct {
	MaxSize           int
	DefaultTTL        time.Duration
	MaxRetryCount     int
	SendBatchSize     int
	FlushInterval     time.Duration
	DatabasePath      string
}

// WithOffline configures the offline buffer's persistence path and sizing.
func WithOffline(databasePath string) Option {
	return optionFunc(func(c *Config) {
		c.offline = &OfflineConfig{
			MaxSize:       1000,
			DefaultTTL:    time.Hour,
			MaxRetryCount: 3,
			SendBatchSize: 10,
			FlushInterval: 5 * time.Second,
			DatabasePath:  databasePath,
		}
	})
}

// WithOfflineFromEnv configures the offline buffer from environment variables.
func WithOfflineFromEnv() Option {
	return optionFunc(func(c *Config) {
		c.offline = &OfflineConfig{
			MaxSize:       getEnvIntOrDefault("EDGE_ROBOT_OFFLINE_MAX_SIZE", 1000),
			DefaultTTL:    getEnvDurationOrDefault("EDGE_ROBOT_OFFLINE_TTL", time.Hour),
			MaxRetryCount: getEnvIntOrDefault("EDGE_ROBOT_OFFLINE_MAX_RETRY", 3),
			SendBatchSize: getEnvIntOrDefault("EDGE_ROBOT_OFFLINE_BATCH_SIZE", 10),
			FlushInterval: getEnvDurationOrDefault("EDGE_ROBOT_OFFLINE_FLUSH_INTERVAL", 5*time.Second),
			DatabasePath:  getEnvOrDefault("EDGE_ROBOT_OFFLINE_DB_PATH", "offline_buffer.db"),
		}
	})
}

// ================================
// Telemetry Configuration
// ================================

// TelemetryConfig configures the OpenTelemetry ambient stack.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	TracingEnabled bool
	SampleRate     float64
	MetricsEnabled bool
	Enabled        bool
}

// WithTelemetry configures telemetry settings.
func WithTelemetry(serviceName, serviceVersion, environment, otlpEndpoint string) Option {
	return optionFunc(func(c *Config) {
		c.telemetry = &TelemetryConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			Environment:    environment,
			OTLPEndpoint:   otlpEndpoint,
			TracingEnabled: true,
			MetricsEnabled: true,
			SampleRate:     1.0,
			Enabled:        true,
		}
	})
}

// WithTelemetryFromEnv configures telemetry from environment variables.
func WithTelemetryFromEnv() Option {
	return optionFunc(func(c *Config) {
		if getEnvBoolOrDefault("EDGE_ROBOT_TELEMETRY_ENABLED", false) {
			c.telemetry = &TelemetryConfig{
				ServiceName:    getEnvOrDefault("EDGE_ROBOT_SERVICE_NAME", "edge-robot-core"),
				ServiceVersion: getEnvOrDefault("EDGE_ROBOT_SERVICE_VERSION", "0.1.0"),
				Environment:    getEnvOrDefault("EDGE_ROBOT_ENVIRONMENT", "development"),
				OTLPEndpoint:   getEnvOrDefault("EDGE_ROBOT_OTLP_ENDPOINT", "http://localhost:4318"),
				TracingEnabled: true,
				MetricsEnabled: true,
				SampleRate:     1.0,
				Enabled:        true,
			}
		}
	})
}

// WithTelemetryDisabled explicitly disables telemetry.
func WithTelemetryDisabled() Option {
	return optionFunc(func(c *Config) {
		c.telemetry = &TelemetryConfig{Enabled: false}
	})
}

// ================================
// Logger Configuration
// ================================

// WithLogger configures a custom logger.
func WithLogger(l logger.Interface) Option {
	return optionFunc(func(c *Config) { c.logger = l })
}

// WithDefaultLogger configures the default logger at the given level.
func WithDefaultLogger(level logger.LogLevel) Option {
	return optionFunc(func(c *Config) { c.logger = logger.Default.LogMode(level) })
}

// WithSilentLogger disables logging.
func WithSilentLogger() Option {
	return optionFunc(func(c *Config) { c.logger = logger.Default.LogMode(logger.Silent) })
}

// ================================
// Preset Option Combinations
// ================================

// WithDefaults loads every subsystem from its environment variables,
// falling back to an in-process memory queue when the environment is silent.
// The offline buffer config is always set, with its sqlite file defaulting
// to offline_buffer.db.
func WithDefaults() Option {
	return optionFunc(func(c *Config) {
		WithQueueFromEnv().apply(c)
		WithAMQPFromEnv().apply(c)
		WithCloudFromEnv().apply(c)
		WithCoordinatorFromEnv().apply(c)
		WithOfflineFromEnv().apply(c)
		WithTelemetryFromEnv().apply(c)

		if c.queue == nil {
			WithQueue("memory", 5).apply(c)
		}
		if c.coordinator == nil {
			WithCoordinatorFromEnv().apply(c)
		}
		if c.logger == nil {
			WithDefaultLogger(logger.Warn).apply(c)
		}
	})
}

// WithTestDefaults applies test-friendly defaults: small in-memory queue,
// short coordinator timers, and a Debug-level default logger when none is set.
func WithTestDefaults() Option {
	return optionFunc(func(c *Config) {
		WithQueue("memory", 2).apply(c)
		WithQueueMaxSize(100).apply(c)
		WithCoordinator(time.Second, 50*time.Millisecond, 2).apply(c)
		if c.logger == nil {
			WithDefaultLogger(logger.Debug).apply(c)
		}
	})
}

// ================================
// Config Creation and Getters
// ================================

// New creates a Config, applying defaults for anything left unset.
func New(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.queue == nil {
		WithQueue("memory", 5).apply(c)
	}
	if c.coordinator == nil {
		c.coordinator = &CoordinatorConfig{
			HealthCheckInterval: 30 * time.Second,
			MaxRestartAttempts:  3,
			RestartDelay:        2 * time.Second,
			AlertThreshold:      3,
		}
	}
	if c.offline == nil {
		c.offline = &OfflineConfig{
			MaxSize:       1000,
			DefaultTTL:    time.Hour,
			MaxRetryCount: 3,
			SendBatchSize: 10,
			FlushInterval: 5 * time.Second,
			DatabasePath:  "offline_buffer.db",
		}
	}
	if c.logger == nil {
		c.logger = logger.Default.LogMode(logger.Warn)
	}
	return c
}

// Queue returns the queue configuration.
func (c *Config) Queue() *QueueConfig { return c.queue }

// AMQP returns the AMQP backend configuration, nil if unconfigured.
func (c *Config) AMQP() *AMQPConfig { return c.amqp }

// Cloud returns the cloud backend configuration, nil if unconfigured.
func (c *Config) Cloud() *CloudConfig { return c.cloud }

// Coordinator returns the coordinator supervision defaults.
func (c *Config) Coordinator() *CoordinatorConfig { return c.coordinator }

// Offline returns the offline buffer configuration.
func (c *Config) Offline() *OfflineConfig { return c.offline }

// Telemetry returns the telemetry configuration.
func (c *Config) Telemetry() *TelemetryConfig { return c.telemetry }

// Logger returns the configured logger.
func (c *Config) Logger() logger.Interface { return c.logger }

// ================================
// Utility functions
// ================================

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
