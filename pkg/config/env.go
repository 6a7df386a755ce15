package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	EnvStoreBackend  = "STORE_BACKEND"
	EnvNotifyBackend = "NOTIFY_BACKEND"
	EnvNotifyTopic   = "NOTIFY_TOPIC"
	EnvRabbitMQURL   = "RABBITMQ_URL"
	EnvNotifyQueue   = "NOTIFY_QUEUE"

	EnvSweepInterval        = "SWEEP_INTERVAL"
	EnvSweepResourceTimeout = "SWEEP_RESOURCE_TIMEOUT"
	EnvSweepRatePerSec      = "SWEEP_RATE_PER_SEC"

	EnvDefaultHoldDuration = "DEFAULT_HOLD_DURATION"

	EnvRetryAttempts    = "RETRY_ATTEMPTS"
	EnvRetryBaseBackoff = "RETRY_BASE_BACKOFF"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"

	EnvRateLimitPerSec = "RATE_LIMIT_PER_SEC"
	EnvRateLimitBurst  = "RATE_LIMIT_BURST"
)
