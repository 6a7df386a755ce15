package config

import (
	"allotment/pkg/client"
	"allotment/pkg/logger"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreBackend  string
	NotifyBackend string
	NotifyTopic   string
	RabbitMQURL   string
	NotifyQueue   string

	SweepInterval        time.Duration
	SweepResourceTimeout time.Duration
	SweepRatePerSec      float64

	DefaultHoldDuration time.Duration

	RetryAttempts    int
	RetryBaseBackoff time.Duration

	Port string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	RateLimitPerSec float64
	RateLimitBurst  int

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		RedisAddr:     getEnvStr(EnvRedisAddr, DefaultRedisAddr),
		RedisPassword: getEnvStr(EnvRedisPassword, ""),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		StoreBackend:  strings.ToLower(getEnvStr(EnvStoreBackend, DefaultStoreBackend)),
		NotifyBackend: strings.ToLower(getEnvStr(EnvNotifyBackend, DefaultNotifyBackend)),
		NotifyTopic:   getEnvStr(EnvNotifyTopic, DefaultNotifyTopic),
		RabbitMQURL:   getEnvStr(EnvRabbitMQURL, DefaultRabbitMQURL),
		NotifyQueue:   getEnvStr(EnvNotifyQueue, DefaultNotifyQueue),

		SweepInterval:        getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		SweepResourceTimeout: getEnvDuration(EnvSweepResourceTimeout, DefaultSweepResourceTimeout),
		SweepRatePerSec:      getEnvFloat(EnvSweepRatePerSec, DefaultSweepRatePerSec),

		DefaultHoldDuration: getEnvDuration(EnvDefaultHoldDuration, DefaultHoldDuration),

		RetryAttempts:    getEnvNum(EnvRetryAttempts, DefaultRetryAttempts),
		RetryBaseBackoff: getEnvDuration(EnvRetryBaseBackoff, DefaultRetryBaseBackoff),

		Port: getEnvStr(EnvPort, DefaultPort),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),
		RequestTimeout:  getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),

		RateLimitPerSec: getEnvFloat(EnvRateLimitPerSec, DefaultRateLimitPerSec),
		RateLimitBurst:  getEnvNum(EnvRateLimitBurst, DefaultRateLimitBurst),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	err := cfg.Validate()
	if err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) SetRedis() {
	cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreRedis:
	case StoreMongo:
		if cfg.MongoURI == "" {
			errors = append(errors, "MongoURI cannot be empty")
		} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	default:
		errors = append(errors, fmt.Sprintf("StoreBackend must be one of [memory, mongo, redis], got: %s", cfg.StoreBackend))
	}

	if cfg.StoreBackend == StoreRedis && cfg.RedisAddr == "" {
		errors = append(errors, "RedisAddr cannot be empty when StoreBackend is redis")
	}
	if cfg.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
	}

	switch cfg.NotifyBackend {
	case NotifyLog, NotifyKafka:
	case NotifyRabbitMQ:
		if !strings.HasPrefix(cfg.RabbitMQURL, "amqp://") && !strings.HasPrefix(cfg.RabbitMQURL, "amqps://") {
			errors = append(errors, fmt.Sprintf("RabbitMQURL must start with 'amqp://' or 'amqps://', got: %s", redactURI(cfg.RabbitMQURL)))
		}
		if cfg.NotifyQueue == "" {
			errors = append(errors, "NotifyQueue cannot be empty when NotifyBackend is rabbitmq")
		}
	default:
		errors = append(errors, fmt.Sprintf("NotifyBackend must be one of [log, kafka, rabbitmq], got: %s", cfg.NotifyBackend))
	}
	if cfg.NotifyBackend == NotifyKafka && cfg.NotifyTopic == "" {
		errors = append(errors, "NotifyTopic cannot be empty when NotifyBackend is kafka")
	}

	if cfg.SweepInterval <= 0 {
		errors = append(errors, fmt.Sprintf("SweepInterval must be positive, got: %s", cfg.SweepInterval))
	}
	if cfg.SweepResourceTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("SweepResourceTimeout must be positive, got: %s", cfg.SweepResourceTimeout))
	}
	if cfg.SweepRatePerSec < 0 {
		errors = append(errors, fmt.Sprintf("SweepRatePerSec cannot be negative, got: %g", cfg.SweepRatePerSec))
	}
	if cfg.DefaultHoldDuration < 0 {
		errors = append(errors, fmt.Sprintf("DefaultHoldDuration cannot be negative, got: %s", cfg.DefaultHoldDuration))
	}
	if cfg.RetryAttempts <= 0 || cfg.RetryAttempts > MaxRetryAttempts {
		errors = append(errors, fmt.Sprintf("RetryAttempts must be between 1 and %d, got: %d", MaxRetryAttempts, cfg.RetryAttempts))
	}
	if cfg.RetryBaseBackoff < 0 || cfg.RetryBaseBackoff > MaxRetryBaseBackoff {
		errors = append(errors, fmt.Sprintf("RetryBaseBackoff must be between 0 and %s, got: %s", MaxRetryBaseBackoff, cfg.RetryBaseBackoff))
	}

	if cfg.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("WriteTimeout must be positive, got: %s", cfg.WriteTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.RateLimitPerSec < 0 {
		errors = append(errors, fmt.Sprintf("RateLimitPerSec cannot be negative, got: %g", cfg.RateLimitPerSec))
	}
	if cfg.RateLimitPerSec > 0 && cfg.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("RateLimitBurst must be at least 1, got: %d", cfg.RateLimitBurst))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"store_backend", cfg.StoreBackend,
		"mongo_uri", redactURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"redis_addr", cfg.RedisAddr,
		"redis_password_set", cfg.RedisPassword != "",
		"redis_db", cfg.RedisDB,
		"notify_backend", cfg.NotifyBackend,
		"notify_topic", cfg.NotifyTopic,
		"rabbitmq_url", redactURI(cfg.RabbitMQURL),
		"notify_queue", cfg.NotifyQueue,
		"sweep_interval", cfg.SweepInterval,
		"sweep_resource_timeout", cfg.SweepResourceTimeout,
		"sweep_rate_per_sec", cfg.SweepRatePerSec,
		"default_hold_duration", cfg.DefaultHoldDuration,
		"retry_attempts", cfg.RetryAttempts,
		"retry_base_backoff", cfg.RetryBaseBackoff,
		"port", cfg.Port,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"request_timeout", cfg.RequestTimeout,
		"rate_limit_per_sec", cfg.RateLimitPerSec,
		"rate_limit_burst", cfg.RateLimitBurst,
	)
}

// redactURI hides the user:password part of mongodb:// and amqp:// URIs.
func redactURI(uri string) string {
	credentialRegex := regexp.MustCompile(`^([a-z+]+://)[^:/@]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}
