package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"clinicops/pkg/client"
	"clinicops/pkg/logger"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Port string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Slot coordination knobs.
	HoldTTL               time.Duration
	SweepInterval         time.Duration
	SlotLockTTL           time.Duration
	LockWaitTimeout       time.Duration
	TransactionTimeout    time.Duration
	SuggestionLimit       int
	SuggestionHorizonDays int
	SlotStepMin           int

	// Clinic-wide working window, overridable per vet.
	DefaultStartOfDay string
	DefaultEndOfDay   string
	DefaultBreakStart string
	DefaultBreakEnd   string

	EventBufferSize int
	KafkaEnabled    bool

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		RedisAddr:     getEnvStr(EnvRedisAddr, DefaultRedisAddr),
		RedisPassword: getEnvStr(EnvRedisPassword, ""),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		Port: getEnvStr(EnvPort, DefaultPort),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		HoldTTL:               getEnvDuration(EnvHoldTTL, DefaultHoldTTL),
		SweepInterval:         getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		SlotLockTTL:           getEnvDuration(EnvSlotLockTTL, DefaultSlotLockTTL),
		LockWaitTimeout:       getEnvDuration(EnvLockWaitTimeout, DefaultLockWaitTimeout),
		TransactionTimeout:    getEnvDuration(EnvTransactionTimeout, DefaultTransactionTimeout),
		SuggestionLimit:       getEnvNum(EnvSuggestionLimit, DefaultSuggestionLimit),
		SuggestionHorizonDays: getEnvNum(EnvSuggestionHorizonDays, DefaultSuggestionHorizonDays),
		SlotStepMin:           getEnvNum(EnvSlotStepMin, DefaultSlotStepMin),

		DefaultStartOfDay: getEnvStr(EnvDefaultStartOfDay, DefaultDefaultStartOfDay),
		DefaultEndOfDay:   getEnvStr(EnvDefaultEndOfDay, DefaultDefaultEndOfDay),
		DefaultBreakStart: getEnvStr(EnvDefaultBreakStart, DefaultDefaultBreakStart),
		DefaultBreakEnd:   getEnvStr(EnvDefaultBreakEnd, DefaultDefaultBreakEnd),

		EventBufferSize: getEnvNum(EnvEventBufferSize, DefaultEventBufferSize),
		KafkaEnabled:    getEnvBool(EnvKafkaEnabled, DefaultKafkaEnabled),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if err := cfg.Validate(); err != nil {
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
	var errs []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errs = append(errs, "MongoURI cannot be empty")
	} else if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errs = append(errs, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", cfg.MongoURI))
	}
	if cfg.MongoDatabaseName == "" {
		errs = append(errs, "MongoDatabaseName cannot be empty")
	}
	if cfg.MongoConnTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
	}

	timeRegex := regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	for name, value := range map[string]string{
		"DefaultStartOfDay": cfg.DefaultStartOfDay,
		"DefaultEndOfDay":   cfg.DefaultEndOfDay,
		"DefaultBreakStart": cfg.DefaultBreakStart,
		"DefaultBreakEnd":   cfg.DefaultBreakEnd,
	} {
		if !timeRegex.MatchString(value) {
			errs = append(errs, fmt.Sprintf("%s must be in HH:MM format (00:00-23:59), got: %s", name, value))
		}
	}

	for name, value := range map[string]time.Duration{
		"RateLimitWindow":    cfg.RateLimitWindow,
		"RequestTimeout":     cfg.RequestTimeout,
		"IdempotencyTTL":     cfg.IdempotencyTTL,
		"ReadTimeout":        cfg.ReadTimeout,
		"WriteTimeout":       cfg.WriteTimeout,
		"IdleTimeout":        cfg.IdleTimeout,
		"ShutdownTimeout":    cfg.ShutdownTimeout,
		"HoldTTL":            cfg.HoldTTL,
		"SweepInterval":      cfg.SweepInterval,
		"SlotLockTTL":        cfg.SlotLockTTL,
		"LockWaitTimeout":    cfg.LockWaitTimeout,
		"TransactionTimeout": cfg.TransactionTimeout,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got: %s", name, value))
		}
	}

	if cfg.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.SuggestionLimit <= 0 {
		errs = append(errs, fmt.Sprintf("SuggestionLimit must be positive, got: %d", cfg.SuggestionLimit))
	}
	if cfg.SuggestionHorizonDays < 0 {
		errs = append(errs, fmt.Sprintf("SuggestionHorizonDays cannot be negative, got: %d", cfg.SuggestionHorizonDays))
	}
	if cfg.SlotStepMin <= 0 || cfg.SlotStepMin > 120 {
		errs = append(errs, fmt.Sprintf("SlotStepMin must be between 1 and 120, got: %d", cfg.SlotStepMin))
	}
	if cfg.EventBufferSize <= 0 {
		errs = append(errs, fmt.Sprintf("EventBufferSize must be positive, got: %d", cfg.EventBufferSize))
	}

	if len(errs) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, e := range errs {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, e)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"redis_addr", cfg.RedisAddr,
		"port", cfg.Port,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"hold_ttl", cfg.HoldTTL,
		"sweep_interval", cfg.SweepInterval,
		"slot_lock_ttl", cfg.SlotLockTTL,
		"lock_wait_timeout", cfg.LockWaitTimeout,
		"transaction_timeout", cfg.TransactionTimeout,
		"suggestion_limit", cfg.SuggestionLimit,
		"suggestion_horizon_days", cfg.SuggestionHorizonDays,
		"slot_step_min", cfg.SlotStepMin,
		"default_start_of_day", cfg.DefaultStartOfDay,
		"default_end_of_day", cfg.DefaultEndOfDay,
		"default_break_start", cfg.DefaultBreakStart,
		"default_break_end", cfg.DefaultBreakEnd,
		"event_buffer_size", cfg.EventBufferSize,
		"kafka_enabled", cfg.KafkaEnabled,
	)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
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

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
