package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvHoldTTL               = "HOLD_TTL"
	EnvSweepInterval         = "SWEEP_INTERVAL"
	EnvSlotLockTTL           = "SLOT_LOCK_TTL"
	EnvLockWaitTimeout       = "LOCK_WAIT_TIMEOUT"
	EnvTransactionTimeout    = "TRANSACTION_TIMEOUT"
	EnvSuggestionLimit       = "SUGGESTION_LIMIT"
	EnvSuggestionHorizonDays = "SUGGESTION_HORIZON_DAYS"
	EnvSlotStepMin           = "SLOT_STEP_MIN"

	EnvDefaultStartOfDay = "DEFAULT_START_OF_DAY"
	EnvDefaultEndOfDay   = "DEFAULT_END_OF_DAY"
	EnvDefaultBreakStart = "DEFAULT_BREAK_START"
	EnvDefaultBreakEnd   = "DEFAULT_BREAK_END"

	EnvEventBufferSize = "EVENT_BUFFER_SIZE"
	EnvKafkaEnabled    = "KAFKA_ENABLED"
)
