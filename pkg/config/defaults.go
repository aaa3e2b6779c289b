package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "clinicops"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultRedisAddr = "" // empty disables the cross-instance relay
	DefaultRedisDB   = 0

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 << 20

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultHoldTTL               = 5 * time.Minute
	DefaultSweepInterval         = time.Minute
	DefaultSlotLockTTL           = 10 * time.Second
	DefaultLockWaitTimeout       = 5 * time.Second
	DefaultTransactionTimeout    = 10 * time.Second
	DefaultSuggestionLimit       = 5
	DefaultSuggestionHorizonDays = 3
	DefaultSlotStepMin           = 15

	DefaultDefaultStartOfDay = "09:00"
	DefaultDefaultEndOfDay   = "18:00"
	DefaultDefaultBreakStart = "13:00"
	DefaultDefaultBreakEnd   = "14:00"

	DefaultEventBufferSize = 256
	DefaultKafkaEnabled    = false

	DefaultPaginationLimit = 50
	MaxPaginationLimit     = 200
)

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		return DefaultPaginationLimit
	}
	if limit > MaxPaginationLimit {
		return MaxPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	if offset < 0 {
		return 0
	}
	return offset
}
