package kafka

import "errors"

var (
	ErrProducerClosed = errors.New("kafka producer is closed")
	ErrConsumerClosed = errors.New("kafka consumer is closed")
	ErrInvalidMessage = errors.New("invalid message")
	ErrEmptyKey       = errors.New("message key cannot be empty")
	ErrEmptyValue     = errors.New("message value cannot be empty")

	// ErrPermanentFailure marks errors that must not be retried; the
	// consumer routes them straight to the DLQ.
	ErrPermanentFailure = errors.New("permanent failure")
)

// ShouldRetry decides whether a failed message gets another attempt.
func ShouldRetry(err error, retries, maxRetries int) bool {
	if errors.Is(err, ErrPermanentFailure) {
		return false
	}
	return retries < maxRetries
}
