package sweeper

import (
	"context"
	"time"

	"clinicops/pkg/logger"
)

// ExpireFunc runs one expiry pass and reports how many holds it flipped.
// The reservation service provides it; broadcasting the expirations to
// watchers happens inside the service, not here.
type ExpireFunc func(ctx context.Context) (int64, error)

// Worker periodically flips lapsed pending holds to expired. The whole
// pass is one conditional bulk update, so running it concurrently with
// confirms and releases is safe: the status guard means whichever write
// lands first wins.
type Worker struct {
	expire   ExpireFunc
	interval time.Duration
	log      *logger.Logger
}

func NewWorker(expire ExpireFunc, interval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		expire:   expire,
		interval: interval,
		log:      log,
	}
}

// Run sweeps on the configured interval until the context ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("Hold expiry sweeper started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Hold expiry sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	count, err := w.expire(ctx)
	if err != nil {
		w.log.Error("Hold expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		w.log.Info("Expired overdue holds", "count", count)
	}
}
