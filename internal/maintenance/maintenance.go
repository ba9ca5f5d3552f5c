package maintenance

import (
	"context"
	"time"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/fishfish-gg/fishfish-go/internal/pool"
	"github.com/fishfish-gg/fishfish-go/internal/storage"
	"github.com/rs/zerolog"
)

// Janitor performs periodic housekeeping: refreshing record and database
// gauges from the store.
type Janitor struct {
	store      storage.Store
	workerPool *pool.Pool
	interval   time.Duration
	log        zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(store storage.Store, workerPool *pool.Pool, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:      store,
		workerPool: workerPool,
		interval:   interval,
		log:        log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	domains, urls, err := j.store.Counts()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read record counts failed")
	} else {
		metrics.MirroredRecords.WithLabelValues("domain").Set(float64(domains))
		metrics.MirroredRecords.WithLabelValues("url").Set(float64(urls))
	}

	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	if j.workerPool != nil {
		metrics.WorkerQueueDepth.Set(float64(j.workerPool.Depth()))
	}

	j.log.Debug().Int("domains", domains).Int("urls", urls).Msg("janitor: tick complete")
}
