package daemon

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/fishfish-gg/fishfish-go/internal/pool"
	"github.com/fishfish-gg/fishfish-go/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// makeJobHandler returns a JobHandler that applies mirror writes to the store.
// Put is last-write-wins; delete of an absent record is dropped rather than
// retried, the remote delete already happened.
func makeJobHandler(store storage.Store, log zerolog.Logger) pool.JobHandler {
	return func(ctx context.Context, job pool.SyncJob) error {
		switch job.Action {
		case "put":
			switch job.Kind {
			case "domain":
				if job.Domain == nil {
					metrics.JobsDropped.WithLabelValues("missing_record").Inc()
					return nil
				}
				if err := store.PutDomain(*job.Domain); err != nil {
					return fmt.Errorf("put domain %s: %w", job.Identifier, err)
				}
			case "url":
				if job.URL == nil {
					metrics.JobsDropped.WithLabelValues("missing_record").Inc()
					return nil
				}
				if err := store.PutURL(*job.URL); err != nil {
					return fmt.Errorf("put url %s: %w", job.Identifier, err)
				}
			}

		case "delete":
			switch job.Kind {
			case "domain":
				rec, err := store.GetDomain(job.Identifier)
				if err != nil {
					return fmt.Errorf("get domain %s: %w", job.Identifier, err)
				}
				if rec == nil {
					metrics.JobsDropped.WithLabelValues("not_found").Inc()
					log.Debug().Str("identifier", job.Identifier).Msg("skipping: not mirrored")
					return nil
				}
				if err := store.DeleteDomain(job.Identifier); err != nil {
					return fmt.Errorf("delete domain %s: %w", job.Identifier, err)
				}
			case "url":
				rec, err := store.GetURL(job.Identifier)
				if err != nil {
					return fmt.Errorf("get url %s: %w", job.Identifier, err)
				}
				if rec == nil {
					metrics.JobsDropped.WithLabelValues("not_found").Inc()
					log.Debug().Str("identifier", job.Identifier).Msg("skipping: not mirrored")
					return nil
				}
				if err := store.DeleteURL(job.Identifier); err != nil {
					return fmt.Errorf("delete url %s: %w", job.Identifier, err)
				}
			}

		default:
			metrics.JobsDropped.WithLabelValues("unknown_action").Inc()
			log.Warn().Str("action", job.Action).Msg("skipping: unknown job action")
			return nil
		}

		log.Info().Str("action", job.Action).Str("kind", job.Kind).
			Str("identifier", job.Identifier).Msg("job applied")
		return nil
	}
}

// metricsHandler returns the Prometheus HTTP handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
