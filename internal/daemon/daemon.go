package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	fishfish "github.com/fishfish-gg/fishfish-go"
	"github.com/fishfish-gg/fishfish-go/internal/config"
	"github.com/fishfish-gg/fishfish-go/internal/filter"
	"github.com/fishfish-gg/fishfish-go/internal/pool"
	"github.com/fishfish-gg/fishfish-go/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// Daemon wires together the realtime feed, filter pipeline, worker pool, and
// persistent mirror store.
type Daemon struct {
	cfg       *config.Config
	client    *fishfish.Client
	store     storage.Store
	pool      *pool.Pool
	filterCfg filter.Config
	feed      *fishfish.Feed
	log       zerolog.Logger
}

// New constructs a fully wired Daemon.
func New(cfg *config.Config, client *fishfish.Client, store storage.Store, log zerolog.Logger) (*Daemon, error) {
	categories := make([]fishfish.Category, 0, len(cfg.MirrorCategories))
	for _, c := range cfg.MirrorCategories {
		categories = append(categories, fishfish.Category(c))
	}
	filterCfg := filter.Config{
		MirrorCategories: categories,
		ExcludePatterns:  cfg.ExcludePatterns,
	}

	handler := makeJobHandler(store, log)
	p, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, handler, log)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		client:    client,
		store:     store,
		pool:      p,
		filterCfg: filterCfg,
		log:       log,
	}

	feed, err := client.NewFeed(fishfish.FeedConfig{
		Identity:       cfg.Identity,
		Resync:         cfg.Resync,
		ResyncInterval: cfg.ResyncInterval,
		OnEvent:        d.handleEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	d.feed = feed
	return d, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal error occurs.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Str("version", BinaryVersion).Msg("daemon started")

	g, gctx := errgroup.WithContext(ctx)

	// Start worker pool
	d.pool.Start(gctx)

	// Realtime feed
	g.Go(func() error {
		return d.feed.Run(gctx)
	})

	// Prometheus metrics server
	if d.cfg.MetricsEnabled {
		g.Go(func() error {
			return d.serveMetrics(gctx)
		})
	}

	// Health endpoints
	g.Go(func() error {
		return d.serveHealth(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	d.pool.Stop()
	return nil
}

// handleEvent runs each applied feed event through the filter pipeline and
// enqueues the surviving ones for mirroring.
func (d *Daemon) handleEvent(e fishfish.FeedEvent) {
	result := filter.Filter(e, d.filterCfg, d.log)
	if !result.Passed {
		return
	}

	job := pool.SyncJob{
		Action:     result.Action,
		Kind:       result.Kind,
		Identifier: result.Identifier,
	}
	if result.Action == "put" {
		switch result.Kind {
		case "domain":
			job.Domain = domainRecord(result.Domain)
		case "url":
			job.URL = urlRecord(result.URL)
		}
	}

	if !d.pool.Enqueue(job) {
		d.log.Warn().Str("identifier", job.Identifier).Msg("job dropped: queue full")
	}
}

// Sync performs a one-shot full mirror: both entity kinds are fetched with
// full records and written straight to the store, bypassing the pool.
func (d *Daemon) Sync(ctx context.Context) (int, error) {
	domains, err := d.client.GetAllDomains(ctx, "", true)
	if err != nil {
		return 0, fmt.Errorf("fetch domains: %w", err)
	}
	urls, err := d.client.GetAllURLs(ctx, "", true)
	if err != nil {
		return 0, fmt.Errorf("fetch urls: %w", err)
	}

	written := 0
	for i := range domains {
		res := filter.Filter(fishfish.FeedEvent{Kind: fishfish.EventDomainCreate, Domain: &domains[i]}, d.filterCfg, d.log)
		if !res.Passed {
			continue
		}
		if err := d.store.PutDomain(*domainRecord(res.Domain)); err != nil {
			return written, fmt.Errorf("put domain %s: %w", res.Identifier, err)
		}
		written++
	}
	for i := range urls {
		res := filter.Filter(fishfish.FeedEvent{Kind: fishfish.EventURLCreate, URL: &urls[i]}, d.filterCfg, d.log)
		if !res.Passed {
			continue
		}
		if err := d.store.PutURL(*urlRecord(res.URL)); err != nil {
			return written, fmt.Errorf("put url %s: %w", res.Identifier, err)
		}
		written++
	}
	return written, nil
}

// serveMetrics runs the Prometheus HTTP server.
func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	srv := &http.Server{
		Addr:    d.cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	d.log.Info().Str("addr", d.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoint. readyz pings the public API with an
// anonymous listing so readiness reflects actual upstream reachability.
func (d *Daemon) serveHealth(ctx context.Context) error {
	ping := &http.Client{Timeout: d.cfg.HTTPTimeout}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if _, err := fishfish.FetchDomainNames(pingCtx, ping, d.cfg.BaseURL, ""); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    d.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	d.log.Info().Str("addr", d.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func domainRecord(d *fishfish.Domain) *storage.DomainRecord {
	return &storage.DomainRecord{
		Name:        d.Name,
		Category:    string(d.Category),
		Description: d.Description,
		Target:      d.Target,
		Added:       d.Added.Time,
		Checked:     d.Checked.Time,
	}
}

func urlRecord(u *fishfish.URL) *storage.URLRecord {
	return &storage.URLRecord{
		URL:         u.URL,
		Category:    string(u.Category),
		Description: u.Description,
		Target:      u.Target,
		Added:       u.Added.Time,
		Checked:     u.Checked.Time,
	}
}
