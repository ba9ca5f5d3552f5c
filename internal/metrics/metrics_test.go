package metrics_test

import (
	"strings"
	"testing"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricCollectorsNonNil verifies all package-level metric variables
// are non-nil and pass Prometheus linting rules.
func TestMetricCollectorsNonNil(t *testing.T) {
	tests := []struct {
		name string
		c    prometheus.Collector
	}{
		{"APICalls", metrics.APICalls},
		{"APIDuration", metrics.APIDuration},
		{"TokenExchanges", metrics.TokenExchanges},
		{"FeedConnected", metrics.FeedConnected},
		{"FeedReconnects", metrics.FeedReconnects},
		{"FeedEvents", metrics.FeedEvents},
		{"FeedEventsDropped", metrics.FeedEventsDropped},
		{"ResyncDuration", metrics.ResyncDuration},
		{"EventsFiltered", metrics.EventsFiltered},
		{"JobsEnqueued", metrics.JobsEnqueued},
		{"JobsDropped", metrics.JobsDropped},
		{"JobsProcessed", metrics.JobsProcessed},
		{"WorkerQueueDepth", metrics.WorkerQueueDepth},
		{"MirroredRecords", metrics.MirroredRecords},
		{"DBSizeBytes", metrics.DBSizeBytes},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.c == nil {
				t.Fatal("collector is nil")
			}
			lintErrs, err := testutil.CollectAndLint(tc.c)
			if err != nil {
				t.Errorf("CollectAndLint gather error: %v", err)
			}
			if len(lintErrs) > 0 {
				t.Errorf("prometheus lint errors: %v", lintErrs)
			}
		})
	}
}

// TestMetricNamesAndHelp verifies all expected metrics are registered under the
// fishfish_ namespace and have non-empty help strings.
// Uses Describe() rather than Gather() so Vec metrics with no observations
// are checked correctly.
func TestMetricNamesAndHelp(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"fishfish_api_calls_total", metrics.APICalls},
		{"fishfish_api_duration_seconds", metrics.APIDuration},
		{"fishfish_token_exchanges_total", metrics.TokenExchanges},
		{"fishfish_feed_connected", metrics.FeedConnected},
		{"fishfish_feed_reconnects_total", metrics.FeedReconnects},
		{"fishfish_feed_events_total", metrics.FeedEvents},
		{"fishfish_feed_events_dropped_total", metrics.FeedEventsDropped},
		{"fishfish_resync_duration_seconds", metrics.ResyncDuration},
		{"fishfish_events_filtered_total", metrics.EventsFiltered},
		{"fishfish_jobs_enqueued_total", metrics.JobsEnqueued},
		{"fishfish_jobs_dropped_total", metrics.JobsDropped},
		{"fishfish_jobs_processed_total", metrics.JobsProcessed},
		{"fishfish_worker_queue_depth", metrics.WorkerQueueDepth},
		{"fishfish_mirrored_records", metrics.MirroredRecords},
		{"fishfish_db_size_bytes", metrics.DBSizeBytes},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 32)
			go func() {
				tc.c.Describe(ch)
				close(ch)
			}()

			found := false
			for d := range ch {
				s := d.String()
				// Desc.String() format:
				//   Desc{fqName: "fishfish_foo", help: "Some help.", ...}
				if strings.Contains(s, tc.name) {
					found = true
					if strings.Contains(s, `help: ""`) {
						t.Errorf("descriptor for %s has an empty help string", tc.name)
					}
				}
			}
			if !found {
				t.Errorf("no descriptor containing %q returned by Describe()", tc.name)
			}
		})
	}
}
