package filter

import (
	"strings"

	fishfish "github.com/fishfish-gg/fishfish-go"
	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/rs/zerolog"
)

// Config holds the parameters for the event filter pipeline.
type Config struct {
	// Stage 2: categories to mirror (empty = all)
	MirrorCategories []fishfish.Category

	// Stage 3: identifier substrings to skip
	ExcludePatterns []string
}

// Result holds the decision after pipeline processing.
type Result struct {
	Passed     bool
	Action     string // "put" or "delete"
	Kind       string // "domain" or "url"
	Identifier string
	Domain     *fishfish.Domain
	URL        *fishfish.URL
}

// stage labels for metrics
const (
	stageKind     = "1_kind"
	stageCategory = "2_category"
	stageExclude  = "3_exclude"
	stagePartial  = "4_partial"
)

// Filter runs a feed event through the pipeline. Returns a Result with
// Passed=true if the event should be mirrored. Deletes always bypass the
// category and partial stages so that stale records are removed even when
// their category is no longer known.
func Filter(e fishfish.FeedEvent, cfg Config, log zerolog.Logger) Result {
	var (
		kind       string
		action     string
		identifier string
		category   fishfish.Category
		partial    bool
	)

	switch e.Kind {
	case fishfish.EventDomainCreate, fishfish.EventDomainUpdate:
		kind, action = "domain", "put"
		identifier, category, partial = e.Domain.Name, e.Domain.Category, e.Domain.Partial()
	case fishfish.EventDomainDelete:
		kind, action = "domain", "delete"
		identifier = e.Domain.Name
	case fishfish.EventURLCreate, fishfish.EventURLUpdate:
		kind, action = "url", "put"
		identifier, category, partial = e.URL.URL, e.URL.Category, e.URL.Partial()
	case fishfish.EventURLDelete:
		kind, action = "url", "delete"
		identifier = e.URL.URL
	default:
		metrics.EventsFiltered.WithLabelValues(stageKind, "unsupported_kind").Inc()
		log.Trace().Str("kind", string(e.Kind)).Msg("filtered: unsupported event kind")
		return Result{}
	}

	// Stage 3 runs for every action so excluded identifiers never reach
	// the store in the first place.
	for _, exc := range cfg.ExcludePatterns {
		if exc != "" && strings.Contains(identifier, exc) {
			metrics.EventsFiltered.WithLabelValues(stageExclude, "excluded_identifier").Inc()
			log.Trace().Str("identifier", identifier).Str("exclude", exc).Msg("filtered: excluded identifier")
			return Result{}
		}
	}

	if action == "put" {
		// Stage 4: records without a category carry nothing worth mirroring
		if partial {
			metrics.EventsFiltered.WithLabelValues(stagePartial, "partial_record").Inc()
			log.Trace().Str("identifier", identifier).Msg("filtered: partial record")
			return Result{}
		}

		// Stage 2: category allow-list (empty = all)
		if len(cfg.MirrorCategories) > 0 && !containsCategory(cfg.MirrorCategories, category) {
			metrics.EventsFiltered.WithLabelValues(stageCategory, "category_not_mirrored").Inc()
			log.Trace().Str("identifier", identifier).Str("category", string(category)).
				Msg("filtered: category not mirrored")
			return Result{}
		}
	}

	return Result{
		Passed:     true,
		Action:     action,
		Kind:       kind,
		Identifier: identifier,
		Domain:     e.Domain,
		URL:        e.URL,
	}
}

func containsCategory(haystack []fishfish.Category, needle fishfish.Category) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
