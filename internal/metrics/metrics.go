package metrics

import (
	"fmt"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/buenedata/plugin-update-server/internal/config"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterUpdateChecks = stats.Int64("update_checks", "Number of update checks", "1")
	CounterFetchErrors  = stats.Int64("fetch_errors", "Number of failed release fetches", "1")
	CounterCacheHit     = stats.Int64("cache_hits", "Number of cache hits", "1")
	CounterCacheMiss    = stats.Int64("cache_misses", "Number of cache misses", "1")

	TagCacheKey    = tag.MustNewKey("cache_key")
	TagCheckResult = tag.MustNewKey("check_result")
	TagErrorKind   = tag.MustNewKey("error_kind")
)

var views = []*view.View{
	{
		Name:        "update_checks",
		Measure:     CounterUpdateChecks,
		Description: "Number of update checks",
		TagKeys:     []tag.Key{TagCheckResult},
		Aggregation: view.Count(),
	},
	{
		Name:        "fetch_errors",
		Measure:     CounterFetchErrors,
		Description: "Number of failed release fetches",
		TagKeys:     []tag.Key{TagErrorKind},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_hits",
		Measure:     CounterCacheHit,
		Description: "Number of cache hits",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_misses",
		Measure:     CounterCacheMiss,
		Description: "Number of cache misses",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
}

func NewExporter(cfg *config.ServerConfig) (*stackdriver.Exporter, error) {
	err := view.Register(views...)
	if err != nil {
		return nil, err
	}
	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.ProjectID,
		MetricPrefix: fmt.Sprintf("plugin-update-server/%s", cfg.Stage),
	})
	if err != nil {
		return nil, err
	}
	err = exporter.StartMetricsExporter()
	if err != nil {
		return nil, err
	}
	return exporter, nil
}
