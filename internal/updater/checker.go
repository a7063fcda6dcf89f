package updater

import (
	"context"
	"errors"
	"time"

	"github.com/buenedata/plugin-update-server/internal/cache"
	"github.com/buenedata/plugin-update-server/internal/fetch"
	"github.com/buenedata/plugin-update-server/internal/metrics"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// ReleaseFetcher resolves the latest release of a repository.
type ReleaseFetcher interface {
	FetchLatest(ctx context.Context, owner, repo string) (*release.Descriptor, error)
}

const (
	checkResultAvailable = "available"
	checkResultNoUpdate  = "no_update"
	checkResultFailed    = "failed"
)

// Checker decides whether a newer release is available. It is the only layer that
// caches release descriptors.
type Checker struct {
	log     *logrus.Logger
	fetcher ReleaseFetcher
	store   cache.Store
	ttl     time.Duration
}

func NewChecker(log *logrus.Logger, fetcher ReleaseFetcher, store cache.Store, ttl time.Duration) *Checker {
	return &Checker{
		log:     log,
		fetcher: fetcher,
		store:   store,
		ttl:     ttl,
	}
}

func (c *Checker) repoLogger(owner, repo string) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{
		"owner": owner,
		"repo":  repo,
	})
}

func (c *Checker) getFromCache(ctx context.Context, key string) (*release.Descriptor, bool) {
	d, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithField("cache_key", key).Warnf("could not read cache: %v", err)
		return nil, false
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagCacheKey, key))
	if ok {
		stats.Record(ctx, metrics.CounterCacheHit.M(1))
	} else {
		stats.Record(ctx, metrics.CounterCacheMiss.M(1))
	}
	return d, ok
}

func (c *Checker) setInCache(ctx context.Context, key string, d *release.Descriptor) {
	if err := c.store.Set(ctx, key, d, c.ttl); err != nil {
		c.log.WithField("cache_key", key).Warnf("could not write cache: %v", err)
	}
}

func (c *Checker) fetch(ctx context.Context, owner, repo string) (*release.Descriptor, error) {
	d, err := c.fetcher.FetchLatest(ctx, owner, repo)
	if err != nil {
		entry := c.repoLogger(owner, repo)
		var fErr *fetch.Error
		if errors.As(err, &fErr) {
			entry = entry.WithFields(logrus.Fields{
				"kind":   fErr.Kind.String(),
				"status": fErr.StatusCode,
			})
			kCtx, _ := tag.New(ctx, tag.Upsert(metrics.TagErrorKind, fErr.Kind.String()))
			stats.Record(kCtx, metrics.CounterFetchErrors.M(1))
		}
		entry.Errorf("could not fetch latest release: %v", err)
		return nil, err
	}
	// only successful fetches are cached
	c.setInCache(ctx, cache.ReleaseKey(owner, repo), d)
	return d, nil
}

func (c *Checker) decide(ctx context.Context, owner, repo, installed string, d *release.Descriptor) *release.Decision {
	available, err := IsNewer(installed, d.Version)
	if err != nil {
		c.repoLogger(owner, repo).Debugf("falling back to lexicographic version comparison: %v", err)
	}
	result := checkResultNoUpdate
	if available {
		result = checkResultAvailable
	}
	recordCheck(ctx, result)
	return &release.Decision{
		CurrentVersion: installed,
		LatestVersion:  d.Version,
		Available:      available,
		Release:        d,
	}
}

func recordCheck(ctx context.Context, result string) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagCheckResult, result))
	stats.Record(ctx, metrics.CounterUpdateChecks.M(1))
}

// Latest returns the cached descriptor of owner/repo, fetching it on a miss.
func (c *Checker) Latest(ctx context.Context, owner, repo string) (*release.Descriptor, error) {
	if d, ok := c.getFromCache(ctx, cache.ReleaseKey(owner, repo)); ok {
		return d, nil
	}
	return c.fetch(ctx, owner, repo)
}

// Check compares installed with the latest release of owner/repo. Fetch failures are
// logged and yield a decision without an update.
func (c *Checker) Check(ctx context.Context, owner, repo, installed string) *release.Decision {
	decision, _ := c.Evaluate(ctx, owner, repo, installed)
	return decision
}

// Evaluate is Check with the fetch error returned to the caller.
func (c *Checker) Evaluate(ctx context.Context, owner, repo, installed string) (*release.Decision, error) {
	d, err := c.Latest(ctx, owner, repo)
	if err != nil {
		recordCheck(ctx, checkResultFailed)
		return release.NoUpdate(installed), err
	}
	return c.decide(ctx, owner, repo, installed, d), nil
}

// CheckNow skips the cache read, fetches the latest release and refreshes the cache.
// The returned decision is always usable; on failure it carries no update and the
// fetch error is returned as well.
func (c *Checker) CheckNow(ctx context.Context, owner, repo, installed string) (*release.Decision, error) {
	d, err := c.fetch(ctx, owner, repo)
	if err != nil {
		recordCheck(ctx, checkResultFailed)
		return release.NoUpdate(installed), err
	}
	return c.decide(ctx, owner, repo, installed, d), nil
}

// Invalidate drops the cached descriptor of owner/repo.
func (c *Checker) Invalidate(ctx context.Context, owner, repo string) error {
	return c.store.Delete(ctx, cache.ReleaseKey(owner, repo))
}
