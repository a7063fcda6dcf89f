package updater

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/buenedata/plugin-update-server/internal/cache"
	"github.com/buenedata/plugin-update-server/internal/fetch"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/google/go-github/v59/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls      int
	descriptor *release.Descriptor
	err        error
}

func (f *fakeFetcher) FetchLatest(_ context.Context, owner, repo string) (*release.Descriptor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.descriptor, nil
}

func newDescriptor(tag string) *release.Descriptor {
	version := release.NormalizeVersion(tag)
	return &release.Descriptor{
		Tag:      tag,
		Version:  version,
		AssetURL: fetch.PackageURL("owner", "repo", tag),
	}
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func TestCheckUpdateAvailable(t *testing.T) {
	log, _ := newTestLogger()
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0")}
	c := NewChecker(log, f, cache.NewMemoryStore(), time.Hour)

	d := c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, "1.2", d.CurrentVersion)
	require.Equal(t, "2.0.0", d.LatestVersion)
	require.True(t, d.Available)
	require.Contains(t, d.Release.AssetURL, "2.0.0")
}

func TestCheckNoUpdate(t *testing.T) {
	log, _ := newTestLogger()
	for _, installed := range []string{"2.0.0", "2.0", "2.1.0"} {
		f := &fakeFetcher{descriptor: newDescriptor("v2.0.0")}
		c := NewChecker(log, f, cache.NewMemoryStore(), time.Hour)
		d := c.Check(context.Background(), "owner", "repo", installed)
		require.False(t, d.Available, installed)
		require.Equal(t, "2.0.0", d.LatestVersion)
	}
}

func TestCheckUsesCache(t *testing.T) {
	log, _ := newTestLogger()
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0")}
	c := NewChecker(log, f, cache.NewMemoryStore(), time.Hour)

	c.Check(context.Background(), "owner", "repo", "1.2")
	c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, 1, f.calls)

	require.NoError(t, c.Invalidate(context.Background(), "owner", "repo"))
	c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, 2, f.calls)
}

func TestCheckRefetchesAfterTTL(t *testing.T) {
	log, _ := newTestLogger()
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0")}
	c := NewChecker(log, f, cache.NewMemoryStore(), 50*time.Millisecond)

	c.Check(context.Background(), "owner", "repo", "1.2")
	time.Sleep(100 * time.Millisecond)
	c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, 2, f.calls)
}

func TestCheckFetchFailureFailsSafe(t *testing.T) {
	log, hook := newTestLogger()
	f := &fakeFetcher{err: &fetch.Error{Kind: fetch.KindNetwork, Owner: "owner", Repo: "repo", Err: errors.New("i/o timeout")}}
	store := cache.NewMemoryStore()
	c := NewChecker(log, f, store, time.Hour)

	d := c.Check(context.Background(), "owner", "repo", "1.2")
	require.False(t, d.Available)
	require.Equal(t, "1.2", d.CurrentVersion)
	require.Equal(t, "1.2", d.LatestVersion)
	require.Nil(t, d.Release)

	// failures are not cached
	c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, 2, f.calls)
	_, found, err := store.Get(context.Background(), cache.ReleaseKey("owner", "repo"))
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	require.Equal(t, "network", hook.LastEntry().Data["kind"])
}

func TestEvaluateReturnsFetchError(t *testing.T) {
	log, _ := newTestLogger()
	f := &fakeFetcher{err: &fetch.Error{Kind: fetch.KindHTTP, StatusCode: http.StatusForbidden}}
	c := NewChecker(log, f, cache.NewMemoryStore(), time.Hour)

	d, err := c.Evaluate(context.Background(), "owner", "repo", "1.2")
	require.ErrorIs(t, err, fetch.ErrHTTP)
	require.False(t, d.Available)

	f.err = nil
	f.descriptor = newDescriptor("v1.3")
	d, err = c.Evaluate(context.Background(), "owner", "repo", "1.2")
	require.NoError(t, err)
	require.True(t, d.Available)
}

func TestCheckNow(t *testing.T) {
	log, _ := newTestLogger()
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0")}
	store := cache.NewMemoryStore()
	c := NewChecker(log, f, store, time.Hour)

	c.Check(context.Background(), "owner", "repo", "1.2")
	f.descriptor = newDescriptor("v2.1.0")
	d, err := c.CheckNow(context.Background(), "owner", "repo", "1.2")
	require.NoError(t, err)
	require.Equal(t, "2.1.0", d.LatestVersion)
	require.Equal(t, 2, f.calls)

	// the manual check refreshed the cache
	d = c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, "2.1.0", d.LatestVersion)
	require.Equal(t, 2, f.calls)

	f.err = &fetch.Error{Kind: fetch.KindHTTP, Owner: "owner", Repo: "repo", StatusCode: http.StatusForbidden}
	d, err = c.CheckNow(context.Background(), "owner", "repo", "1.2")
	require.ErrorIs(t, err, fetch.ErrHTTP)
	require.False(t, d.Available)
	require.Equal(t, "1.2", d.LatestVersion)
}

func TestCheckEndToEndNotFound(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesLatestByOwnerByRepo,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				mock.WriteError(w, http.StatusNotFound, "Not Found")
			}),
		),
	)
	log, hook := newTestLogger()
	c := NewChecker(log, fetch.NewFetcher(github.NewClient(mockedHTTPClient)), cache.NewMemoryStore(), time.Hour)

	d := c.Check(context.Background(), "owner", "repo", "1.2")
	require.False(t, d.Available)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "http", entry.Data["kind"])
	require.Equal(t, http.StatusNotFound, entry.Data["status"])
}

func TestCheckEndToEndUpdate(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			&github.RepositoryRelease{TagName: github.String("v2.0.0")},
		),
	)
	log, _ := newTestLogger()
	c := NewChecker(log, fetch.NewFetcher(github.NewClient(mockedHTTPClient)), cache.NewMemoryStore(), time.Hour)

	d := c.Check(context.Background(), "owner", "repo", "1.2")
	require.Equal(t, &release.Decision{
		CurrentVersion: "1.2",
		LatestVersion:  "2.0.0",
		Available:      true,
		Release:        d.Release,
	}, d)
	require.Contains(t, d.Release.AssetURL, "2.0.0")
}
