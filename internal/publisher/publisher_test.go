package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/buenedata/plugin-update-server/internal/cache"
	"github.com/buenedata/plugin-update-server/internal/config"
	"github.com/buenedata/plugin-update-server/internal/fetch"
	"github.com/buenedata/plugin-update-server/internal/updater"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls      int
	descriptor *release.Descriptor
	err        error
}

func (f *fakeFetcher) FetchLatest(_ context.Context, _, _ string) (*release.Descriptor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.descriptor, nil
}

var testPlugin = &config.Plugin{
	Owner:       "buenedata",
	Repo:        "bd-product-sheet-editor",
	Basename:    "bd-product-sheet-editor/bd-product-sheet-editor-pro.php",
	Version:     "1.2",
	Name:        "BD Product Sheet Editor Pro",
	Description: "Spreadsheet editor for products.",
}

func newTestPublisher(f *fakeFetcher) (*Publisher, *MemoryRegistry, cache.Store) {
	log, _ := test.NewNullLogger()
	store := cache.NewMemoryStore()
	checker := updater.NewChecker(log, f, store, time.Hour)
	registry := NewMemoryRegistry()
	return New(log, checker, registry, nil, config.Plugins{testPlugin}), registry, store
}

func newDescriptor(tag, notes string) *release.Descriptor {
	version := release.NormalizeVersion(tag)
	return &release.Descriptor{
		Tag:         tag,
		Version:     version,
		Notes:       notes,
		PublishedAt: "2024-03-01T12:00:00Z",
		AssetURL:    fetch.PackageURL("buenedata", "bd-product-sheet-editor", tag),
	}
}

func TestRefreshPublishesUpdate(t *testing.T) {
	p, registry, _ := newTestPublisher(&fakeFetcher{descriptor: newDescriptor("v2.0.0", "")})

	decision := p.Refresh(context.Background(), testPlugin)
	require.True(t, decision.Available)

	snapshot := registry.Snapshot()
	offer := snapshot.Response[testPlugin.Basename]
	require.NotNil(t, offer)
	require.Equal(t, "bd-product-sheet-editor", offer.Slug)
	require.Equal(t, "2.0.0", offer.NewVersion)
	require.Equal(t, "https://github.com/buenedata/bd-product-sheet-editor", offer.URL)
	require.Contains(t, offer.Package, "2.0.0")
	require.Equal(t, "1.2", snapshot.Checked[testPlugin.Basename])
	require.Empty(t, snapshot.NoUpdate)
	require.False(t, snapshot.LastChecked.IsZero())
}

func TestRefreshWithoutUpdate(t *testing.T) {
	p, registry, _ := newTestPublisher(&fakeFetcher{descriptor: newDescriptor("v1.2.0", "")})

	decision := p.Refresh(context.Background(), testPlugin)
	require.False(t, decision.Available)

	snapshot := registry.Snapshot()
	require.Empty(t, snapshot.Response)
	offer := snapshot.NoUpdate[testPlugin.Basename]
	require.NotNil(t, offer)
	require.Empty(t, offer.Package)
}

func TestRefreshFetchFailure(t *testing.T) {
	f := &fakeFetcher{err: &fetch.Error{Kind: fetch.KindHTTP, StatusCode: 404}}
	p, registry, _ := newTestPublisher(f)

	decisions := p.RefreshAll(context.Background())
	require.Len(t, decisions, 1)
	require.False(t, decisions["bd-product-sheet-editor"].Available)
	require.Empty(t, registry.Snapshot().Response)
	require.Equal(t, "1.2", registry.Snapshot().NoUpdate[testPlugin.Basename].NewVersion)
}

func TestRegisterWithoutDownloadURL(t *testing.T) {
	p, registry, _ := newTestPublisher(&fakeFetcher{})
	p.Register(testPlugin, &release.Decision{CurrentVersion: "1.2", LatestVersion: "2.0.0", Available: true}, "")
	require.Empty(t, registry.Snapshot().Response)
}

func TestInvalidate(t *testing.T) {
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0", "")}
	p, registry, store := newTestPublisher(f)

	p.Refresh(context.Background(), testPlugin)
	require.NoError(t, p.Invalidate(context.Background(), "buenedata", "bd-product-sheet-editor"))
	require.Empty(t, registry.Snapshot().Response)
	_, found, err := store.Get(context.Background(), cache.ReleaseKey("buenedata", "bd-product-sheet-editor"))
	require.NoError(t, err)
	require.False(t, found)

	p.Refresh(context.Background(), testPlugin)
	require.Equal(t, 2, f.calls)
}

func TestCheckNow(t *testing.T) {
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0", "")}
	p, registry, _ := newTestPublisher(f)

	p.Refresh(context.Background(), testPlugin)
	f.descriptor = newDescriptor("v2.1.0", "")
	decision, err := p.CheckNow(context.Background(), testPlugin)
	require.NoError(t, err)
	require.Equal(t, "2.1.0", decision.LatestVersion)
	require.Equal(t, "2.1.0", registry.Snapshot().Response[testPlugin.Basename].NewVersion)

	f.err = &fetch.Error{Kind: fetch.KindNetwork, Err: errors.New("connection refused")}
	decision, err = p.CheckNow(context.Background(), testPlugin)
	require.ErrorIs(t, err, fetch.ErrNetwork)
	require.False(t, decision.Available)
	require.Empty(t, registry.Snapshot().Response)
}

func TestPluginInfo(t *testing.T) {
	notes := "## What's new\n\nBulk editing of categories.\n\n- faster tables\n- <script>alert(1)</script>fixed sorting\n"
	p, _, _ := newTestPublisher(&fakeFetcher{descriptor: newDescriptor("v2.0.0", notes)})

	info, err := p.PluginInfo(context.Background(), testPlugin)
	require.NoError(t, err)
	require.Equal(t, "BD Product Sheet Editor Pro", info.Name)
	require.Equal(t, "bd-product-sheet-editor", info.Slug)
	require.Equal(t, "2.0.0", info.Version)
	require.Equal(t, "Bulk editing of categories.", info.Sections.Description)
	require.Contains(t, info.Sections.Changelog, "<h2")
	require.Contains(t, info.Sections.Changelog, "<li>faster tables</li>")
	require.NotContains(t, info.Sections.Changelog, "<script>")
	require.Equal(t, "https://github.com/buenedata/bd-product-sheet-editor/releases/download/v2.0.0/bd-product-sheet-editor.zip", info.DownloadLink)
	require.Equal(t, "2024-03-01T12:00:00Z", info.LastUpdated)
	require.Equal(t, "7.4", info.RequiresPHP)
}

func TestPluginInfoFetchFailure(t *testing.T) {
	p, _, _ := newTestPublisher(&fakeFetcher{err: &fetch.Error{Kind: fetch.KindInvalidResponse}})
	_, err := p.PluginInfo(context.Background(), testPlugin)
	require.ErrorIs(t, err, fetch.ErrInvalidResponse)
}

func TestUpdateNotice(t *testing.T) {
	require.Equal(t, "BD Product Sheet Editor Pro: version 2.0.0 is available (installed 1.2).",
		UpdateNotice(testPlugin, &release.Decision{CurrentVersion: "1.2", LatestVersion: "2.0.0", Available: true}))
	require.Empty(t, UpdateNotice(testPlugin, release.NoUpdate("1.2")))
}

func TestEvaluateDoesNotTouchRegistry(t *testing.T) {
	f := &fakeFetcher{descriptor: newDescriptor("v2.0.0", "")}
	p, registry, _ := newTestPublisher(f)

	decision, err := p.Evaluate(context.Background(), testPlugin, "2.0.0")
	require.NoError(t, err)
	require.False(t, decision.Available)

	decision, err = p.Evaluate(context.Background(), testPlugin, "")
	require.NoError(t, err)
	require.True(t, decision.Available)
	require.Equal(t, "1.2", decision.CurrentVersion)
	require.Equal(t, 1, f.calls)

	snapshot := registry.Snapshot()
	require.Empty(t, snapshot.Response)
	require.Empty(t, snapshot.NoUpdate)
}
