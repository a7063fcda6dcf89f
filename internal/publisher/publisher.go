package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/buenedata/plugin-update-server/internal/config"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/sirupsen/logrus"
)

// Checker is the subset of updater.Checker used to publish decisions.
type Checker interface {
	Latest(ctx context.Context, owner, repo string) (*release.Descriptor, error)
	Check(ctx context.Context, owner, repo, installed string) *release.Decision
	Evaluate(ctx context.Context, owner, repo, installed string) (*release.Decision, error)
	CheckNow(ctx context.Context, owner, repo, installed string) (*release.Decision, error)
	Invalidate(ctx context.Context, owner, repo string) error
}

// PackageLocator returns the package URL handed to the host's upgrade executor.
type PackageLocator interface {
	PackageURL(p *config.Plugin, d *release.Descriptor) string
}

// ReleaseAssetLocator points at the package attached to the GitHub release.
type ReleaseAssetLocator struct{}

func (ReleaseAssetLocator) PackageURL(_ *config.Plugin, d *release.Descriptor) string {
	return d.AssetURL
}

// Meta is static plugin metadata that is not part of a release.
type Meta struct {
	Author       string
	Requires     string
	Tested       string
	RequiresPHP  string
	Installation string
	Icons        release.Icons
	Banners      map[string]string
}

var DefaultMeta = Meta{
	Author:       `<a href="https://buenedata.no">Buene Data</a>`,
	Requires:     "5.0",
	Tested:       "6.4",
	RequiresPHP:  "7.4",
	Installation: "Download and install through the WordPress admin or upload the archive manually.",
	Icons: release.Icons{
		"1x": "https://buenedata.no/wp-content/uploads/2023/11/logo-buene-data-dark.svg",
		"2x": "https://buenedata.no/wp-content/uploads/2023/11/logo-buene-data-dark.svg",
	},
	Banners: map[string]string{
		"low":  "https://buenedata.no/wp-content/uploads/2023/11/bd-banner-low.jpg",
		"high": "https://buenedata.no/wp-content/uploads/2023/11/bd-banner-high.jpg",
	},
}

// Publisher injects update decisions into the host registry. It is the only
// component that mutates host-visible update state.
type Publisher struct {
	log      *logrus.Logger
	checker  Checker
	registry Registry
	locator  PackageLocator
	plugins  config.Plugins
	meta     Meta
}

func New(log *logrus.Logger, checker Checker, registry Registry, locator PackageLocator, plugins config.Plugins) *Publisher {
	if locator == nil {
		locator = ReleaseAssetLocator{}
	}
	return &Publisher{
		log:      log,
		checker:  checker,
		registry: registry,
		locator:  locator,
		plugins:  plugins,
		meta:     DefaultMeta,
	}
}

func (p *Publisher) Plugins() config.Plugins {
	return p.plugins
}

func (p *Publisher) Registry() Registry {
	return p.registry
}

// PackageURL is the download URL for a release, or "" when there is none.
func (p *Publisher) PackageURL(plugin *config.Plugin, d *release.Descriptor) string {
	if d == nil {
		return ""
	}
	return p.locator.PackageURL(plugin, d)
}

// Release returns the latest release of the plugin's repository.
func (p *Publisher) Release(ctx context.Context, plugin *config.Plugin) (*release.Descriptor, error) {
	return p.checker.Latest(ctx, plugin.Owner, plugin.Repo)
}

// Evaluate decides for an arbitrary installed version without touching the registry.
func (p *Publisher) Evaluate(ctx context.Context, plugin *config.Plugin, installed string) (*release.Decision, error) {
	if installed == "" {
		installed = plugin.Version
	}
	return p.checker.Evaluate(ctx, plugin.Owner, plugin.Repo, installed)
}

// Register writes a decision into the registry. The package URL is only published
// when an update is available.
func (p *Publisher) Register(plugin *config.Plugin, decision *release.Decision, downloadURL string) {
	offer := &release.UpdateOffer{
		Slug:        plugin.Slug(),
		Plugin:      plugin.Basename,
		NewVersion:  decision.LatestVersion,
		URL:         plugin.Homepage(),
		Tested:      p.meta.Tested,
		RequiresPHP: p.meta.RequiresPHP,
		Icons:       p.meta.Icons,
	}
	if decision.Available && downloadURL != "" {
		offer.Package = downloadURL
		p.registry.SetUpdate(decision.CurrentVersion, offer)
		p.log.Infof("update available for %s: %s -> %s", plugin.Basename, decision.CurrentVersion, decision.LatestVersion)
		return
	}
	p.registry.SetNoUpdate(decision.CurrentVersion, offer)
}

// Refresh checks a plugin through the cache and publishes the decision.
func (p *Publisher) Refresh(ctx context.Context, plugin *config.Plugin) *release.Decision {
	decision := p.checker.Check(ctx, plugin.Owner, plugin.Repo, plugin.Version)
	p.Register(plugin, decision, p.PackageURL(plugin, decision.Release))
	return decision
}

// RefreshAll is the periodic poll over every managed plugin.
func (p *Publisher) RefreshAll(ctx context.Context) map[string]*release.Decision {
	ret := make(map[string]*release.Decision, len(p.plugins))
	for _, plugin := range p.plugins {
		if err := ctx.Err(); err != nil {
			p.log.Warnf("refresh aborted: %v", err)
			break
		}
		ret[plugin.Slug()] = p.Refresh(ctx, plugin)
	}
	return ret
}

// Invalidate drops the cached release of owner/repo and the registry entries of its
// plugins so the next automatic check fetches again.
func (p *Publisher) Invalidate(ctx context.Context, owner, repo string) error {
	for _, plugin := range p.plugins.ForRepo(owner, repo) {
		p.registry.Remove(plugin.Basename)
	}
	if err := p.checker.Invalidate(ctx, owner, repo); err != nil {
		return fmt.Errorf("failed to invalidate %s/%s: %w", owner, repo, err)
	}
	return nil
}

// CheckNow runs a manual check: the stale state is invalidated, the release fetched
// and, on success, the fresh decision published. The fetch error is returned to
// the caller.
func (p *Publisher) CheckNow(ctx context.Context, plugin *config.Plugin) (*release.Decision, error) {
	if err := p.Invalidate(ctx, plugin.Owner, plugin.Repo); err != nil {
		p.log.Warn(err)
	}
	decision, err := p.checker.CheckNow(ctx, plugin.Owner, plugin.Repo, plugin.Version)
	if err != nil {
		return decision, err
	}
	p.Register(plugin, decision, p.PackageURL(plugin, decision.Release))
	return decision, nil
}

// PluginInfo builds the plugin information view from the latest release.
func (p *Publisher) PluginInfo(ctx context.Context, plugin *config.Plugin) (*release.PluginInformation, error) {
	d, err := p.checker.Latest(ctx, plugin.Owner, plugin.Repo)
	if err != nil {
		return nil, err
	}
	description := ExtractDescription(d.Notes, plugin.Description)
	lastUpdated := d.PublishedAt
	if lastUpdated == "" {
		lastUpdated = time.Now().UTC().Format("2006-01-02")
	}
	return &release.PluginInformation{
		Name:             plugin.Name,
		Slug:             plugin.Slug(),
		Version:          d.Version,
		Author:           p.meta.Author,
		Homepage:         plugin.Homepage(),
		ShortDescription: plugin.Description,
		Sections: release.Sections{
			Description:  description,
			Changelog:    RenderChangelog(d.Notes),
			Installation: p.meta.Installation,
		},
		DownloadLink: p.PackageURL(plugin, d),
		Requires:     p.meta.Requires,
		Tested:       p.meta.Tested,
		RequiresPHP:  p.meta.RequiresPHP,
		LastUpdated:  lastUpdated,
		Banners:      p.meta.Banners,
		Icons:        p.meta.Icons,
	}, nil
}

// UpdateNotice is the banner text for an available update.
func UpdateNotice(plugin *config.Plugin, decision *release.Decision) string {
	if !decision.Available {
		return ""
	}
	return fmt.Sprintf("%s: version %s is available (installed %s).", plugin.Name, decision.LatestVersion, decision.CurrentVersion)
}
