package release

import (
	"strings"
	"time"
)

// Descriptor is the normalized form of the latest release of a repository.
type Descriptor struct {
	Tag         string `json:"tag"`
	Version     string `json:"version"`
	Notes       string `json:"notes"`
	PublishedAt string `json:"published_at"`
	AssetURL    string `json:"asset_url"`
	HTMLURL     string `json:"html_url,omitempty"`
}

// NormalizeVersion strips a leading "v" or "V" from a release tag.
func NormalizeVersion(tag string) string {
	tag = strings.TrimSpace(tag)
	if len(tag) > 1 && (tag[0] == 'v' || tag[0] == 'V') {
		return tag[1:]
	}
	return tag
}

// Decision is the outcome of comparing the installed version with the latest release.
type Decision struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	Available      bool   `json:"update_available"`

	// Release is the descriptor the decision was computed from. It is nil when the
	// release could not be fetched.
	Release *Descriptor `json:"-"`
}

// NoUpdate returns the fail-safe decision for an installed version.
func NoUpdate(installed string) *Decision {
	return &Decision{
		CurrentVersion: installed,
		LatestVersion:  installed,
		Available:      false,
	}
}

type Icons map[string]string

// UpdateOffer is the per-plugin entry of the update registry.
type UpdateOffer struct {
	Slug        string `json:"slug"`
	Plugin      string `json:"plugin"`
	NewVersion  string `json:"new_version"`
	URL         string `json:"url"`
	Package     string `json:"package,omitempty"`
	Tested      string `json:"tested,omitempty"`
	RequiresPHP string `json:"requires_php,omitempty"`
	Icons       Icons  `json:"icons,omitempty"`
}

// UpdateTransient mirrors the shape of the host's update_plugins transient.
type UpdateTransient struct {
	LastChecked time.Time               `json:"last_checked"`
	Checked     map[string]string       `json:"checked"`
	Response    map[string]*UpdateOffer `json:"response"`
	NoUpdate    map[string]*UpdateOffer `json:"no_update"`
}

type Sections struct {
	Description  string `json:"description"`
	Changelog    string `json:"changelog"`
	Installation string `json:"installation,omitempty"`
}

// PluginInformation is the detail view shown by the host's upgrade screen.
type PluginInformation struct {
	Name             string            `json:"name"`
	Slug             string            `json:"slug"`
	Version          string            `json:"version"`
	Author           string            `json:"author"`
	Homepage         string            `json:"homepage"`
	ShortDescription string            `json:"short_description"`
	Sections         Sections          `json:"sections"`
	DownloadLink     string            `json:"download_link"`
	Requires         string            `json:"requires"`
	Tested           string            `json:"tested"`
	RequiresPHP      string            `json:"requires_php"`
	LastUpdated      string            `json:"last_updated"`
	Banners          map[string]string `json:"banners,omitempty"`
	Icons            Icons             `json:"icons,omitempty"`
}

// UpdateCheckResponse is returned by the public update-check endpoint.
type UpdateCheckResponse struct {
	Plugin         string  `json:"plugin"`
	CurrentVersion string  `json:"current_version"`
	LatestVersion  string  `json:"latest_version"`
	Available      bool    `json:"update_available"`
	DownloadURL    *string `json:"download_url"`
	ReleaseNotes   string  `json:"release_notes"`
	PublishedAt    string  `json:"published_at"`
}

// ManualCheckResponse is returned by the "check updates now" action.
type ManualCheckResponse struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	Available      bool   `json:"update_available"`
	PluginName     string `json:"plugin_name"`
	ReleaseDate    string `json:"release_date"`
	ReleaseNotes   string `json:"release_notes"`
	DownloadURL    string `json:"download_url"`
	Notice         string `json:"notice,omitempty"`
}

type NonceRequest struct {
	Action       string   `json:"action"`
	User         string   `json:"user"`
	Capabilities []string `json:"capabilities"`
}

type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}
