package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/google/go-github/v59/github"
)

// Fetcher resolves the latest published release of a GitHub repository. It issues a
// single request per call and does not cache.
type Fetcher struct {
	ghClient *github.Client
}

func NewFetcher(ghClient *github.Client) *Fetcher {
	return &Fetcher{ghClient: ghClient}
}

// PackageURL is the conventional download location of the plugin archive attached to the
// release tagged tag.
func PackageURL(owner, repo, tag string) string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s.zip", owner, repo, tag, repo)
}

func packageAssetURL(owner, repo, tag string, assets []*github.ReleaseAsset) string {
	for _, asset := range assets {
		if strings.EqualFold(asset.GetName(), repo+".zip") && asset.GetBrowserDownloadURL() != "" {
			return asset.GetBrowserDownloadURL()
		}
	}
	return PackageURL(owner, repo, tag)
}

func classify(owner, repo string, resp *github.Response, err error) *Error {
	fErr := &Error{Owner: owner, Repo: repo, Err: err}
	switch {
	case resp != nil && resp.Response != nil && resp.StatusCode != http.StatusOK:
		fErr.Kind = KindHTTP
		fErr.StatusCode = resp.StatusCode
	case resp != nil && resp.Response != nil:
		// 200 but the body could not be decoded
		fErr.Kind = KindInvalidResponse
	default:
		fErr.Kind = KindNetwork
	}
	return fErr
}

func (f *Fetcher) FetchLatest(ctx context.Context, owner, repo string) (*release.Descriptor, error) {
	if owner == "" || repo == "" {
		return nil, ErrInvalidRepository
	}
	ghRelease, resp, err := f.ghClient.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return nil, classify(owner, repo, resp, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindHTTP, Owner: owner, Repo: repo, StatusCode: resp.StatusCode}
	}
	if ghRelease == nil || strings.TrimSpace(ghRelease.GetTagName()) == "" {
		return nil, &Error{Kind: KindInvalidResponse, Owner: owner, Repo: repo, Err: fmt.Errorf("tag_name is missing")}
	}

	tag := strings.TrimSpace(ghRelease.GetTagName())
	version := release.NormalizeVersion(tag)
	publishedAt := ""
	if ghRelease.PublishedAt != nil {
		publishedAt = ghRelease.GetPublishedAt().UTC().Format("2006-01-02T15:04:05Z")
	}
	return &release.Descriptor{
		Tag:         tag,
		Version:     version,
		Notes:       ghRelease.GetBody(),
		PublishedAt: publishedAt,
		AssetURL:    packageAssetURL(owner, repo, tag, ghRelease.Assets),
		HTMLURL:     ghRelease.GetHTMLURL(),
	}, nil
}
