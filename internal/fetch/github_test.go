package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/stretchr/testify/require"
)

func newTestServerClient(t *testing.T, handler http.HandlerFunc) *github.Client {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	ghClient := github.NewClient(&http.Client{Timeout: time.Second})
	baseURL, err := url.Parse(ts.URL + "/")
	require.NoError(t, err)
	ghClient.BaseURL = baseURL
	ghClient.UserAgent = "plugin-update-server/1.0"
	return ghClient
}

func TestFetchLatest(t *testing.T) {
	publishedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			&github.RepositoryRelease{
				TagName:     github.String("v2.0.0"),
				Body:        github.String("## Changes\n\nFaster tables."),
				PublishedAt: &github.Timestamp{Time: publishedAt},
				HTMLURL:     github.String("https://github.com/owner/repo/releases/tag/v2.0.0"),
			},
		),
	)
	f := NewFetcher(github.NewClient(mockedHTTPClient))
	d, err := f.FetchLatest(context.Background(), "owner", "repo")
	require.NoError(t, err)
	require.Equal(t, "v2.0.0", d.Tag)
	require.Equal(t, "2.0.0", d.Version)
	require.Equal(t, "## Changes\n\nFaster tables.", d.Notes)
	require.Equal(t, "2024-03-01T12:00:00Z", d.PublishedAt)
	require.Equal(t, "https://github.com/owner/repo/releases/download/v2.0.0/repo.zip", d.AssetURL)
	require.Equal(t, "https://github.com/owner/repo/releases/tag/v2.0.0", d.HTMLURL)
}

func TestFetchLatestWithoutPrefix(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			&github.RepositoryRelease{
				TagName: github.String("2.0.0"),
				Assets: []*github.ReleaseAsset{
					{Name: github.String("checksums.txt"), BrowserDownloadURL: github.String("https://download.example/checksums.txt")},
					{Name: github.String("repo.zip"), BrowserDownloadURL: github.String("https://download.example/repo.zip")},
				},
			},
		),
	)
	f := NewFetcher(github.NewClient(mockedHTTPClient))
	d, err := f.FetchLatest(context.Background(), "owner", "repo")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", d.Version)
	require.Equal(t, "https://download.example/repo.zip", d.AssetURL)
	require.Empty(t, d.PublishedAt)
}

func TestFetchLatestWithoutPrefixOrAsset(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			&github.RepositoryRelease{TagName: github.String("2.0.0")},
		),
	)
	f := NewFetcher(github.NewClient(mockedHTTPClient))
	d, err := f.FetchLatest(context.Background(), "owner", "repo")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", d.Tag)
	require.Equal(t, "https://github.com/owner/repo/releases/download/2.0.0/repo.zip", d.AssetURL)
}

func TestFetchLatestHTTPError(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesLatestByOwnerByRepo,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				mock.WriteError(w, http.StatusNotFound, "Not Found")
			}),
		),
	)
	f := NewFetcher(github.NewClient(mockedHTTPClient))
	_, err := f.FetchLatest(context.Background(), "owner", "repo")
	require.ErrorIs(t, err, ErrHTTP)
	var fErr *Error
	require.True(t, errors.As(err, &fErr))
	require.Equal(t, KindHTTP, fErr.Kind)
	require.Equal(t, http.StatusNotFound, fErr.StatusCode)
	require.Equal(t, "GitHub API error: HTTP 404", fErr.Message())
}

func TestFetchLatestSendsHeaders(t *testing.T) {
	ghClient := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/repos/owner/repo/releases/latest", r.URL.Path)
		require.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		require.Equal(t, "plugin-update-server/1.0", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"tag_name": "v1.3.0"}`)
	})
	d, err := NewFetcher(ghClient).FetchLatest(context.Background(), "owner", "repo")
	require.NoError(t, err)
	require.Equal(t, "1.3.0", d.Version)
}

func TestFetchLatestInvalidResponse(t *testing.T) {
	ghClient := newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"tag_name": `)
	})
	_, err := NewFetcher(ghClient).FetchLatest(context.Background(), "owner", "repo")
	require.ErrorIs(t, err, ErrInvalidResponse)

	ghClient = newTestServerClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"name": "no tag"}`)
	})
	_, err = NewFetcher(ghClient).FetchLatest(context.Background(), "owner", "repo")
	require.ErrorIs(t, err, ErrInvalidResponse)
	require.ErrorContains(t, err, "tag_name is missing")
}

func TestFetchLatestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	ghClient := github.NewClient(&http.Client{Timeout: time.Second})
	baseURL, err := url.Parse(ts.URL + "/")
	require.NoError(t, err)
	ghClient.BaseURL = baseURL
	ts.Close()

	_, err = NewFetcher(ghClient).FetchLatest(context.Background(), "owner", "repo")
	require.ErrorIs(t, err, ErrNetwork)
	require.NotErrorIs(t, err, ErrHTTP)
}

func TestFetchLatestTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()
	ghClient := github.NewClient(&http.Client{Timeout: 50 * time.Millisecond})
	baseURL, err := url.Parse(ts.URL + "/")
	require.NoError(t, err)
	ghClient.BaseURL = baseURL

	_, err = NewFetcher(ghClient).FetchLatest(context.Background(), "owner", "repo")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestFetchLatestInvalidRepository(t *testing.T) {
	f := NewFetcher(github.NewClient(nil))
	_, err := f.FetchLatest(context.Background(), "", "repo")
	require.ErrorIs(t, err, ErrInvalidRepository)
}

func TestPackageURL(t *testing.T) {
	require.Equal(t, "https://github.com/buenedata/bd-product-sheet-editor/releases/download/v2.0.0/bd-product-sheet-editor.zip",
		PackageURL("buenedata", "bd-product-sheet-editor", "v2.0.0"))
	require.Equal(t, "https://github.com/buenedata/bd-product-sheet-editor/releases/download/2.0.0/bd-product-sheet-editor.zip",
		PackageURL("buenedata", "bd-product-sheet-editor", "2.0.0"))
}
