package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/buenedata/plugin-update-server/internal/config"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const downloadTimeout = 5 * time.Minute

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = downloadTimeout
	})
	return defaultRetryableClient
}

// Mirror copies plugin packages from GitHub into an S3 compatible bucket (Cloudflare R2)
// and serves them from there.
type Mirror struct {
	log     *logrus.Logger
	storage *s3.Client
	config  *config.ServerConfig
}

func New(log *logrus.Logger, storage *s3.Client, cfg *config.ServerConfig) *Mirror {
	return &Mirror{
		log:     log,
		storage: storage,
		config:  cfg,
	}
}

func ObjectKey(p *config.Plugin, version string) string {
	return path.Join("packages", p.Slug(), version, p.Repo+".zip")
}

// PackageURL points the host at the package endpoint of this service, which mirrors the
// archive on first use. The path carries the release tag so the source archive can be located.
func (m *Mirror) PackageURL(p *config.Plugin, d *release.Descriptor) string {
	ref := d.Tag
	if ref == "" {
		ref = d.Version
	}
	return m.config.GetPublicURL(path.Join("api/v1/plugins", p.Slug(), "packages", ref))
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// Ensure returns the public URL of the mirrored package, uploading it from sourceURL if
// the bucket does not have it yet.
func (m *Mirror) Ensure(ctx context.Context, p *config.Plugin, version, sourceURL string) (string, error) {
	key := ObjectKey(p, version)
	publicURL := m.config.GetPublicMirrorURL(key)

	_, err := m.storage.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: m.config.GetBucket(),
		Key:    &key,
	})
	if err == nil {
		m.log.Debugf("found mirrored package %s", key)
		return publicURL, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("could not check if package %s exists: %w", key, err)
	}

	m.log.Infof("package %s not mirrored yet, downloading %s", key, sourceURL)
	fileName, checksum, err := m.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(fileName); rmErr != nil {
			m.log.Errorf("could not remove package file: %v", rmErr)
		}
	}()

	pkgFile, err := os.Open(fileName)
	if err != nil {
		return "", fmt.Errorf("could not open package file: %w", err)
	}
	defer pkgFile.Close()

	_, err = m.storage.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      m.config.GetBucket(),
		Key:         &key,
		Body:        pkgFile,
		ContentType: aws.String("application/zip"),
		Metadata: map[string]string{
			"checksum": checksum,
		},
	})
	if err != nil {
		return "", fmt.Errorf("could not upload package %s: %w", key, err)
	}
	m.log.Infof("uploaded package %s", key)
	return publicURL, nil
}

func (m *Mirror) download(ctx context.Context, url string) (string, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	resp, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	pkgFile, err := os.CreateTemp("", "plugin-package-*.zip")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer pkgFile.Close()

	checksumHash := sha256.New()
	n, err := io.Copy(io.MultiWriter(pkgFile, checksumHash), resp.Body)
	if err != nil {
		_ = os.Remove(pkgFile.Name())
		return "", "", fmt.Errorf("failed to write package file: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = os.Remove(pkgFile.Name())
		return "", "", fmt.Errorf("unexpected content length: %d (should be %d)", n, resp.ContentLength)
	}
	return pkgFile.Name(), hex.EncodeToString(checksumHash.Sum(nil)), nil
}
