// Package cache holds the time-bounded store of fetched release descriptors.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buenedata/plugin-update-server/pkg/release"
)

// Store is a transient key/value store. Get reports a miss for absent and expired
// entries; Set overwrites unconditionally and restarts the TTL.
type Store interface {
	Get(ctx context.Context, key string) (*release.Descriptor, bool, error)
	Set(ctx context.Context, key string, d *release.Descriptor, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type keyPrefix string

const keyPrefixGitHubRelease keyPrefix = "github_release"

// ReleaseKey is the cache key of the latest release of owner/repo.
func ReleaseKey(owner, repo string) string {
	return fmt.Sprintf("%s/%s/%s", keyPrefixGitHubRelease, strings.ToLower(owner), strings.ToLower(repo))
}
