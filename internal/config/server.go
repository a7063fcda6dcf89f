package config

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-github/v59/github"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	CacheBackendMemory    = "memory"
	CacheBackendFirestore = "firestore"
	CacheBackendSQLite    = "sqlite"
)

type ServerConfig struct {
	Stage            string        `envconfig:"STAGE" default:"dev"`
	ProjectID        string        `envconfig:"GOOGLE_CLOUD_PROJECT_ID" default:"plugin-update-server"`
	Port             string        `envconfig:"PORT" default:"8080"`
	BindAddress      string        `envconfig:"BIND_ADDRESS"`
	PublicURL        string        `envconfig:"PUBLIC_URL"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	GitHubToken      string        `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL     string        `envconfig:"GITHUB_API_URL"`
	UserAgent        string        `envconfig:"USER_AGENT" default:"plugin-update-server/1.0"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
	AdminAccessToken string        `envconfig:"ADMIN_ACCESS_TOKEN"`
	NonceSecret      string        `envconfig:"NONCE_SECRET"`
	NonceTTL         time.Duration `envconfig:"NONCE_TTL" default:"12h"`
	CacheBackend     string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheTTL         time.Duration `envconfig:"CACHE_TTL" default:"12h"`
	SQLitePath       string        `envconfig:"SQLITE_PATH" default:"transients.db"`
	PluginsFile      string        `envconfig:"PLUGINS_FILE"`
	MaxManualChecks  int64         `envconfig:"MAX_MANUAL_CHECKS" default:"4"`
	RefreshInterval  time.Duration `envconfig:"REFRESH_INTERVAL" default:"12h"`

	PackageMirrorBucket          string `envconfig:"PACKAGE_MIRROR_BUCKET"`
	PackageMirrorAccessKeyID     string `envconfig:"PACKAGE_MIRROR_ACCESS_KEY_ID"`
	PackageMirrorSecretAccessKey string `envconfig:"PACKAGE_MIRROR_SECRET_ACCESS_KEY"`
	CloudflareAccountID          string `envconfig:"CLOUDFLARE_ACCOUNT_ID"`
	PackageMirrorHost            string `envconfig:"PACKAGE_MIRROR_HOST"`

	DisableMetrics bool `envconfig:"DISABLE_METRICS"`
	Version        string
}

func NewServerConfigFromEnv() (*ServerConfig, error) {
	var sCfg ServerConfig
	err := envconfig.Process("", &sCfg)
	if err != nil {
		return nil, err
	}
	if err := sCfg.Validate(); err != nil {
		return nil, err
	}
	return &sCfg, nil
}

func (s *ServerConfig) Validate() error {
	switch s.CacheBackend {
	case CacheBackendMemory, CacheBackendFirestore, CacheBackendSQLite:
	default:
		return fmt.Errorf("unknown cache backend %q", s.CacheBackend)
	}
	if s.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if s.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if s.MaxManualChecks < 1 {
		return fmt.Errorf("max manual checks must be at least 1")
	}
	if s.PackageMirrorEnabled() && s.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required when the package mirror is enabled")
	}
	return nil
}

func (s *ServerConfig) GetServerAddr() string {
	return s.BindAddress + ":" + s.Port
}

func (s *ServerConfig) GetLogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (s *ServerConfig) CreateGitHubClient() (*github.Client, error) {
	httpClient := &http.Client{}
	if s.GitHubToken != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.GitHubToken}))
	}
	httpClient.Timeout = s.FetchTimeout
	ghClient := github.NewClient(httpClient)
	ghClient.UserAgent = s.UserAgent
	if s.GitHubAPIURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(s.GitHubAPIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		ghClient.BaseURL = baseURL
	}
	return ghClient, nil
}

func (s *ServerConfig) PackageMirrorEnabled() bool {
	return s.PackageMirrorBucket != ""
}

func (s *ServerConfig) r2CloudflareEndpointResolver(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
	return aws.Endpoint{
		URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.CloudflareAccountID),
	}, nil
}

func (s *ServerConfig) CreateS3Client() (*s3.Client, error) {
	staticCredentialsProvider := credentials.NewStaticCredentialsProvider(
		s.PackageMirrorAccessKeyID,
		s.PackageMirrorSecretAccessKey,
		"",
	)
	s3Cfg, err := awsConfig.LoadDefaultConfig(context.TODO(),
		awsConfig.WithRegion("auto"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(s.r2CloudflareEndpointResolver)),
		awsConfig.WithCredentialsProvider(staticCredentialsProvider),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(s3Cfg), nil
}

func (s *ServerConfig) GetBucket() *string {
	return &s.PackageMirrorBucket
}

func (s *ServerConfig) GetPublicMirrorURL(path string) string {
	pPath, err := url.JoinPath(s.PackageMirrorHost, path)
	if err != nil {
		panic(err)
	}
	return pPath
}

func (s *ServerConfig) GetPublicURL(path string) string {
	pPath, err := url.JoinPath(s.PublicURL, path)
	if err != nil {
		panic(err)
	}
	return pPath
}
