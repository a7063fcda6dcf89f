package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/buenedata/plugin-update-server/internal/cache"
	"github.com/buenedata/plugin-update-server/internal/config"
	"github.com/buenedata/plugin-update-server/internal/fetch"
	"github.com/buenedata/plugin-update-server/internal/metrics"
	"github.com/buenedata/plugin-update-server/internal/mirror"
	"github.com/buenedata/plugin-update-server/internal/publisher"
	"github.com/buenedata/plugin-update-server/internal/server"
	"github.com/buenedata/plugin-update-server/internal/updater"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

// setupStore returns the configured cache backend and a function releasing it.
func setupStore(ctx context.Context, log *logrus.Logger, cfg *config.ServerConfig) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendFirestore:
		log.Println("connecting to firestore...")
		db, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewFirestoreStore(db, cfg.Stage), func() {
			log.Println("closing firestore...")
			if err := db.Close(); err != nil {
				log.Error(err)
			}
		}, nil
	case config.CacheBackendSQLite:
		log.Printf("opening sqlite database %s...", cfg.SQLitePath)
		store, err := cache.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			log.Println("closing sqlite database...")
			if err := store.Close(); err != nil {
				log.Error(err)
			}
		}, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}
}

func setupMirror(log *logrus.Logger, cfg *config.ServerConfig) (server.PackageMirror, publisher.PackageLocator, error) {
	if !cfg.PackageMirrorEnabled() {
		return nil, nil, nil
	}
	log.Printf("setting up package mirror (bucket=%s)...", cfg.PackageMirrorBucket)
	s3Client, err := cfg.CreateS3Client()
	if err != nil {
		return nil, nil, err
	}
	m := mirror.New(log, s3Client, cfg)
	return m, m, nil
}

type registryRefresher interface {
	RefreshAll(ctx context.Context) map[string]*release.Decision
}

// startPoller runs pollUpdates in the background. The returned function blocks until the
// poller has returned, so callers can release the cache store afterwards.
func startPoller(ctx context.Context, log *logrus.Logger, pub registryRefresher, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		pollUpdates(ctx, log, pub, interval)
	}()
	return func() { <-done }
}

// pollUpdates refreshes the update registry on startup and then every interval.
func pollUpdates(ctx context.Context, log *logrus.Logger, pub registryRefresher, interval time.Duration) {
	pub.RefreshAll(ctx)
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("refreshing update registry...")
			pub.RefreshAll(ctx)
		}
	}
}

func run(log *logrus.Logger) error {
	cfg, err := config.NewServerConfigFromEnv()
	if err != nil {
		return err
	}
	cfg.Version = version
	log.SetLevel(cfg.GetLogLevel())

	plugins, err := config.LoadPlugins(cfg.PluginsFile)
	if err != nil {
		return err
	}
	log.Printf("managing %d plugin(s)", len(plugins))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.DisableMetrics {
		log.Println("setting up metrics exporter...")
		exporter, expErr := metrics.NewExporter(cfg)
		if expErr != nil {
			return expErr
		}
		defer func() {
			exporter.Flush()
			exporter.StopMetricsExporter()
		}()
	}

	log.Println("setting up GitHub client...")
	ghClient, err := cfg.CreateGitHubClient()
	if err != nil {
		return err
	}

	store, closeStore, err := setupStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pkgMirror, locator, err := setupMirror(log, cfg)
	if err != nil {
		return err
	}

	checker := updater.NewChecker(log, fetch.NewFetcher(ghClient), store, cfg.CacheTTL)
	pub := publisher.New(log, checker, publisher.NewMemoryRegistry(), locator, plugins)
	// registered after closeStore so the store outlives the last refresh
	defer startPoller(ctx, log, pub, cfg.RefreshInterval)()

	log.Println("starting server...")
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           server.New(log, pub, pkgMirror, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	<-ctx.Done()
	stop()

	log.Println("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func main() {
	log := setupLogger()
	if err := run(log); err != nil {
		log.Fatal(err)
	}
}
