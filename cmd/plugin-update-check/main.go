package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/buenedata/plugin-update-server/internal/auth"
	"github.com/buenedata/plugin-update-server/pkg/client"
	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/charmbracelet/glamour"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

const defaultServerURL = "http://localhost:8080"

func newRootCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin-update-check",
		Short:   "Query and control a plugin update server",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("server-url", "s", "", "the plugin update server URL (default "+defaultServerURL+")")
	cmd.PersistentFlags().String("admin-access-token", "", "admin access token")
	cmd.PersistentFlags().String("config", defaultConfigPath(), "config file")
	cmd.PersistentFlags().SortFlags = false

	checkCmd := &cobra.Command{
		Use:   "check <plugin>",
		Short: "Check whether a newer release is available",
		Args:  cobra.ExactArgs(1),
		RunE:  runWith(log, runCheck),
	}
	checkCmd.Flags().StringP("plugin-version", "v", "", "the installed version (defaults to the version known to the server)")
	checkCmd.Flags().Bool("notes", false, "render the release notes")

	cmd.AddCommand(
		checkCmd,
		&cobra.Command{
			Use:   "info <plugin>",
			Short: "Show the plugin information of the latest release",
			Args:  cobra.ExactArgs(1),
			RunE:  runWith(log, runInfo),
		},
		&cobra.Command{
			Use:   "check-now <plugin>",
			Short: "Discard cached state and check GitHub immediately",
			Args:  cobra.ExactArgs(1),
			RunE:  runWith(log, runCheckNow),
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Refresh the update registry for all plugins",
			Args:  cobra.NoArgs,
			RunE:  runWith(log, runRefresh),
		},
		&cobra.Command{
			Use:   "invalidate <plugin>",
			Short: "Drop the cached release of a plugin",
			Args:  cobra.ExactArgs(1),
			RunE:  runWith(log, runInvalidate),
		},
	)
	return cmd
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if err := newRootCmd(log).Execute(); err != nil {
		log.Errorf("ERROR: %v", err)
		os.Exit(1)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

type command struct {
	log    *logrus.Logger
	client *client.Client
	config *cliConfig
	cmd    *cobra.Command
}

func (c *command) adminToken() (string, error) {
	if c.config.AdminAccessToken == "" {
		return "", errors.New("no admin access token provided")
	}
	return c.config.AdminAccessToken, nil
}

type runFunc func(ctx context.Context, c *command, args []string) error

func runWith(log *logrus.Logger, fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCLIConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(ctx, &command{
			log:    log,
			client: client.New(cfg.ServerURL),
			config: cfg,
			cmd:    cmd,
		}, args)
	}
}

func renderMarkdown(notes string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return notes
	}
	out, err := renderer.Render(notes)
	if err != nil {
		return notes
	}
	return out
}

func runCheck(ctx context.Context, c *command, args []string) error {
	res, err := c.client.UpdateCheck(ctx, args[0], must(c.cmd.Flags().GetString("plugin-version")))
	if err != nil {
		return err
	}
	if !res.Available {
		c.log.Infof("%s is up to date (%s)", res.Plugin, res.CurrentVersion)
		return nil
	}
	c.log.Infof("%s: version %s is available (installed %s)", res.Plugin, res.LatestVersion, res.CurrentVersion)
	if res.DownloadURL != nil {
		fmt.Println(*res.DownloadURL)
	}
	if must(c.cmd.Flags().GetBool("notes")) && res.ReleaseNotes != "" {
		fmt.Print(renderMarkdown(res.ReleaseNotes))
	}
	return nil
}

func runInfo(ctx context.Context, c *command, args []string) error {
	info, err := c.client.GetPluginInfo(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (last updated %s)\n", info.Name, info.Version, info.LastUpdated)
	fmt.Printf("homepage: %s\ndownload: %s\n", info.Homepage, info.DownloadLink)
	fmt.Printf("requires WordPress %s, tested up to %s, requires PHP %s\n\n", info.Requires, info.Tested, info.RequiresPHP)
	fmt.Println(info.Sections.Description)
	return nil
}

func runCheckNow(ctx context.Context, c *command, args []string) error {
	token, err := c.adminToken()
	if err != nil {
		return err
	}
	nonce, err := c.client.IssueNonce(ctx, token, &release.NonceRequest{
		Action:       auth.ActionCheckUpdates,
		User:         "plugin-update-check",
		Capabilities: []string{auth.CapManageOptions},
	})
	if err != nil {
		return fmt.Errorf("could not issue nonce: %w", err)
	}
	res, err := c.client.CheckNow(ctx, args[0], nonce.Nonce)
	if err != nil {
		return err
	}
	if res.Notice != "" {
		c.log.Info(res.Notice)
	} else {
		c.log.Infof("%s is up to date (%s)", res.PluginName, res.CurrentVersion)
	}
	if res.ReleaseNotes != "" {
		fmt.Printf("%s (%s): %s\n", res.LatestVersion, res.ReleaseDate, res.ReleaseNotes)
	}
	return nil
}

func runRefresh(ctx context.Context, c *command, _ []string) error {
	token, err := c.adminToken()
	if err != nil {
		return err
	}
	c.log.Warn("refreshing all plugins...")
	decisions, err := c.client.RefreshUpdates(ctx, token)
	if err != nil {
		return err
	}
	for slug, decision := range decisions {
		c.log.WithFields(logrus.Fields{
			"current": decision.CurrentVersion,
			"latest":  decision.LatestVersion,
		}).Infof("%s: update available=%t", slug, decision.Available)
	}
	return nil
}

func runInvalidate(ctx context.Context, c *command, args []string) error {
	token, err := c.adminToken()
	if err != nil {
		return err
	}
	if err := c.client.InvalidatePlugin(ctx, token, args[0]); err != nil {
		return err
	}
	c.log.Infof("invalidated cached release of %s", args[0])
	return nil
}
