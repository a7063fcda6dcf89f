package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "PLUGIN_UPDATE_SERVER"

	keyServerURL        = "url"
	keyAdminAccessToken = "admin-access-token"
)

type cliConfig struct {
	ServerURL        string
	AdminAccessToken string
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".plugin-update-check", "config.yaml")
}

// loadCLIConfig resolves settings with flags over PLUGIN_UPDATE_SERVER_* environment
// variables over the config file over defaults.
func loadCLIConfig(cmd *cobra.Command) (*cliConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault(keyServerURL, defaultServerURL)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, must(cmd.Flags().GetString("config"))); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := v.BindPFlag(keyServerURL, cmd.Flag("server-url")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag(keyAdminAccessToken, cmd.Flag("admin-access-token")); err != nil {
		return nil, err
	}
	return &cliConfig{
		ServerURL:        v.GetString(keyServerURL),
		AdminAccessToken: v.GetString(keyAdminAccessToken),
	}, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
