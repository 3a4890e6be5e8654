// Package main is the entry point for the media fetcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"media-fetch-go/internal/app"
	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/logging"
)

var (
	configPath string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "media-fetch",
		Short: "Download media from a page URL",
		Long: `media-fetch resolves a page URL on a supported site (or any site yt-dlp
understands) into a media file on disk. It runs one-off downloads or serves
the URL import API.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gpuCmd)
	rootCmd.AddCommand(extractorsCmd)
}

// setup loads configuration and builds the application container.
func setup() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, os.Stderr)
	return app.New(cfg, log), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
