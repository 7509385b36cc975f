// Package cli provides the command-line interface for constellation.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thebtf/constellation/internal/config"
)

// app holds state shared by the commands of one invocation.
type app struct {
	cfg     *config.Config
	version string

	// Global flags
	configPath string
	logLevel   string
	threshold  float64
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	rootCmd := &cobra.Command{
		Use:   "constellation",
		Short: "Incremental similarity clustering for extracted prompts",
		Long: `Constellation groups extracted prompts into clusters of similar nodes.

Every node is linked to each existing node it scores at or above the
threshold against; clusters are the connected components of those links.
Exports from the extraction scripts can be analyzed offline or served
over HTTP with a live event stream for renderers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Float64VarP(&a.threshold, "threshold", "t", 0, "inclusive similarity threshold (0.0-1.0)")

	rootCmd.AddCommand(newAnalyzeCommand(a))
	rootCmd.AddCommand(newServeCommand(a))

	return rootCmd
}

// loadConfig reads settings, applies flag overrides and validates the result.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Read(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.Threshold = a.threshold
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := applyCommandFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	a.cfg = cfg
	return nil
}

// applyCommandFlags copies subcommand flags that override settings.
func applyCommandFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("sample") {
		v, err := flags.GetInt("sample")
		if err != nil {
			return err
		}
		cfg.SampleSize = v
	}
	if flags.Changed("listen") {
		v, err := flags.GetString("listen")
		if err != nil {
			return err
		}
		cfg.ListenAddr = v
	}
	if flags.Changed("collection") {
		v, err := flags.GetString("collection")
		if err != nil {
			return err
		}
		cfg.Collection = v
	}
	return nil
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}
