package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/converter"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configFile string
	logLevel   string
	verbose    bool
)

// newConverter builds the converter for a command; tests replace it.
var newConverter = converter.FromConfig

// errJobsFailed signals a non-zero exit without printing a second message.
var errJobsFailed = errors.New("one or more conversions failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := createRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		if !errors.Is(err, errJobsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// createRootCommand creates and configures the root command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deb2arch",
		Short: "Convert Debian packages into Arch Linux packages",
		Long: `deb2arch converts .deb archives into pacman-installable .pkg.tar.zst
packages. Dependencies are mapped onto Arch package names, maintainer
scripts are carried into an .INSTALL file and every package is assembled
in an isolated sandbox directory.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		Version:           config.Version,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (debug logging)")

	rootCmd.AddCommand(createConvertCommand())
	rootCmd.AddCommand(createInspectCommand())
	rootCmd.AddCommand(createAnalyzeCommand())
	rootCmd.AddCommand(createMappingCommand())
	rootCmd.AddCommand(createConfigCommand())

	return rootCmd
}

// initConfig loads the configuration, applies the logging flags and
// publishes the result as the global configuration.
func initConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if lvl := resolveRequestedLogLevel(cmd); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if _, err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	config.SetGlobal(cfg)
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line:
// --log-level wins, --verbose means debug, otherwise empty.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
		return "debug"
	}
	return ""
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
