package main

import (
	"fmt"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/spf13/cobra"
)

var tablesFile string

// createConfigCommand creates the config command group
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and display configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [flags] [CONFIG_FILE]",
		Short: "Validate a configuration file against the schema",
		Long: `Validate a configuration file against the embedded schema without running
a conversion. Without an argument the file given by --config, or the first
default location that exists, is checked. A mapping tables file can be
checked at the same time with --tables.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeConfigValidate,
	}
	validateCmd.Flags().StringVar(&tablesFile, "tables", "", "Also validate a mapping tables file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  executeConfigShow,
	}

	configCmd.AddCommand(validateCmd, showCmd)
	return configCmd
}

func executeConfigValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	path := configFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" && tablesFile == "" {
		return fmt.Errorf("no configuration file found, usage: deb2arch config validate CONFIG_FILE")
	}

	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		log.Debugf("Validated %s (workers=%d policy=%s)", path, cfg.Workers, cfg.Policy)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
	}
	if tablesFile != "" {
		tables, err := config.LoadMappingTables(tablesFile)
		if err != nil {
			return fmt.Errorf("mapping tables validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d aliases, %d virtuals)\n",
			tablesFile, len(tables.Aliases), len(tables.Virtuals))
	}
	return nil
}

func executeConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := config.Global().Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
