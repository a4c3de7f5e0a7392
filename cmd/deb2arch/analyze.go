package main

import (
	"fmt"

	"github.com/open-edge-platform/deb2arch/internal/analyzer"
	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/spf13/cobra"
)

var (
	analyzeFormat string
	analyzeStrict bool
)

func createAnalyzeCommand() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze [flags] DEB_FILE...",
		Short: "Report conversion issues for .deb archives",
		Long: `Analyze checks each archive for constructs that need attention on Arch:
files outside the FHS, libraries outside /usr/lib, Debian-specific paths,
dependencies that do not map, and maintainer scripts calling Debian tools.

Examples:
  deb2arch analyze ./hello_1.0-1_amd64.deb
  deb2arch analyze --format json ./pool/*.deb`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeAnalyze,
	}

	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "text", "Output format: text or json")
	analyzeCmd.Flags().BoolVar(&analyzeStrict, "strict", false, "Exit non-zero when any error-level finding is reported")

	return analyzeCmd
}

func executeAnalyze(cmd *cobra.Command, args []string) error {
	if err := checkFormat(analyzeFormat); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	conv, err := newConverter(ctx, config.Global())
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}

	reports := make([]*analyzer.Report, 0, len(args))
	errorsFound := 0
	for _, path := range args {
		r, err := conv.Analyze(ctx, path)
		if err != nil {
			return fmt.Errorf("analyze %s: %w", path, err)
		}
		errorsFound += r.Count(analyzer.SeverityError)
		reports = append(reports, r)
	}

	out := cmd.OutOrStdout()
	if analyzeFormat == "json" {
		if err := writeJSON(out, reports, true); err != nil {
			return err
		}
	} else {
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(out)
			}
			for _, line := range r.Lines() {
				fmt.Fprintln(out, line)
			}
		}
	}

	if analyzeStrict && errorsFound > 0 {
		return fmt.Errorf("%d error-level findings", errorsFound)
	}
	return nil
}
