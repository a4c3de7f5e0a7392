package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/converter"
	"github.com/open-edge-platform/deb2arch/internal/scheduler"
	"github.com/open-edge-platform/deb2arch/internal/utils/general/slice"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Convert command flags
var (
	outDir        string
	policyFlag    policyValue
	workersFlag   int
	convertFormat string
)

// createConvertCommand creates the convert subcommand
func createConvertCommand() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert [flags] DEB_FILE...",
		Short: "Convert .deb archives into Arch packages",
		Long: `Convert one or more .deb archives into .pkg.tar.zst packages.

Policies:
  strict      fail a package when a required dependency cannot be mapped
  permissive  build anyway, recording mapping warnings in the report
  dry_run     stop after planning; nothing is written

The command exits non-zero when any package fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeConvert,
	}

	convertCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write packages to")
	policyFlag = policyValue{}
	convertCmd.Flags().Var(&policyFlag, "policy", "Conversion policy (strict, permissive, dry_run); defaults to the configured policy")
	convertCmd.Flags().IntVarP(&workersFlag, "workers", "j", 0, "Number of parallel conversions; defaults to the configured value")
	convertCmd.Flags().StringVar(&convertFormat, "format", "text", "Output format: text or json")

	return convertCmd
}

// policyValue is the --policy flag, checked when the flag is parsed.
type policyValue struct {
	policy converter.Policy
}

var _ pflag.Value = (*policyValue)(nil)

func (p *policyValue) String() string { return string(p.policy) }

func (p *policyValue) Set(s string) error {
	policy, err := converter.ParsePolicy(s)
	if err != nil {
		return err
	}
	p.policy = policy
	return nil
}

func (p *policyValue) Type() string { return "policy" }

type convertResult struct {
	Input     string   `json:"input"`
	State     string   `json:"state"`
	Planned   string   `json:"planned,omitempty"`
	Artifact  string   `json:"artifact,omitempty"`
	SHA256    string   `json:"sha256,omitempty"`
	Signature string   `json:"signature,omitempty"`
	FailedAt  string   `json:"failed_at,omitempty"`
	Error     string   `json:"error,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Duration  string   `json:"duration"`
}

// executeConvert handles the convert command logic
func executeConvert(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	ctx := commandContext(cmd)

	if err := checkFormat(convertFormat); err != nil {
		return err
	}

	cfg := *config.Global()
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	policy := policyFlag.policy
	if policy == "" {
		var err error
		if policy, err = converter.ParsePolicy(cfg.Policy); err != nil {
			return err
		}
	}

	conv, err := newConverter(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}

	paths := slice.Dedup(args)
	if n := len(args) - len(paths); n > 0 {
		log.Warnf("Ignoring %d duplicate input paths", n)
	}
	results, err := conv.ConvertBatch(ctx, paths, outDir, policy)
	if err != nil {
		return err
	}

	out := make([]convertResult, len(results))
	failed := 0
	for i, r := range results {
		out[i] = toConvertResult(r)
		if !r.OK() {
			failed++
		}
	}

	if convertFormat == "json" {
		if err := writeJSON(cmd.OutOrStdout(), out, true); err != nil {
			return err
		}
	} else {
		renderConvertText(cmd.OutOrStdout(), out)
	}

	if failed > 0 {
		log.Errorf("%d of %d conversions failed", failed, len(results))
		return errJobsFailed
	}
	log.Infof("Converted %d packages", len(results))
	return nil
}

func toConvertResult(r scheduler.JobResult) convertResult {
	res := convertResult{
		Input:     r.Name,
		State:     string(r.State),
		Cancelled: r.Cancelled,
		Duration:  r.Duration.Round(time.Millisecond).String(),
	}
	if r.Plan != nil {
		res.Planned = r.Plan.ArtifactName()
	}
	if r.Artifact != nil {
		res.Artifact = r.Artifact.Path
		res.SHA256 = r.Artifact.SHA256
		res.Signature = r.Artifact.Signature
	}
	if r.Err != nil {
		res.FailedAt = string(r.FailedAt)
		res.Error = r.Err.Error()
	}
	for _, w := range r.Warnings {
		res.Warnings = append(res.Warnings, w.String())
	}
	return res
}

func renderConvertText(w io.Writer, results []convertResult) {
	for _, r := range results {
		name := filepath.Base(r.Input)
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "FAIL %s (%s): %s\n", name, r.FailedAt, r.Error)
		case r.Artifact != "":
			fmt.Fprintf(w, "OK   %s -> %s\n", name, r.Artifact)
		default:
			fmt.Fprintf(w, "OK   %s -> %s (planned)\n", name, r.Planned)
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "     warning: %s\n", warn)
		}
	}
}

var outputFormats = []string{"text", "json"}

func checkFormat(format string) error {
	if !slice.Contains(outputFormats, format) {
		return fmt.Errorf("unsupported format %q (want text or json)", format)
	}
	return nil
}

func writeJSON(out io.Writer, v any, pretty bool) error {
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, _ = fmt.Fprintln(out, string(b))
	return nil
}
