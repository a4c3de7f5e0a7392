package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/spf13/cobra"
)

var (
	mappingFormat string
	resolveField  string
	showLearned   bool
)

// createMappingCommand creates the mapping command group
func createMappingCommand() *cobra.Command {
	mappingCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect and maintain the Debian to Arch name mapping",
	}
	mappingCmd.PersistentFlags().StringVar(&mappingFormat, "format", "text", "Output format: text or json")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the Arch package pool from the configured provider",
		Args:  cobra.NoArgs,
		RunE:  executeMappingRefresh,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve [flags] RELATION...",
		Short: "Resolve Debian relation fields against the current mapping",
		Long: `Resolve translates Debian relation fields into Arch dependencies using the
current snapshot, printing every candidate with its confidence.

Examples:
  deb2arch mapping resolve "libc6 (>= 2.34)"
  deb2arch mapping resolve --field Recommends "python3-yaml | python3-ruamel.yaml"`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeMappingResolve,
	}
	resolveCmd.Flags().StringVar(&resolveField, "field", string(debutils.Depends), "Relation field the entries come from")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the size of the mapping tables and the learned cache",
		Args:  cobra.NoArgs,
		RunE:  executeMappingShow,
	}
	showCmd.Flags().BoolVar(&showLearned, "learned", false, "List learned lookups")

	mappingCmd.AddCommand(refreshCmd, resolveCmd, showCmd)
	return mappingCmd
}

func executeMappingRefresh(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(mappingFormat); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	conv, err := newConverter(ctx, config.Global())
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}
	if err := conv.RefreshMapping(ctx); err != nil {
		return fmt.Errorf("mapping refresh failed: %w", err)
	}
	stats := conv.Mapper().Snapshot().Stats()
	logger.Logger().Infof("Mapping refreshed: %d packages, %d provides", stats.Packages, stats.Provides)
	return printStats(cmd.OutOrStdout(), stats)
}

type resolveOutput struct {
	Entry         string                 `json:"entry"`
	Candidates    []resolveCandidateJSON `json:"candidates,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	NotApplicable bool                   `json:"not_applicable,omitempty"`
}

type resolveCandidateJSON struct {
	Dependency string  `json:"dependency"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

func parseRelationKind(s string) (debutils.RelationKind, error) {
	for _, k := range debutils.RelationKinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown relation field %q", s)
}

func executeMappingResolve(cmd *cobra.Command, args []string) error {
	if err := checkFormat(mappingFormat); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	kind, err := parseRelationKind(resolveField)
	if err != nil {
		return err
	}
	set, err := debutils.ParseRelations(strings.Join(args, ", "))
	if err != nil {
		return err
	}
	conv, err := newConverter(ctx, config.Global())
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}
	resolved, err := conv.Mapper().Resolve(ctx, kind, set)
	if err != nil {
		return err
	}

	out := make([]resolveOutput, 0, len(resolved.Resolutions))
	for _, r := range resolved.Resolutions {
		o := resolveOutput{Entry: r.Entry.String(), NotApplicable: r.NotApplicable}
		for _, c := range r.Candidates {
			o.Candidates = append(o.Candidates, resolveCandidateJSON{
				Dependency: c.Dependency().String(),
				Method:     c.Method.String(),
				Confidence: c.Confidence,
			})
		}
		for _, w := range r.Warnings {
			o.Warnings = append(o.Warnings, w.String())
		}
		out = append(out, o)
	}

	if mappingFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), out, true)
	}
	w := cmd.OutOrStdout()
	for _, o := range out {
		switch {
		case o.NotApplicable:
			fmt.Fprintf(w, "%s: not applicable on this architecture\n", o.Entry)
		case len(o.Candidates) == 0:
			fmt.Fprintf(w, "%s: unresolved\n", o.Entry)
		default:
			fmt.Fprintf(w, "%s:\n", o.Entry)
			for _, c := range o.Candidates {
				fmt.Fprintf(w, "  %s (%s, %.2f)\n", c.Dependency, c.Method, c.Confidence)
			}
		}
		for _, warn := range o.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
	return nil
}

type learnedOutput struct {
	Name    string         `json:"name"`
	Matches []mapper.Match `json:"matches"`
}

func executeMappingShow(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(mappingFormat); err != nil {
		return err
	}
	conv, err := newConverter(commandContext(cmd), config.Global())
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}
	snap := conv.Mapper().Snapshot()
	if !showLearned {
		return printStats(cmd.OutOrStdout(), snap.Stats())
	}

	var learned []learnedOutput
	for _, name := range snap.LearnedNames() {
		ms, _ := snap.Learned(name)
		learned = append(learned, learnedOutput{Name: name, Matches: ms})
	}
	if mappingFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"stats": snap.Stats(), "learned": learned}, true)
	}
	w := cmd.OutOrStdout()
	if err := printStats(w, snap.Stats()); err != nil {
		return err
	}
	for _, l := range learned {
		if len(l.Matches) == 0 {
			fmt.Fprintf(w, "%s -> (none)\n", l.Name)
			continue
		}
		names := make([]string, len(l.Matches))
		for i, m := range l.Matches {
			names[i] = fmt.Sprintf("%s (%s, %.2f)", m.Name, m.Method, m.Confidence)
		}
		fmt.Fprintf(w, "%s -> %s\n", l.Name, strings.Join(names, ", "))
	}
	return nil
}

func printStats(w io.Writer, s mapper.Stats) error {
	if mappingFormat == "json" {
		return writeJSON(w, s, true)
	}
	fmt.Fprintf(w, "generation: %d\n", s.Generation)
	fmt.Fprintf(w, "aliases:    %d\n", s.Aliases)
	fmt.Fprintf(w, "virtuals:   %d\n", s.Virtuals)
	fmt.Fprintf(w, "packages:   %d\n", s.Packages)
	fmt.Fprintf(w, "provides:   %d\n", s.Provides)
	fmt.Fprintf(w, "learned:    %d\n", s.Learned)
	return nil
}
