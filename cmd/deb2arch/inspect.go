package main

import (
	"fmt"
	"io"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/converter"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/spf13/cobra"
)

var (
	inspectFormat    string
	inspectShowFiles bool
)

func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] DEB_FILE",
		Short: "Show the metadata of a .deb archive",
		Long: `Inspect parses a .deb archive and prints its control metadata,
dependency relations, maintainer scripts and conffiles without converting it.`,
		Args: cobra.ExactArgs(1),
		RunE: executeInspect,
	}

	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format: text or json")
	inspectCmd.Flags().BoolVar(&inspectShowFiles, "files", false, "List payload files")

	return inspectCmd
}

type inspectOutput struct {
	Path          string              `json:"path"`
	Size          int64               `json:"size"`
	Package       string              `json:"package"`
	Version       string              `json:"version"`
	Architecture  string              `json:"architecture"`
	Maintainer    string              `json:"maintainer,omitempty"`
	Homepage      string              `json:"homepage,omitempty"`
	Section       string              `json:"section,omitempty"`
	Description   string              `json:"description,omitempty"`
	InstalledSize int64               `json:"installed_size_kib,omitempty"`
	Compression   map[string]string   `json:"compression"`
	Relations     map[string]string   `json:"relations,omitempty"`
	Scripts       []string            `json:"scripts,omitempty"`
	Conffiles     []string            `json:"conffiles,omitempty"`
	Files         []inspectFileOutput `json:"files,omitempty"`
}

type inspectFileOutput struct {
	Path   string `json:"path"`
	Type   string `json:"type"`
	Mode   string `json:"mode"`
	Size   int64  `json:"size,omitempty"`
	Target string `json:"target,omitempty"`
}

func executeInspect(cmd *cobra.Command, args []string) error {
	if err := checkFormat(inspectFormat); err != nil {
		return err
	}
	conv, err := newConverter(commandContext(cmd), config.Global())
	if err != nil {
		return fmt.Errorf("failed to initialise converter: %w", err)
	}
	view, err := conv.Inspect(args[0])
	if err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}

	out := buildInspectOutput(view, inspectShowFiles)
	if inspectFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), out, true)
	}
	renderInspectText(cmd.OutOrStdout(), out)
	return nil
}

func buildInspectOutput(v *converter.InspectView, files bool) inspectOutput {
	p := v.Package
	out := inspectOutput{
		Path:          v.Path,
		Size:          v.Size,
		Package:       p.Name,
		Version:       p.Version.String(),
		Architecture:  p.Architecture,
		Maintainer:    p.Maintainer,
		Homepage:      p.Homepage,
		Section:       p.Section,
		Description:   p.Synopsis(),
		InstalledSize: p.InstalledSize,
		Compression: map[string]string{
			"control": string(p.ControlCompression),
			"data":    string(p.DataCompression),
		},
		Scripts:   v.Scripts(),
		Conffiles: p.Conffiles,
	}
	for _, kind := range debutils.RelationKinds {
		if set := p.Relation(kind); len(set) > 0 {
			if out.Relations == nil {
				out.Relations = make(map[string]string)
			}
			out.Relations[string(kind)] = set.String()
		}
	}
	if files {
		for _, f := range p.Files {
			out.Files = append(out.Files, inspectFileOutput{
				Path:   f.Path,
				Type:   string(f.Type),
				Mode:   fmt.Sprintf("%04o", f.Mode.Perm()),
				Size:   f.Size,
				Target: f.LinkTarget,
			})
		}
	}
	return out
}

func renderInspectText(w io.Writer, out inspectOutput) {
	fmt.Fprintf(w, "File:         %s (%d bytes)\n", out.Path, out.Size)
	fmt.Fprintf(w, "Package:      %s %s (%s)\n", out.Package, out.Version, out.Architecture)
	if out.Maintainer != "" {
		fmt.Fprintf(w, "Maintainer:   %s\n", out.Maintainer)
	}
	if out.Homepage != "" {
		fmt.Fprintf(w, "Homepage:     %s\n", out.Homepage)
	}
	if out.Description != "" {
		fmt.Fprintf(w, "Description:  %s\n", out.Description)
	}
	fmt.Fprintf(w, "Compression:  control=%s data=%s\n", out.Compression["control"], out.Compression["data"])

	for _, kind := range debutils.RelationKinds {
		if rel, ok := out.Relations[string(kind)]; ok {
			fmt.Fprintf(w, "%-13s %s\n", string(kind)+":", rel)
		}
	}
	for _, s := range out.Scripts {
		fmt.Fprintf(w, "Script:       %s\n", s)
	}
	for _, c := range out.Conffiles {
		fmt.Fprintf(w, "Conffile:     %s\n", c)
	}
	if len(out.Files) > 0 {
		fmt.Fprintln(w, "Files:")
		for _, f := range out.Files {
			line := fmt.Sprintf("  %s %s %s", f.Mode, f.Type, f.Path)
			if f.Target != "" {
				line += " -> " + f.Target
			}
			fmt.Fprintln(w, line)
		}
	}
}
