package run

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
)

// List formats.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"

	formatFlagName = "format"
)

// listEntry is one annotated declaration in the list report.
type listEntry struct {
	Declaration string `yaml:"declaration"`
	Package     string `yaml:"package"`
	Directive   string `yaml:"directive"`
	Scope       string `yaml:"scope"`
	Target      string `yaml:"target,omitempty"`
	Position    string `yaml:"position"`
}

func newListCmd(getEnv func(string) string, pkgLoader PackageLoader) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list [patterns...]",
		Short: "List mock points and substitute candidates",
		Long:  listLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != FormatTable && format != FormatYAML {
				return fmt.Errorf("%w %q: use %s or %s", errUnknownFormat, format, FormatTable, FormatYAML)
			}

			opts, logger, err := setup(cmd, getEnv)
			if err != nil {
				return err
			}

			reg, err := newEngine(opts, pkgLoader, logger).collect(cmd.Context(), patternsOrDefault(args))
			if err != nil {
				return err
			}

			entries := listEntries(reg)

			if format == FormatYAML {
				return writeYAML(cmd.OutOrStdout(), entries)
			}

			writeTable(cmd.OutOrStdout(), entries)

			return nil
		},
	}

	cmd.Flags().StringVar(&format, formatFlagName, FormatTable, "output format: table or yaml")

	return cmd
}

// listEntries reports mock points first, then candidates, each in collection order.
func listEntries(reg *resolve.Registry) []listEntry {
	decls := append(append([]*parse.Declaration(nil), reg.MockPoints()...), reg.Candidates()...)
	entries := make([]listEntry, 0, len(decls))

	for _, decl := range decls {
		entry := listEntry{
			Declaration: decl.QualifiedName(),
			Package:     decl.Package,
			Directive:   decl.Marker.String(),
			Scope:       resolve.ScopeOf(decl, reg.RootPackage()).String(),
			Position:    decl.Pos.String(),
		}

		if decl.Binding != nil {
			entry.Target = decl.Binding.Target
		}

		entries = append(entries, entry)
	}

	return entries
}

func writeTable(out io.Writer, entries []listEntry) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Declaration", "Directive", "Scope", "Target", "Position"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	mockPoints := 0

	for _, entry := range entries {
		if entry.Directive == parse.MarkerMockPoint.String() {
			mockPoints++
		}

		table.Append([]string{entry.Declaration, entry.Directive, entry.Scope, entry.Target, entry.Position})
	}

	table.SetFooter([]string{
		fmt.Sprintf("%d mock points", mockPoints),
		fmt.Sprintf("%d candidates", len(entries)-mockPoints),
		"", "", "",
	})

	table.Render()
}

func writeYAML(out io.Writer, entries []listEntry) error {
	const indent = 2

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(indent)

	err := encoder.Encode(entries)
	if err != nil {
		return fmt.Errorf("error encoding list: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("error encoding list: %w", err)
	}

	return nil
}

// unexported variables.
var (
	errUnknownFormat = errors.New("unknown list format")
)
