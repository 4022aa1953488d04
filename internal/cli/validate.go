package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dotalias/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the alias file without running anything",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}

	addConfigFlag(cmd.Flags())
	return cmd
}

type validateResult struct {
	Path    string                   `json:"path"`
	Valid   bool                     `json:"valid"`
	Target  string                   `json:"target,omitempty"`
	Heroes  []config.HeroAliases     `json:"heroes,omitempty"`
	Issues  []config.ValidationError `json:"issues,omitempty"`
	Aliases int                      `json:"aliases"`
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}

	m, err := config.Load(path)
	result := validateResult{Path: path, Valid: err == nil}
	if err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		result.Issues = verrs.Issues()
	} else {
		result.Target = m.Path
		result.Heroes = m.Heroes
		result.Aliases = m.AliasCount()
	}

	if outputJSON {
		if werr := writeJSON(cmd, result); werr != nil {
			return werr
		}
	} else {
		writeValidateTable(cmd, result)
	}

	if !result.Valid {
		return fmt.Errorf("alias file %s has %d problem(s)", path, len(result.Issues))
	}
	return nil
}

func writeValidateTable(cmd *cobra.Command, r validateResult) {
	if !r.Valid {
		printIssues(cmd.OutOrStdout(), r.Path, r.Issues)
		return
	}
	cmd.Printf("%s: ok\n", r.Path)
	cmd.Printf("Target folder: game/%s\n\n", r.Target)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tHERO\tSECTION\tALIASES")
	for _, h := range r.Heroes {
		line := "-"
		if h.Line > 0 {
			line = fmt.Sprint(h.Line)
		}
		fmt.Fprintf(w, "%s\t%s\tnpc_dota_hero_%s\t%s\n", line, h.Hero, h.Key, strings.Join(h.Aliases, ";"))
	}
	w.Flush()
	cmd.Printf("\n%d hero(es), %d alias(es)\n", len(r.Heroes), r.Aliases)
}
