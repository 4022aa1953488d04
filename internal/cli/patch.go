package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dotalias/internal/patch"
)

var patchOutput string

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <npc_heroes.txt>",
		Short: "Apply the alias file to a local hero file without touching the game",
		Long: `Patch rewrites a copy of npc_heroes.txt the same way "dotalias run" does,
keeping the original next to it as <file>.bak. Without --output the file is
patched in place.`,
		Args: cobra.ExactArgs(1),
		RunE: runPatch,
	}

	addConfigFlag(cmd.Flags())
	cmd.Flags().StringVarP(&patchOutput, "output", "o", "", "Write the patched file here instead of in place")
	return cmd
}

type patchOutcome struct {
	patch.FileOutcome
	Summary patch.Summary `json:"summary"`
}

func runPatch(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	aliases, err := loadAliases(cmd, cfgPath)
	if err != nil {
		return err
	}

	src, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve hero file: %w", err)
	}
	dst := src
	if strings.TrimSpace(patchOutput) != "" {
		if dst, err = filepath.Abs(patchOutput); err != nil {
			return fmt.Errorf("resolve --output: %w", err)
		}
	}

	outcome, err := patch.PatchFile(src, dst, aliases)
	if err != nil {
		return err
	}
	result := patchOutcome{FileOutcome: outcome, Summary: patch.Summarize(outcome.Results)}

	if outputJSON {
		return writeJSON(cmd, result)
	}
	printPatchOutcome(cmd.OutOrStdout(), result)
	return nil
}

func printPatchOutcome(w io.Writer, o patchOutcome) {
	fmt.Fprintf(w, "%-8s %s\n", "Source:", o.Source)
	fmt.Fprintf(w, "%-8s %s\n", "Output:", o.Output)
	if o.Backup != "" {
		fmt.Fprintf(w, "%-8s %s\n", "Backup:", o.Backup)
	}
	fmt.Fprintf(w, "\n%-22s %-28s %s\n", "HERO", "RESULT", "ADDED")
	for _, r := range o.Results {
		added := strings.Join(r.Added, ", ")
		if added == "" {
			added = "-"
		}
		fmt.Fprintf(w, "%-22s %-28s %s\n", r.Hero, r.Kind, added)
	}
	fmt.Fprintf(w, "\n%s\n", o.Summary.String())
	if !o.Changed {
		fmt.Fprintln(w, "No changes were needed.")
	}
}
