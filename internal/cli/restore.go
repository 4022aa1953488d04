package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dotalias/internal/deploy"
)

var (
	restoreForce bool
	restoreList  bool
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [run-id]",
		Short: "Undo a deployment and put the previous archive files back",
		Long: `Restore removes the files a run deployed and moves their backups back into
place. Without a run ID the most recent deployment is restored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRestore,
	}

	cmd.Flags().BoolVar(&restoreForce, "force", false, "Restore even if deployed files were changed afterwards")
	cmd.Flags().BoolVar(&restoreList, "list", false, "List recorded deployments instead of restoring")
	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd, "restore")
	if err != nil {
		return err
	}
	defer sess.Close()

	dir := sess.paths.DeploymentsDir
	if restoreList {
		all, err := deploy.List(dir)
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd, all)
		}
		printDeployments(cmd, all)
		return nil
	}

	var m deploy.Manifest
	if len(args) == 1 {
		id := strings.TrimSpace(args[0])
		if m, err = deploy.Load(filepath.Join(dir, id+".json")); err != nil {
			return fmt.Errorf("load deployment %s: %w", id, err)
		}
	} else {
		m, err = deploy.Latest(dir)
		if errors.Is(err, deploy.ErrNoDeployments) {
			return fmt.Errorf("nothing to restore: %w", err)
		}
		if err != nil {
			return err
		}
	}

	sess.logger.Printf("restore run %s from %s (force=%v)", m.RunID, m.TargetDir, restoreForce)
	if err := deploy.Restore(m, deploy.RestoreOptions{Force: restoreForce, Logger: sess.logger}); err != nil {
		return fmt.Errorf("restore run %s: %w", m.RunID, err)
	}
	if err := deploy.MarkRestored(dir, m.RunID); err != nil {
		sess.logger.Printf("%v", err)
	}

	if outputJSON {
		return writeJSON(cmd, map[string]any{"restored": m.RunID, "target_dir": m.TargetDir, "files": len(m.Entries)})
	}
	cmd.Printf("Restored run %s: %d file(s) in %s\n", shortID(m.RunID), len(m.Entries), m.TargetDir)
	for _, e := range m.Entries {
		if e.Backup != "" {
			cmd.Printf("  %s <- %s\n", filepath.Base(e.Target), filepath.Base(e.Backup))
		} else {
			cmd.Printf("  %s removed\n", filepath.Base(e.Target))
		}
	}
	return nil
}

func printDeployments(cmd *cobra.Command, all []deploy.Manifest) {
	if len(all) == 0 {
		cmd.Println("(no recorded deployments)")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tDEPLOYED\tFILES\tTARGET")
	for _, m := range all {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.RunID, humanize.Time(m.DeployedAt), len(m.Entries), m.TargetDir)
	}
	w.Flush()
}
