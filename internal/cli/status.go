package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dotalias/internal/paths"
	"dotalias/internal/pipeline"
	"dotalias/internal/tui"
)

var (
	statusClean  bool
	statusDryRun bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List run workspaces left behind by failed, dry or kept runs",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	cmd.Flags().BoolVar(&statusClean, "clean", false, "Remove the listed workspaces")
	cmd.Flags().BoolVar(&statusDryRun, "dry-run", false, "With --clean, only report what would be removed")
	return cmd
}

type workspaceInfo struct {
	RunID     string         `json:"run_id"`
	Path      string         `json:"path"`
	State     pipeline.State `json:"state"`
	Reached   pipeline.State `json:"reached"`
	Stage     pipeline.Stage `json:"stage,omitempty"`
	Cause     string         `json:"cause,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	Removed   bool           `json:"removed,omitempty"`
}

// listWorkspaces reads the checkpoint of every run-* directory under root,
// most recently updated first.
func listWorkspaces(root string) ([]workspaceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read work dir: %w", err)
	}

	var out []workspaceInfo
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run-") {
			continue
		}
		id := strings.TrimPrefix(e.Name(), "run-")
		ws := paths.NewWorkspace(root, id)
		cp := pipeline.LoadCheckpoint(ws.StateFile(), id)
		info := workspaceInfo{
			RunID:     id,
			Path:      ws.Root,
			State:     cp.State,
			Reached:   cp.Reached,
			Stage:     cp.Stage,
			Cause:     cp.Cause,
			UpdatedAt: cp.UpdatedAt,
		}
		if info.UpdatedAt.IsZero() {
			if fi, err := e.Info(); err == nil {
				info.UpdatedAt = fi.ModTime()
			}
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, "status")
	if err != nil {
		return err
	}
	defer sess.Close()

	infos, err := listWorkspaces(sess.paths.WorkRoot)
	if err != nil {
		return err
	}

	if statusClean && !statusDryRun {
		for i := range infos {
			ws := paths.NewWorkspace(sess.paths.WorkRoot, infos[i].RunID)
			if err := ws.Remove(); err != nil {
				sess.logger.Printf("%v", err)
				continue
			}
			sess.logger.Printf("removed workspace %s", ws.Root)
			infos[i].Removed = true
		}
	}

	if outputJSON {
		return writeJSON(cmd, infos)
	}
	writeStatusTable(cmd, sess.paths.WorkRoot, infos)
	return nil
}

func writeStatusTable(cmd *cobra.Command, root string, infos []workspaceInfo) {
	cmd.Printf("Workspaces: %s\n", root)
	if len(infos) == 0 {
		cmd.Println("(none)")
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tREACHED\tUPDATED\tDETAIL")
	for _, info := range infos {
		detail := ""
		if info.Stage != "" {
			detail = string(info.Stage) + ": " + info.Cause
		}
		if statusClean {
			if info.Removed {
				detail = "removed"
			} else if statusDryRun {
				detail = "would remove"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.RunID, info.State, info.Reached, humanize.Time(info.UpdatedAt), tui.TruncateWithEllipsis(strings.ReplaceAll(detail, "\n", " "), 60))
	}
	w.Flush()

	if !statusClean {
		for _, info := range infos {
			if info.State == pipeline.StateFailed {
				cmd.Printf("\nResume the latest failure with: dotalias run --resume %s\n", info.RunID)
				cmd.Printf("Failure report: %s\n", paths.NewWorkspace(root, info.RunID).FailureFile())
				break
			}
		}
	}
}
