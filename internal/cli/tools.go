package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dotalias/internal/tools"
	"dotalias/internal/tui"
)

var installForce bool

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the archive tools",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsInstallCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resolved tool statuses",
		RunE:  runToolsList,
	}
	return cmd
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, "tools")
	if err != nil {
		return err
	}
	defer sess.Close()

	prov := tools.NewProvisioner(sess.paths.ToolsDir, sess.paths.DebugDir, nil, sess.logger)
	statuses, err := prov.Detect(cmd.Context())
	if err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, statuses)
	}

	printStatusTable(cmd, statuses)
	return nil
}

func newToolsInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install [tool|all]",
		Short: "Install or update managed tools",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runToolsInstall,
	}

	cmd.Flags().BoolVar(&installForce, "force", false, "Download again even if a verified copy exists")

	return cmd
}

func runToolsInstall(cmd *cobra.Command, args []string) error {
	target := "all"
	if len(args) == 1 {
		target = strings.ToLower(args[0])
	}

	var toolsToInstall []string
	if target == "all" {
		toolsToInstall = tools.KnownTools()
	} else {
		if _, ok := tools.Definition(target); !ok {
			return fmt.Errorf("unknown tool: %s (known: %s)", target, strings.Join(tools.KnownTools(), ", "))
		}
		toolsToInstall = []string{target}
	}

	sess, err := openSession(cmd, "tools")
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	var (
		status *tui.StatusWriter
		sink   tools.ProgressSink
	)
	switch tui.DetectMode(cmd.OutOrStdout(), plainOutput, outputJSON) {
	case tui.ModeTUI:
		status = tui.NewStatusWriter(cmd.ErrOrStderr())
		defer status.Stop()
		sink = status
	case tui.ModePlain:
		sink = tui.NewPlainReporter(cmd.ErrOrStderr())
	}
	prov := tools.NewProvisioner(sess.paths.ToolsDir, sess.paths.DebugDir, sink, sess.logger)

	var errs []error
	for _, name := range toolsToInstall {
		spec, _ := tools.Definition(name)
		if status != nil {
			status.Update("installing " + name)
		}
		var err error
		if installForce {
			_, err = prov.Reinstall(ctx, spec)
		} else {
			_, err = prov.Ensure(ctx, spec)
		}
		if err != nil {
			sess.logger.Printf("install %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if status != nil {
		status.Stop()
	}

	statuses, err := prov.Detect(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	statuses = filterStatuses(statuses, toolsToInstall)

	if outputJSON {
		if err := writeJSON(cmd, statuses); err != nil {
			return err
		}
	} else {
		printStatusTable(cmd, statuses)
		printInstallHints(cmd, errs)
	}

	return errors.Join(errs...)
}

func filterStatuses(statuses []tools.Status, names []string) []tools.Status {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := statuses[:0:0]
	for _, st := range statuses {
		if want[st.Tool] {
			out = append(out, st)
		}
	}
	return out
}

func printInstallHints(cmd *cobra.Command, errs []error) {
	for _, err := range errs {
		var acq *tools.ToolAcquisitionError
		if !errors.As(err, &acq) {
			continue
		}
		for _, h := range acq.Hints {
			cmd.Printf("hint (%s): %s\n", acq.Tool, h)
		}
	}
}

func printStatusTable(cmd *cobra.Command, statuses []tools.Status) {
	if len(statuses) == 0 {
		cmd.Println("(no tool statuses)")
		return
	}

	rows := make([]tools.Status, len(statuses))
	copy(rows, statuses)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Tool < rows[j].Tool
	})

	cmd.Printf("%-10s %-8s %-14s %-14s %-4s %s\n", "Tool", "Source", "Version", "Dialect", "OK", "Path")
	for _, st := range rows {
		ok := "no"
		if st.Satisfied {
			ok = "yes"
		}
		path := st.Path
		if path == "" {
			path = "(missing)"
		}
		source := string(st.Source)
		if source == "" {
			source = "-"
		}
		cmd.Printf("%-10s %-8s %-14s %-14s %-4s %s\n", st.Tool, source, st.Version, st.Dialect, ok, path)
		if st.Error != "" {
			cmd.Printf("  error: %s\n", st.Error)
		}
		for _, note := range st.Notes {
			cmd.Printf("  note: %s\n", note)
		}
	}
}
