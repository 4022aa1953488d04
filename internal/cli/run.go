package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dotalias/internal/locate"
	"dotalias/internal/logx"
	"dotalias/internal/paths"
	"dotalias/internal/pipeline"
	"dotalias/internal/runner"
	"dotalias/internal/tools"
	"dotalias/internal/tui"
)

var (
	runDryRun        bool
	runKeepWorkspace bool
	runResumeID      string
)

// stageFactory builds the collaborators of a run. Tests replace it.
var stageFactory = defaultStages

func defaultStages(app paths.AppPaths, progress tools.ProgressSink, logger *log.Logger) pipeline.StageSet {
	prov := tools.NewProvisioner(app.ToolsDir, app.DebugDir, progress, logx.Prefixed(logger, "tools: "))
	loc := &locate.Locator{Override: dotaPath, Logger: logx.Prefixed(logger, "locate: ")}
	return pipeline.DefaultStages(prov, loc, logger)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Patch hero aliases into the game and deploy the archive",
		Long: `Run provisions the archive tools, finds the Dota 2 installation, extracts
npc_heroes.txt, adds the configured aliases, packs the result into a pak02
archive and copies it into the folder named by "path" in the alias file.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	addConfigFlag(cmd.Flags())
	addLocateFlags(cmd.Flags())
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Stop after building the archive; nothing is deployed")
	cmd.Flags().BoolVar(&runKeepWorkspace, "keep-workspace", false, "Keep the run workspace after success")
	cmd.Flags().StringVar(&runResumeID, "resume", "", "Reuse the workspace of an earlier failed run")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, "run")
	if err != nil {
		return err
	}
	defer sess.Close()

	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	aliases, err := loadAliases(cmd, cfgPath)
	if err != nil {
		sess.logger.Printf("load aliases: %v", err)
		return err
	}
	sess.logger.Printf("aliases: %s (%d heroes, %d aliases, target %s)", cfgPath, len(aliases.Heroes), aliases.AliasCount(), aliases.Path)

	rc, err := pipeline.NewRunContext(sess.paths, aliases, pipeline.Options{
		DryRun:        runDryRun,
		KeepWorkspace: runKeepWorkspace,
		ResumeID:      runResumeID,
	})
	if err != nil {
		sess.logger.Printf("resume: %v", err)
		return fmt.Errorf("--resume: %w (see dotalias status for kept runs)", err)
	}
	sess.logger.Printf("run %s: workspace=%s dry_run=%v", rc.RunID, rc.Workspace.Root, runDryRun)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	mode := tui.DetectMode(out, plainOutput, outputJSON)

	var (
		report *pipeline.Report
		runErr error
	)
	execute := func(progress tools.ProgressSink, observer pipeline.Observer) {
		orch := &pipeline.Orchestrator{
			Stages:   stageFactory(sess.paths, progress, sess.logger),
			Observer: observer,
			Logger:   sess.logger,
		}
		report, runErr = orch.Run(ctx, rc)
	}

	switch mode {
	case tui.ModeTUI:
		model := tui.NewProgressModel("dotalias run "+shortID(rc.RunID), stageNames(), cancel)
		err := tui.RunWithWork(out, model, func(send func(tea.Msg)) error {
			rep := tui.NewReporter(send)
			execute(rep, rep)
			return nil
		})
		if err != nil {
			sess.logger.Printf("progress view: %v", err)
		}
	case tui.ModePlain:
		rep := tui.NewPlainReporter(out)
		execute(rep, rep)
	default:
		execute(nil, nil)
	}

	if mode == tui.ModeJSON {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		printRunReport(out, report)
	}
	if runErr != nil && report != nil && report.WorkspaceKept {
		return fmt.Errorf("%w (resume with: dotalias run --resume %s)", runErr, report.RunID)
	}
	return runErr
}

func stageNames() []string {
	names := make([]string, len(pipeline.AllStages))
	for i, s := range pipeline.AllStages {
		names[i] = string(s)
	}
	return names
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printRunReport(w io.Writer, r *pipeline.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "\nRun %s: %s", shortID(r.RunID), r.State)
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(w, " in %s", r.FinishedAt.Sub(r.StartedAt).Round(10*time.Millisecond))
	}
	fmt.Fprintln(w)

	if len(r.Tools) > 0 {
		parts := make([]string, 0, len(r.Tools))
		for _, t := range r.Tools {
			v := t.Version
			if v == "" {
				v = "unknown version"
			}
			parts = append(parts, fmt.Sprintf("%s %s (%s)", t.Name, v, t.Source))
		}
		fmt.Fprintf(w, "  %-10s %s\n", "tools", strings.Join(parts, ", "))
	}
	if r.InstallPath != "" {
		fmt.Fprintf(w, "  %-10s %s [%s]\n", "install", r.InstallPath, r.InstallStrategy)
	}
	if r.PatchSummary != nil {
		fmt.Fprintf(w, "  %-10s %s\n", "patch", r.PatchSummary.String())
		for _, res := range r.Patch {
			line := fmt.Sprintf("    %-22s %s", res.Hero, res.Kind)
			if len(res.Added) > 0 {
				line += " +" + strings.Join(res.Added, ", ")
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(r.Components) > 0 {
		parts := make([]string, 0, len(r.Components))
		for _, c := range r.Components {
			label := filepath.Base(c)
			if info, err := os.Stat(c); err == nil {
				label += " (" + humanize.Bytes(uint64(info.Size())) + ")"
			}
			parts = append(parts, label)
		}
		fmt.Fprintf(w, "  %-10s %s\n", "archive", strings.Join(parts, ", "))
	}
	if d := r.Deployment; d != nil {
		fmt.Fprintf(w, "  %-10s %d file(s) into %s\n", "deployed", len(d.Entries), d.TargetDir)
		for _, e := range d.Entries {
			if e.Backup != "" {
				fmt.Fprintf(w, "    backup %s\n", e.Backup)
			}
		}
		if r.ManifestPath != "" {
			fmt.Fprintf(w, "  %-10s %s (undo with: dotalias restore)\n", "record", r.ManifestPath)
		}
	} else if r.DryRun && r.Failure == nil {
		fmt.Fprintf(w, "  %-10s skipped (dry run)\n", "deploy")
	}
	for _, h := range r.Hints {
		fmt.Fprintf(w, "hint: %s\n", h)
	}

	if f := r.Failure; f != nil {
		fmt.Fprintf(w, "\nFailed at stage %s: %s\n", f.Stage, f.Cause)
		if len(f.Tried) > 0 {
			fmt.Fprintln(w, "Tried:")
			for _, t := range f.Tried {
				fmt.Fprintf(w, "  %s\n", t)
			}
		}
		if len(f.Attempts) > 0 {
			fmt.Fprintln(w, "Attempts:")
			fmt.Fprint(w, runner.FormatInvocations(f.Attempts))
		}
		if f.Transcript != "" {
			fmt.Fprintf(w, "Transcript: %s\n", f.Transcript)
		}
		for _, h := range f.Hints {
			fmt.Fprintf(w, "hint: %s\n", h)
		}
	}
	if r.WorkspaceKept {
		fmt.Fprintf(w, "Workspace kept at %s\n", r.Workspace)
	}
}
