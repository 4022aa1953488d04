// Package pipeline sequences tool provisioning, install discovery,
// extraction, patching, rebuilding and deployment of the hero alias archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dotalias/internal/config"
	"dotalias/internal/deploy"
	"dotalias/internal/locate"
	"dotalias/internal/logx"
	"dotalias/internal/patch"
	"dotalias/internal/paths"
	"dotalias/internal/tools"
	"dotalias/internal/vpk"
)

const (
	// HeroesEntry is the in-archive path of the hero definitions.
	HeroesEntry = "scripts/npc/npc_heroes.txt"
	// SourceArchive is the game archive holding HeroesEntry, under game/dota.
	SourceArchive = "pak01_dir.vpk"
	// OutputBase names the built archive: pak02_dir.vpk, pak02_000.vpk, ...
	OutputBase = "pak02"
)

// Stage names a unit of work.
type Stage string

const (
	StageTools   Stage = "tools"
	StageLocate  Stage = "locate"
	StageExtract Stage = "extract"
	StagePatch   Stage = "patch"
	StageBuild   Stage = "build"
	StageDeploy  Stage = "deploy"
)

// AllStages lists every stage in execution order.
var AllStages = []Stage{StageTools, StageLocate, StageExtract, StagePatch, StageBuild, StageDeploy}

// Options are the user-facing switches of a run.
type Options struct {
	DryRun        bool
	KeepWorkspace bool
	// ResumeID reuses the workspace of an earlier run.
	ResumeID string
}

// RunContext carries everything a run needs. It is built once and not
// modified afterwards.
type RunContext struct {
	RunID     string
	Paths     paths.AppPaths
	Workspace paths.Workspace
	Aliases   config.AliasMap
	Options   Options
}

// NewRunContext assigns a run ID (or reuses Options.ResumeID) and lays out
// the workspace under the application's work root. A resume ID must be a run
// ID as printed by an earlier run; anything else is rejected before the
// filesystem is touched.
func NewRunContext(app paths.AppPaths, aliases config.AliasMap, opts Options) (RunContext, error) {
	id := strings.TrimSpace(opts.ResumeID)
	if id == "" {
		id = uuid.NewString()
	} else {
		u, err := uuid.Parse(id)
		if err != nil {
			return RunContext{}, fmt.Errorf("invalid run id %q: %w", opts.ResumeID, err)
		}
		id = u.String()
	}
	return RunContext{
		RunID:     id,
		Paths:     app,
		Workspace: paths.NewWorkspace(app.WorkRoot, id),
		Aliases:   aliases,
		Options:   opts,
	}, nil
}

// ToolProvider makes an external tool available.
type ToolProvider interface {
	Ensure(ctx context.Context, spec tools.ToolSpec) (tools.InstalledTool, error)
}

// InstallLocator finds the game installation.
type InstallLocator interface {
	Locate() (locate.InstallPath, error)
}

// EntryExtractor pulls one file out of an archive.
type EntryExtractor interface {
	ExtractEntry(ctx context.Context, archive, entry, destDir string) (vpk.ExtractedFile, error)
}

// ArchiveBuilder packs a content tree into split archive files.
type ArchiveBuilder interface {
	Build(ctx context.Context, contentDir, outputBase string) (vpk.ArchiveComponents, error)
}

// FileDeployer places files into a directory with backups.
type FileDeployer interface {
	Deploy(files []string, targetDir string) (deploy.Manifest, error)
}

// StageSet wires the collaborators. Extractor, builder and deployer are
// created per run because they depend on the provisioned tools.
type StageSet struct {
	Tools         ToolProvider
	Locator       InstallLocator
	ExtractorSpec tools.ToolSpec
	BuilderSpec   tools.ToolSpec
	NewExtractor  func(tool tools.InstalledTool, rc RunContext) EntryExtractor
	NewBuilder    func(tool tools.InstalledTool, rc RunContext) ArchiveBuilder
	NewDeployer   func(rc RunContext) FileDeployer
}

// DefaultStages wires the real provisioner, locator and tool drivers.
func DefaultStages(prov ToolProvider, loc InstallLocator, logger logx.Printer) StageSet {
	extractSpec, _ := tools.Definition(tools.ToolVRF)
	buildSpec, _ := tools.Definition(tools.ToolVPKEdit)
	return StageSet{
		Tools:         prov,
		Locator:       loc,
		ExtractorSpec: extractSpec,
		BuilderSpec:   buildSpec,
		NewExtractor: func(tool tools.InstalledTool, rc RunContext) EntryExtractor {
			x := vpk.NewExtractor(tool, rc.Paths.DebugDir, logx.Prefixed(logger, "extract: "))
			x.ScratchDir = rc.Workspace.Scratch
			return x
		},
		NewBuilder: func(tool tools.InstalledTool, rc RunContext) ArchiveBuilder {
			return vpk.NewBuilder(tool, rc.Paths.DebugDir, logx.Prefixed(logger, "build: "))
		},
		NewDeployer: func(rc RunContext) FileDeployer {
			return &deploy.Deployer{RunID: rc.RunID, Logger: logx.Prefixed(logger, "deploy: ")}
		},
	}
}

// Orchestrator runs the stages in order and owns checkpointing and failure
// handling.
type Orchestrator struct {
	Stages   StageSet
	Observer Observer
	Logger   logx.Printer
	Now      func() time.Time
}

type run struct {
	o      *Orchestrator
	rc     RunContext
	cp     *Checkpoint
	prior  State
	report *Report
	logger logx.Printer

	extractTool tools.InstalledTool
	buildTool   tools.InstalledTool
	install     locate.InstallPath
	extracted   string
	components  vpk.ArchiveComponents
}

// Run executes the pipeline. The returned report is always non-nil; on
// failure the error is a *StageError and the workspace is left in place.
func (o *Orchestrator) Run(ctx context.Context, rc RunContext) (*Report, error) {
	r := &run{
		o:      o,
		rc:     rc,
		logger: o.Logger,
		report: &Report{
			RunID:     rc.RunID,
			State:     StateIdle,
			DryRun:    rc.Options.DryRun,
			StartedAt: o.now(),
			Workspace: rc.Workspace.Root,
		},
	}
	if r.logger == nil {
		r.logger = logx.Discard()
	}

	if rc.Options.ResumeID != "" {
		r.cp = LoadCheckpoint(rc.Workspace.StateFile(), rc.RunID)
		r.prior = r.cp.Reached
		r.cp.State, r.cp.Reached, r.cp.Stage, r.cp.Cause = StateIdle, StateIdle, "", ""
		r.logger.Printf("resuming run %s (previously reached %s)", rc.RunID, r.prior)
	} else {
		r.cp = newCheckpoint(rc.RunID)
		r.prior = StateIdle
	}

	if err := rc.Workspace.Create(); err != nil {
		r.report.State = StateFailed
		r.report.Failure = &Failure{Stage: StageTools, Cause: err.Error(), Workspace: rc.Workspace.Root}
		r.report.FinishedAt = o.now()
		return r.report, &StageError{Stage: StageTools, Err: err}
	}
	r.checkpoint()

	steps := []struct {
		stage Stage
		to    State
		fn    func(context.Context) (string, error)
	}{
		{StageTools, StateToolsReady, r.ensureTools},
		{StageLocate, StateInstallLocated, r.locate},
		{StageExtract, StateExtracted, r.extract},
		{StagePatch, StatePatched, r.patch},
		{StageBuild, StateBuilt, r.build},
		{StageDeploy, StateDeployed, r.deploy},
	}
	for _, s := range steps {
		if s.stage == StageDeploy && rc.Options.DryRun {
			r.emit(Event{Stage: s.stage, Kind: EventSkipped, Detail: "dry run"})
			break
		}
		if err := ctx.Err(); err != nil {
			return r.fail(s.stage, err)
		}
		r.emit(Event{Stage: s.stage, Kind: EventStarted})
		r.logger.Printf("stage %s: started", s.stage)
		detail, err := s.fn(ctx)
		if err != nil {
			return r.fail(s.stage, err)
		}
		if err := r.advance(s.to); err != nil {
			return r.fail(s.stage, err)
		}
		r.logger.Printf("stage %s: %s", s.stage, detail)
		r.emit(Event{Stage: s.stage, Kind: EventFinished, Detail: detail})
	}

	if err := r.advance(StateDone); err != nil {
		return r.fail(StageDeploy, err)
	}
	r.finishDone()
	return r.report, nil
}

func (r *run) advance(to State) error {
	if err := r.cp.advance(to, r.o.now(), r.rc.Options.DryRun); err != nil {
		return err
	}
	r.report.State = to
	r.checkpoint()
	return nil
}

func (r *run) checkpoint() {
	if err := r.cp.Save(r.rc.Workspace.StateFile()); err != nil {
		r.logger.Printf("write checkpoint: %v", err)
	}
}

func (r *run) fail(stage Stage, cause error) (*Report, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		r.logger.Printf("stage %s: interrupted", stage)
	}
	_ = r.cp.advance(StateFailed, r.o.now(), r.rc.Options.DryRun)
	r.cp.Stage = stage
	r.cp.Cause = cause.Error()
	r.checkpoint()

	f := diagnose(stage, cause, r.rc.Workspace.Root)
	if err := writeFailure(r.rc.Workspace.FailureFile(), f); err != nil {
		r.logger.Printf("write failure report: %v", err)
	}
	r.logger.Printf("stage %s failed: %v; workspace kept at %s", stage, cause, r.rc.Workspace.Root)

	r.report.State = StateFailed
	r.report.Failure = f
	r.report.WorkspaceKept = true
	r.report.FinishedAt = r.o.now()
	r.emit(Event{Stage: stage, Kind: EventFailed, Err: cause})
	return r.report, &StageError{Stage: stage, Err: cause}
}

func (r *run) finishDone() {
	r.report.FinishedAt = r.o.now()
	keep := r.rc.Options.KeepWorkspace || r.rc.Options.DryRun
	if keep {
		r.report.WorkspaceKept = true
		r.logger.Printf("run %s done; workspace kept at %s", r.rc.RunID, r.rc.Workspace.Root)
		return
	}
	if err := r.rc.Workspace.Remove(); err != nil {
		r.logger.Printf("remove workspace: %v", err)
		r.report.WorkspaceKept = true
		return
	}
	r.logger.Printf("run %s done; workspace removed", r.rc.RunID)
}

// ensureTools provisions the extraction and packing tools concurrently.
func (r *run) ensureTools(ctx context.Context) (string, error) {
	st := r.o.Stages
	if st.Tools == nil {
		return "", errors.New("no tool provider configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := st.Tools.Ensure(gctx, st.ExtractorSpec)
		if err != nil {
			return fmt.Errorf("%s: %w", st.ExtractorSpec.Name, err)
		}
		r.extractTool = t
		return nil
	})
	g.Go(func() error {
		t, err := st.Tools.Ensure(gctx, st.BuilderSpec)
		if err != nil {
			return fmt.Errorf("%s: %w", st.BuilderSpec.Name, err)
		}
		r.buildTool = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	r.report.Tools = []tools.InstalledTool{r.extractTool, r.buildTool}
	return fmt.Sprintf("%s %s, %s %s", r.extractTool.Name, versionOrUnknown(r.extractTool), r.buildTool.Name, versionOrUnknown(r.buildTool)), nil
}

func (r *run) locate(context.Context) (string, error) {
	if r.o.Stages.Locator == nil {
		return "", errors.New("no locator configured")
	}
	install, err := r.o.Stages.Locator.Locate()
	if err != nil {
		return "", err
	}
	archive := filepath.Join(install.GameDir(), "dota", SourceArchive)
	if _, err := os.Stat(archive); err != nil {
		return "", fmt.Errorf("installation at %s has no %s: %w", install.Root, SourceArchive, err)
	}
	r.install = install
	r.report.InstallPath = install.Root
	r.report.InstallStrategy = install.Strategy
	r.cp.Artifacts["install"] = install.Root
	return fmt.Sprintf("%s (via %s)", install.Root, install.Strategy), nil
}

func (r *run) extract(ctx context.Context) (string, error) {
	dest := r.rc.Workspace.Extract
	if prev := r.cp.Artifacts["extracted"]; prev != "" && r.prior.AtLeast(StateExtracted) {
		if ok, _ := paths.FileExists(prev); ok {
			r.extracted = prev
			r.report.Extracted = prev
			return "reused " + prev, nil
		}
	}
	x := r.o.Stages.NewExtractor(r.extractTool, r.rc)
	archive := filepath.Join(r.install.GameDir(), "dota", SourceArchive)
	file, err := x.ExtractEntry(ctx, archive, HeroesEntry, dest)
	if err != nil {
		return "", err
	}
	r.extracted = file.Path
	r.report.Extracted = file.Path
	r.report.ExtractTemplate = file.Template
	r.report.Escalated = file.Escalated
	r.cp.Artifacts["extracted"] = file.Path
	detail := file.Path + " via " + file.Template
	if file.Escalated {
		detail += " (full extraction)"
	}
	return detail, nil
}

func (r *run) patch(context.Context) (string, error) {
	dst := r.rc.Workspace.ContentPath(HeroesEntry)
	outcome, err := patch.PatchFile(r.extracted, dst, r.rc.Aliases)
	if err != nil {
		return "", err
	}
	summary := patch.Summarize(outcome.Results)
	r.report.Patch = outcome.Results
	r.report.PatchSummary = &summary
	r.cp.Artifacts["patched"] = dst
	r.cp.Artifacts["heroes_backup"] = outcome.Backup
	return summary.String(), nil
}

func (r *run) build(ctx context.Context) (string, error) {
	base := filepath.Join(r.rc.Workspace.Build, OutputBase)
	b := r.o.Stages.NewBuilder(r.buildTool, r.rc)
	comps, err := b.Build(ctx, r.rc.Workspace.Content, base)
	if err != nil {
		return "", err
	}
	r.components = comps
	r.report.Components = comps.Files()
	r.report.BuildTemplate = comps.Template
	r.report.Synthesized = comps.Synthesized
	r.cp.Artifacts["index"] = comps.Index
	detail := fmt.Sprintf("%d file(s)", len(comps.Files()))
	if comps.Synthesized {
		detail += ", synthesised"
	} else {
		detail += " via " + comps.Template
	}
	return detail, nil
}

func (r *run) deploy(context.Context) (string, error) {
	rel := filepath.FromSlash(r.rc.Aliases.Path)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("target path %q must stay inside the game directory", r.rc.Aliases.Path)
	}
	target := filepath.Join(r.install.GameDir(), rel)
	r.report.TargetDir = target

	d := r.o.Stages.NewDeployer(r.rc)
	m, err := d.Deploy(r.components.Files(), target)
	if err != nil {
		return "", err
	}
	r.report.Deployment = &m
	if m.RunID == "" {
		m.RunID = r.rc.RunID
	}
	path, err := deploy.Save(r.rc.Paths.DeploymentsDir, m)
	if err != nil {
		r.logger.Printf("save deployment manifest: %v", err)
		r.report.Hints = append(r.report.Hints, manualUndoHints(m, err)...)
	} else {
		r.report.ManifestPath = path
		r.cp.Artifacts["deployment"] = path
	}
	return fmt.Sprintf("%d file(s) into %s", len(m.Entries), target), nil
}

// manualUndoHints spell out how to revert m without a saved record.
func manualUndoHints(m deploy.Manifest, err error) []string {
	hints := []string{fmt.Sprintf("deployment record not saved (%v); dotalias restore cannot undo this run", err)}
	for _, e := range m.Entries {
		if e.Backup != "" {
			hints = append(hints, fmt.Sprintf("to undo by hand: delete %s and rename %s back to %s", e.Target, e.Backup, filepath.Base(e.Target)))
		} else {
			hints = append(hints, "to undo by hand: delete "+e.Target)
		}
	}
	return hints
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func versionOrUnknown(t tools.InstalledTool) string {
	if t.Version == "" {
		return "(version unknown)"
	}
	return t.Version
}
