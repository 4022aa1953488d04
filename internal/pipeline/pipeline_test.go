package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dotalias/internal/config"
	"dotalias/internal/deploy"
	"dotalias/internal/locate"
	"dotalias/internal/patch"
	"dotalias/internal/paths"
	"dotalias/internal/runner"
	"dotalias/internal/tools"
	"dotalias/internal/vpk"
)

const heroesText = "\"DOTAHeroes\"\n{\n\t\"npc_dota_hero_faceless_void\"\n\t{\n\t\t\"Model\"\t\t\"models/heroes/faceless_void/faceless_void.vmdl\"\n\t}\n}\n"

type fakeTools struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeTools) Ensure(_ context.Context, spec tools.ToolSpec) (tools.InstalledTool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spec.Name)
	if err := f.fail[spec.Name]; err != nil {
		return tools.InstalledTool{}, err
	}
	return tools.InstalledTool{Name: spec.Name, Path: "/bin/" + spec.Name, Version: "1.0"}, nil
}

type fakeLocator struct{ root string }

func (f fakeLocator) Locate() (locate.InstallPath, error) {
	return locate.InstallPath{Root: f.root, Strategy: locate.StrategyOverride}, nil
}

type fakeExtractor struct{ calls *int }

func (f fakeExtractor) ExtractEntry(_ context.Context, _, entry, destDir string) (vpk.ExtractedFile, error) {
	*f.calls++
	path := filepath.Join(destDir, filepath.FromSlash(entry))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vpk.ExtractedFile{}, err
	}
	if err := os.WriteFile(path, []byte(heroesText), 0o644); err != nil {
		return vpk.ExtractedFile{}, err
	}
	return vpk.ExtractedFile{Path: path, Template: "fake"}, nil
}

type fakeBuilder struct {
	fail    bool
	content *string
}

func (f fakeBuilder) Build(_ context.Context, contentDir, base string) (vpk.ArchiveComponents, error) {
	if f.fail {
		return vpk.ArchiveComponents{}, &vpk.ArchiveBuildError{
			Base:     base,
			Attempts: []runner.Invocation{{Label: "split-v2", ExitCode: 1, Stderr: "boom"}},
		}
	}
	data, err := os.ReadFile(filepath.Join(contentDir, filepath.FromSlash(HeroesEntry)))
	if err != nil {
		return vpk.ArchiveComponents{}, err
	}
	if f.content != nil {
		*f.content = string(data)
	}
	if err := os.WriteFile(base+"_dir.vpk", []byte{0x34, 0x12, 0xaa, 0x55}, 0o644); err != nil {
		return vpk.ArchiveComponents{}, err
	}
	if err := os.WriteFile(base+"_000.vpk", data, 0o644); err != nil {
		return vpk.ArchiveComponents{}, err
	}
	return vpk.ArchiveComponents{Index: base + "_dir.vpk", Data: []string{base + "_000.vpk"}, Template: "split-v2"}, nil
}

type harness struct {
	app        paths.AppPaths
	game       string
	extracts   int
	buildFails bool
	built      string
	events     []Event
	tools      *fakeTools
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	app, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	game := t.TempDir()
	archive := filepath.Join(game, "game", "dota", SourceArchive)
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, []byte("vpk"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &harness{app: app, game: game, tools: &fakeTools{}}
}

func (h *harness) orchestrator() *Orchestrator {
	return &Orchestrator{
		Stages: StageSet{
			Tools:         h.tools,
			Locator:       fakeLocator{root: h.game},
			ExtractorSpec: tools.ToolSpec{Name: "vrf"},
			BuilderSpec:   tools.ToolSpec{Name: "vpkedit"},
			NewExtractor: func(tools.InstalledTool, RunContext) EntryExtractor {
				return fakeExtractor{calls: &h.extracts}
			},
			NewBuilder: func(tools.InstalledTool, RunContext) ArchiveBuilder {
				return fakeBuilder{fail: h.buildFails, content: &h.built}
			},
			NewDeployer: func(rc RunContext) FileDeployer {
				return &deploy.Deployer{RunID: rc.RunID}
			},
		},
		Observer: ObserverFunc(func(e Event) { h.events = append(h.events, e) }),
	}
}

func aliases(pairs ...any) config.AliasMap {
	m := config.AliasMap{Path: "dota_lv"}
	for i := 0; i < len(pairs); i += 2 {
		hero := pairs[i].(string)
		m.Heroes = append(m.Heroes, config.HeroAliases{Hero: hero, Key: config.NormalizeHero(hero), Aliases: pairs[i+1].([]string)})
	}
	return m
}

func newRunContext(t *testing.T, app paths.AppPaths, m config.AliasMap, opts Options) RunContext {
	t.Helper()
	rc, err := NewRunContext(app, m, opts)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	return rc
}

func TestNewRunContextRejectsForeignResumeID(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"x/../../deployments", "..", "run-1", "../" + "6f1c2d3e-0000-4000-8000-000000000000"} {
		if _, err := NewRunContext(h.app, aliases("faceless_void", []string{"jbl"}), Options{ResumeID: id}); err == nil {
			t.Errorf("resume id %q accepted", id)
		}
	}

	id := "6F1C2D3E-0000-4000-8000-000000000000"
	rc := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{ResumeID: id})
	if rc.RunID != strings.ToLower(id) {
		t.Fatalf("run id = %q", rc.RunID)
	}
	if filepath.Dir(rc.Workspace.Root) != h.app.WorkRoot {
		t.Fatalf("workspace %s escapes %s", rc.Workspace.Root, h.app.WorkRoot)
	}
}

func TestRunDeploysPatchedArchive(t *testing.T) {
	h := newHarness(t)
	rc := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl", "jb"}), Options{})

	report, err := h.orchestrator().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("state = %s", report.State)
	}
	if !strings.Contains(h.built, "\"NameAliases\"\t\t\"jbl;jb\"") {
		t.Fatalf("builder did not see the patched file:\n%s", h.built)
	}

	target := filepath.Join(h.game, "game", "dota_lv")
	for _, name := range []string{"pak02_dir.vpk", "pak02_000.vpk"} {
		if _, err := os.Stat(filepath.Join(target, name)); err != nil {
			t.Fatalf("%s not deployed: %v", name, err)
		}
	}
	if report.ManifestPath == "" {
		t.Fatalf("deployment manifest not saved")
	}
	if m, err := deploy.Load(report.ManifestPath); err != nil || m.RunID != rc.RunID || len(m.Entries) != 2 {
		t.Fatalf("manifest = %+v, %v", m, err)
	}
	if _, err := os.Stat(rc.Workspace.Root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace should be removed after Done")
	}
	if report.WorkspaceKept {
		t.Fatalf("report claims the workspace was kept")
	}

	var finished []Stage
	for _, e := range h.events {
		if e.Kind == EventFinished {
			finished = append(finished, e.Stage)
		}
	}
	if len(finished) != len(AllStages) {
		t.Fatalf("finished stages = %v", finished)
	}
	if len(h.tools.calls) != 2 {
		t.Fatalf("tool calls = %v", h.tools.calls)
	}
}

func TestRunHintsManualUndoWhenRecordCannotBeSaved(t *testing.T) {
	h := newHarness(t)
	target := filepath.Join(h.game, "game", "dota_lv")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "pak02_dir.vpk"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	blocker := filepath.Join(t.TempDir(), "deployments")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h.app.DeploymentsDir = blocker
	rc := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{})

	report, err := h.orchestrator().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ManifestPath != "" {
		t.Fatalf("manifest path set despite the failed save")
	}
	hints := strings.Join(report.Hints, "\n")
	backup := report.Deployment.Entries[0].Backup
	if backup == "" {
		t.Fatalf("existing archive was not backed up: %+v", report.Deployment.Entries)
	}
	if !strings.Contains(hints, "restore cannot undo") || !strings.Contains(hints, backup) {
		t.Fatalf("hints should name the backup %s:\n%s", backup, hints)
	}
}

func TestRunDryRunStopsAfterBuild(t *testing.T) {
	h := newHarness(t)
	rc := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{DryRun: true})

	report, err := h.orchestrator().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateDone || len(report.Components) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := os.Stat(filepath.Join(h.game, "game", "dota_lv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run must not deploy")
	}
	if !report.WorkspaceKept {
		t.Fatalf("dry run keeps the built files")
	}
	last := h.events[len(h.events)-1]
	if last.Stage != StageDeploy || last.Kind != EventSkipped {
		t.Fatalf("last event = %+v", last)
	}
}

func TestRunFailureKeepsWorkspace(t *testing.T) {
	h := newHarness(t)
	h.buildFails = true
	rc := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{})

	report, err := h.orchestrator().Run(context.Background(), rc)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageBuild {
		t.Fatalf("expected build StageError, got %v", err)
	}
	var buildErr *vpk.ArchiveBuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("cause should stay inspectable: %v", err)
	}
	if report.State != StateFailed || report.Failure == nil || len(report.Failure.Attempts) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Failure.Workspace != rc.Workspace.Root || !report.WorkspaceKept {
		t.Fatalf("failure must point at the kept workspace")
	}

	data, err := os.ReadFile(rc.Workspace.FailureFile())
	if err != nil {
		t.Fatalf("failure.json: %v", err)
	}
	var f Failure
	if err := json.Unmarshal(data, &f); err != nil || f.Stage != StageBuild {
		t.Fatalf("failure.json = %s", data)
	}
	cp := LoadCheckpoint(rc.Workspace.StateFile(), rc.RunID)
	if cp.State != StateFailed || cp.Reached != StatePatched || cp.Stage != StageBuild {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if _, err := os.Stat(filepath.Join(rc.Workspace.Extract, "scripts", "npc", "npc_heroes.txt.bak")); err != nil {
		t.Fatalf("hero file backup missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.game, "game", "dota_lv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("nothing may be deployed after a failed build")
	}
}

func TestRunReportsMissingHeroWithoutFailing(t *testing.T) {
	h := newHarness(t)
	rc := newRunContext(t, h.app, aliases("unknown_hero_xyz", []string{"x"}, "faceless_void", []string{"jbl"}), Options{})

	report, err := h.orchestrator().Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Patch) != 2 || report.Patch[0].Kind != patch.KindNotFound || report.Patch[1].Kind != patch.KindNewProperty {
		t.Fatalf("patch results = %+v", report.Patch)
	}
	if report.PatchSummary == nil || len(report.PatchSummary.NotFound) != 1 {
		t.Fatalf("summary = %+v", report.PatchSummary)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orchestrator().Run(ctx, newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Failure.Stage != StageTools || len(h.tools.calls) != 0 {
		t.Fatalf("no stage should have run: %+v, calls %v", report.Failure, h.tools.calls)
	}
}

func TestRunToolFailureStopsBeforeLocate(t *testing.T) {
	h := newHarness(t)
	h.tools.fail = map[string]error{"vpkedit": &tools.ToolAcquisitionError{Tool: "vpkedit", Step: "resolve", Err: errors.New("no release"), Hints: []string{"download manually"}}}

	report, err := h.orchestrator().Run(context.Background(), newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{}))
	if err == nil || report.Failure.Stage != StageTools {
		t.Fatalf("expected tools failure, got %v", err)
	}
	if len(report.Failure.Hints) != 1 {
		t.Fatalf("hints not carried: %+v", report.Failure)
	}
	if h.extracts != 0 {
		t.Fatalf("extraction ran after a tool failure")
	}
}

func TestResumeReusesExtraction(t *testing.T) {
	h := newHarness(t)
	h.buildFails = true
	first := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{})
	if _, err := h.orchestrator().Run(context.Background(), first); err == nil {
		t.Fatalf("first run should fail")
	}

	h.buildFails = false
	resumed := newRunContext(t, h.app, aliases("faceless_void", []string{"jbl"}), Options{ResumeID: first.RunID})
	report, err := h.orchestrator().Run(context.Background(), resumed)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if h.extracts != 1 {
		t.Fatalf("extraction should be reused, ran %d times", h.extracts)
	}
	if report.State != StateDone {
		t.Fatalf("state = %s", report.State)
	}
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to State
		dryRun   bool
		want     bool
	}{
		{StateIdle, StateToolsReady, false, true},
		{StateIdle, StateExtracted, false, false},
		{StatePatched, StateExtracted, false, false},
		{StateBuilt, StateDone, false, false},
		{StateBuilt, StateDone, true, true},
		{StateExtracted, StateFailed, false, true},
		{StateFailed, StateToolsReady, false, false},
		{StateDone, StateFailed, false, false},
	}
	for _, tc := range tests {
		if got := canAdvance(tc.from, tc.to, tc.dryRun); got != tc.want {
			t.Errorf("canAdvance(%s, %s, %v) = %v, want %v", tc.from, tc.to, tc.dryRun, got, tc.want)
		}
	}
}

func TestStateAtLeast(t *testing.T) {
	if !StatePatched.AtLeast(StateExtracted) || !StateExtracted.AtLeast(StateExtracted) {
		t.Fatalf("forward states should compare as reached")
	}
	if StateInstallLocated.AtLeast(StateExtracted) {
		t.Fatalf("InstallLocated is before Extracted")
	}
	if StateFailed.AtLeast(StateIdle) {
		t.Fatalf("Failed is not ordered")
	}
}
