package cli

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"dotalias/internal/config"
	"dotalias/internal/locate"
	"dotalias/internal/paths"
	"dotalias/internal/pipeline"
	"dotalias/internal/tools"
	"dotalias/internal/vpk"
)

const testHeroes = "\"DOTAHeroes\"\n{\n\t\"npc_dota_hero_faceless_void\"\n\t{\n\t\t\"Model\"\t\t\"models/heroes/faceless_void/faceless_void.vmdl\"\n\t}\n\t\"npc_dota_hero_antimage\"\n\t{\n\t\t\"NameAliases\"\t\t\"magina\"\n\t}\n}\n"

const testAliases = "path: dota_lv\nfaceless_void:\n  - jbl\n  - jb\nantimage:\n  - am\n"

// resetGlobals isolates the package-level flag variables and points the
// application home at a temp dir.
func resetGlobals(t *testing.T) {
	t.Helper()
	prevHome, prevJSON, prevVerbose, prevPlain := homeDir, outputJSON, verbose, plainOutput
	prevConfig, prevDota := configPath, dotaPath
	prevDry, prevKeep, prevResume := runDryRun, runKeepWorkspace, runResumeID
	prevFactory := stageFactory
	t.Cleanup(func() {
		homeDir, outputJSON, verbose, plainOutput = prevHome, prevJSON, prevVerbose, prevPlain
		configPath, dotaPath = prevConfig, prevDota
		runDryRun, runKeepWorkspace, runResumeID = prevDry, prevKeep, prevResume
		stageFactory = prevFactory
	})

	homeDir = t.TempDir()
	outputJSON, verbose, plainOutput = false, false, true
	configPath, dotaPath = config.DefaultFileName, ""
	runDryRun, runKeepWorkspace, runResumeID = false, false, ""
}

func executeCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeGame lays out a minimal install root holding game/dota/pak01_dir.vpk.
func fakeGame(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "game", "dota", pipeline.SourceArchive), "vpk")
	return root
}

type stubTools struct{}

func (stubTools) Ensure(_ context.Context, spec tools.ToolSpec) (tools.InstalledTool, error) {
	return tools.InstalledTool{Name: spec.Name, Path: "/bin/" + spec.Name, Version: "1.0", Source: tools.SourceCache}, nil
}

type stubExtractor struct{}

func (stubExtractor) ExtractEntry(_ context.Context, _, entry, destDir string) (vpk.ExtractedFile, error) {
	path := filepath.Join(destDir, filepath.FromSlash(entry))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vpk.ExtractedFile{}, err
	}
	if err := os.WriteFile(path, []byte(testHeroes), 0o644); err != nil {
		return vpk.ExtractedFile{}, err
	}
	return vpk.ExtractedFile{Path: path, Template: "stub"}, nil
}

type stubBuilder struct{}

func (stubBuilder) Build(_ context.Context, contentDir, base string) (vpk.ArchiveComponents, error) {
	data, err := os.ReadFile(filepath.Join(contentDir, filepath.FromSlash(pipeline.HeroesEntry)))
	if err != nil {
		return vpk.ArchiveComponents{}, err
	}
	if err := os.WriteFile(base+"_dir.vpk", []byte{0x34, 0x12, 0xaa, 0x55}, 0o644); err != nil {
		return vpk.ArchiveComponents{}, err
	}
	if err := os.WriteFile(base+"_000.vpk", data, 0o644); err != nil {
		return vpk.ArchiveComponents{}, err
	}
	return vpk.ArchiveComponents{Index: base + "_dir.vpk", Data: []string{base + "_000.vpk"}, Template: "stub"}, nil
}

// stubStages keeps the real locator and deployer and replaces everything
// that would run external tools.
func stubStages(_ paths.AppPaths, _ tools.ProgressSink, logger *log.Logger) pipeline.StageSet {
	st := pipeline.DefaultStages(stubTools{}, &locate.Locator{Override: dotaPath, Logger: logger}, logger)
	st.NewExtractor = func(tools.InstalledTool, pipeline.RunContext) pipeline.EntryExtractor { return stubExtractor{} }
	st.NewBuilder = func(tools.InstalledTool, pipeline.RunContext) pipeline.ArchiveBuilder { return stubBuilder{} }
	return st
}

func TestRunCommandDeploysArchive(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages

	game := fakeGame(t)
	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)

	out, err := executeCmd(t, newRunCmd(), "--config", cfg, "--dota-path", game)
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}
	for _, want := range []string{"[deploy] done:", ": Done", "1 new, 1 appended", "undo with: dotalias restore"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	deployed, err := os.ReadFile(filepath.Join(game, "game", "dota_lv", "pak02_000.vpk"))
	if err != nil {
		t.Fatalf("deployed data part: %v", err)
	}
	if !strings.Contains(string(deployed), "\"NameAliases\"\t\t\"jbl;jb\"") || !strings.Contains(string(deployed), "\"magina;am\"") {
		t.Fatalf("deployed content not patched:\n%s", deployed)
	}

	entries, _ := os.ReadDir(filepath.Join(homeDir, "work"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "run-") {
			t.Errorf("workspace %s should be removed after success", e.Name())
		}
	}
}

func TestRunCommandDryRunKeepsGameUntouched(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages

	game := fakeGame(t)
	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)

	out, err := executeCmd(t, newRunCmd(), "--config", cfg, "--dota-path", game, "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run returned error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[deploy] skipped") || !strings.Contains(out, "Workspace kept at") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if ok, _ := paths.DirExists(filepath.Join(game, "game", "dota_lv")); ok {
		t.Fatal("dry run must not create the target folder")
	}
}

func TestRunCommandMissingInstallFails(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages

	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)

	out, err := executeCmd(t, newRunCmd(), "--config", cfg, "--dota-path", filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatalf("expected failure, output:\n%s", out)
	}
	if !strings.Contains(err.Error(), "dotalias run --resume") {
		t.Errorf("error should offer a resume command: %v", err)
	}
	if !strings.Contains(out, "Failed at stage locate") || !strings.Contains(out, "Tried:") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunCommandRejectsInvalidAliasFile(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages

	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, "path: dota_lv\n")

	if _, err := executeCmd(t, newRunCmd(), "--config", cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunCommandRejectsResumeOutsideWorkRoot(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages

	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)
	deployments := filepath.Join(homeDir, "deployments")
	writeFile(t, filepath.Join(deployments, "keep.json"), "{}")

	_, err := executeCmd(t, newRunCmd(), "--config", cfg, "--dota-path", fakeGame(t), "--resume", "x/../../deployments")
	if err == nil || !strings.Contains(err.Error(), "invalid run id") {
		t.Fatalf("expected invalid run id error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(deployments, "keep.json")); err != nil {
		t.Fatalf("deployments touched: %v", err)
	}
}
