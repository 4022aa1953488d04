package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotalias/internal/deploy"
	"dotalias/internal/paths"
)

func TestRestoreCommandUndoesLastRun(t *testing.T) {
	resetGlobals(t)
	stageFactory = stubStages
	prevForce, prevList := restoreForce, restoreList
	defer func() { restoreForce, restoreList = prevForce, prevList }()

	game := fakeGame(t)
	target := filepath.Join(game, "game", "dota_lv")
	writeFile(t, filepath.Join(target, "pak02_dir.vpk"), "previous index")
	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)

	if out, err := executeCmd(t, newRunCmd(), "--config", cfg, "--dota-path", game); err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}

	out, err := executeCmd(t, newRestoreCmd(), "--list")
	if err != nil || !strings.Contains(out, target) {
		t.Fatalf("restore --list: %v\n%s", err, out)
	}

	out, err = executeCmd(t, newRestoreCmd())
	if err != nil {
		t.Fatalf("restore returned error: %v", err)
	}
	if !strings.Contains(out, "2 file(s)") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	index, err := os.ReadFile(filepath.Join(target, "pak02_dir.vpk"))
	if err != nil || string(index) != "previous index" {
		t.Fatalf("index not restored: %q, %v", index, err)
	}
	if ok, _ := paths.FileExists(filepath.Join(target, "pak02_000.vpk")); ok {
		t.Fatal("deployed data part should be removed")
	}

	_, err = executeCmd(t, newRestoreCmd())
	if !errors.Is(err, deploy.ErrNoDeployments) {
		t.Fatalf("second restore: expected ErrNoDeployments, got %v", err)
	}
}
