package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotalias/internal/config"
	"dotalias/internal/locate"
	"dotalias/internal/tools"
)

func TestJoinComma(t *testing.T) {
	tests := []struct {
		input []string
		want  string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a, b"},
		{[]string{"a", "b", "c"}, "a, b, c"},
	}

	for _, tt := range tests {
		got := joinComma(tt.input)
		if got != tt.want {
			t.Errorf("joinComma(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCheckConfigWithError(t *testing.T) {
	result := checkConfig("alias.yaml", config.AliasMap{}, config.ValidationErrors{{Message: "no heroes declared"}})

	if result.Status != "error" {
		t.Errorf("got status=%q, want error", result.Status)
	}
	if result.Name != "Config" || !strings.Contains(result.Summary, "1 problem") {
		t.Errorf("unexpected check %+v", result)
	}
}

func TestCheckConfigValid(t *testing.T) {
	m := config.AliasMap{Path: "dota_lv", Heroes: []config.HeroAliases{{Hero: "antimage", Key: "antimage", Aliases: []string{"am"}}}}
	result := checkConfig("alias.yaml", m, nil)

	if result.Status != "ok" {
		t.Errorf("got status=%q, want ok", result.Status)
	}
	if !strings.Contains(result.Summary, "game/dota_lv") {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestCheckToolsMissingIsWarning(t *testing.T) {
	statuses := []tools.Status{
		{Tool: "vpkedit", Satisfied: true, Version: "4.4.2"},
		{Tool: "vrf"},
	}
	result := checkTools(statuses, nil)
	if result.Status != "warning" || !strings.Contains(result.Summary, "vrf") {
		t.Fatalf("unexpected check %+v", result)
	}

	if got := checkTools(statuses[:1], nil); got.Status != "ok" || got.Summary != "vpkedit 4.4.2" {
		t.Fatalf("unexpected check %+v", got)
	}
}

func TestCheckInstall(t *testing.T) {
	notFound := &locate.InstallationNotFoundError{Attempts: []locate.Attempt{{Strategy: "override", Path: "/nope"}}}
	if got := checkInstall(locate.InstallPath{}, notFound); got.Status != "error" || !strings.Contains(got.Summary, locate.EnvOverride) {
		t.Fatalf("unexpected check %+v", got)
	}

	root := t.TempDir()
	install := locate.InstallPath{Root: root, Strategy: "override"}
	if got := checkInstall(install, nil); got.Status != "error" {
		t.Fatalf("missing archive should be an error, got %+v", got)
	}

	archive := filepath.Join(root, "game", "dota", "pak01_dir.vpk")
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, []byte("vpk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := checkInstall(install, nil); got.Status != "ok" {
		t.Fatalf("unexpected check %+v", got)
	}

	if got := checkInstall(locate.InstallPath{}, errors.New("boom")); got.Summary != "boom" {
		t.Fatalf("unexpected check %+v", got)
	}
}

func TestCheckTargetWarnsAboutExistingArchive(t *testing.T) {
	root := t.TempDir()
	install := locate.InstallPath{Root: root}
	m := config.AliasMap{Path: "dota_lv"}

	if got := checkTarget(install, m); got.Status != "ok" || !strings.Contains(got.Summary, "will be created") {
		t.Fatalf("unexpected check %+v", got)
	}

	target := filepath.Join(root, "game", "dota_lv")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "pak02_dir.vpk"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := checkTarget(install, m); got.Status != "warning" || !strings.Contains(got.Summary, "pak02_dir.vpk") {
		t.Fatalf("unexpected check %+v", got)
	}
}
