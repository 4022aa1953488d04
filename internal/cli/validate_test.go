package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateCommandTable(t *testing.T) {
	resetGlobals(t)
	cfg := filepath.Join(t.TempDir(), "alias.yaml")
	writeFile(t, cfg, testAliases)

	out, err := executeCmd(t, newValidateCmd(), "--config", cfg)
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	for _, want := range []string{"ok", "game/dota_lv", "npc_dota_hero_faceless_void", "jbl;jb", "2 hero(es), 3 alias(es)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommandReportsIssues(t *testing.T) {
	resetGlobals(t)
	outputJSON = true
	cfg := filepath.Join(t.TempDir(), "alias.json")
	writeFile(t, cfg, `{
  // jsonc comments are allowed
  "path": "dota_lv",
  "axe": ["a;b"]
}`)

	out, err := executeCmd(t, newValidateCmd(), "--config", cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var got validateResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Valid || len(got.Issues) == 0 {
		t.Fatalf("expected issues, got %+v", got)
	}
	if !strings.HasPrefix(got.Issues[0].Field, "axe") {
		t.Fatalf("issue should point at axe: %+v", got.Issues[0])
	}
}
