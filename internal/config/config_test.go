package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeHero(t *testing.T) {
	tests := map[string]string{
		"faceless_void":               "faceless_void",
		"npc_dota_hero_faceless_void": "faceless_void",
		"  Faceless Void ":            "faceless_void",
		"NPC_DOTA_HERO_Anti-Mage":     "anti_mage",
	}
	for in, want := range tests {
		if got := NormalizeHero(in); got != want {
			t.Errorf("NormalizeHero(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseYAMLKeepsOrder(t *testing.T) {
	doc := `path: dota_lv
zuus: [zeus]
faceless_void:
  - jbl
  - jb
antimage: [am]
`
	m, err := Parse([]byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Path != "dota_lv" {
		t.Fatalf("unexpected path %q", m.Path)
	}
	var order []string
	for _, h := range m.Heroes {
		order = append(order, h.Key)
	}
	if !reflect.DeepEqual(order, []string{"zuus", "faceless_void", "antimage"}) {
		t.Fatalf("hero order not preserved: %v", order)
	}
	fv := m.Heroes[1]
	if !reflect.DeepEqual(fv.Aliases, []string{"jbl", "jb"}) {
		t.Fatalf("unexpected aliases %v", fv.Aliases)
	}
	if fv.Line != 3 {
		t.Fatalf("expected line 3, got %d", fv.Line)
	}
}

func TestParseJSONC(t *testing.T) {
	doc := `{
  // target folder
  "path": "dota_lv",
  "npc_dota_hero_faceless_void": ["jbl", "jb"], /* trailing */
  "antimage": ["am"],
}`
	m, err := Parse([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Heroes) != 2 || m.Heroes[0].Key != "faceless_void" || m.Heroes[1].Key != "antimage" {
		t.Fatalf("unexpected heroes %+v", m.Heroes)
	}
	if m.AliasCount() != 3 {
		t.Fatalf("expected 3 aliases, got %d", m.AliasCount())
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "missing path", doc: "faceless_void: [jb]\n", want: "path"},
		{name: "alias not a list", doc: "path: dota_lv\nfaceless_void: jb\n", want: "faceless_void"},
		{name: "semicolon in alias", doc: "path: dota_lv\nfaceless_void: [\"a;b\"]\n", want: "faceless_void"},
		{name: "backslash in alias", doc: "path: dota_lv\nfaceless_void: ['fv\\']\n", want: "faceless_void"},
		{name: "no heroes", doc: "path: dota_lv\n", want: "invalid alias file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidAlias(t *testing.T) {
	tests := map[string]bool{
		"jbl":        true,
		"faceless v": true,
		"фв":         true,
		"fv\\":       false,
		"a\"b":       false,
		"a;b":        false,
		"a\nb":       false,
		"":           false,
	}
	for alias, want := range tests {
		if got := ValidAlias(alias); got != want {
			t.Errorf("ValidAlias(%q) = %v, want %v", alias, got, want)
		}
	}
}

func TestParseRejectsEquivalentHeroes(t *testing.T) {
	doc := "path: dota_lv\nfaceless_void: [jb]\nnpc_dota_hero_faceless_void: [jbl]\n"
	_, err := Parse([]byte(doc), FormatYAML)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	issues := verrs.Issues()
	if len(issues) != 1 || issues[0].Line != 3 {
		t.Fatalf("unexpected issues %+v", issues)
	}
}

func TestParseRejectsEscapingPath(t *testing.T) {
	_, err := Parse([]byte("path: ../dota\nfaceless_void: [jb]\n"), FormatYAML)
	if err == nil || !strings.Contains(err.Error(), "relative") {
		t.Fatalf("expected relative path error, got %v", err)
	}
}

func TestLoadDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alias.jsonc")
	if err := os.WriteFile(path, []byte(`{"path": "dota_lv", "axe": ["mogul"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Heroes) != 1 || m.Heroes[0].Aliases[0] != "mogul" {
		t.Fatalf("unexpected map %+v", m)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestSampleAliasFileParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := WriteSample(path, false); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := WriteSample(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("sample does not load: %v", err)
	}
	if m.Path != "dota_lv" || len(m.Heroes) != 2 {
		t.Fatalf("unexpected sample contents %+v", m)
	}
}
