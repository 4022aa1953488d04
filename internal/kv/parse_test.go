package kv

import (
	"errors"
	"reflect"
	"testing"
)

const sample = `// Dota Heroes File
"DOTAHeroes"
{
	"Version"		"1"
	"npc_dota_hero_antimage"
	{
		"Model"		"models/heroes/antimage/antimage.vmdl"
		"Ability1"	"antimage_mana_break" [$WIN32]
		"Bot"
		{
			"Loadout"	{ "item_tango" "ITEM_CORE" }
		}
	}
	"npc_dota_hero_faceless_void"
	{
		"NameAliases"	"fv"
	}
}
`

func TestParseTree(t *testing.T) {
	doc, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Root.Children) != 1 {
		t.Fatalf("expected one root block, got %d", len(doc.Root.Children))
	}
	heroes := doc.Root.Children[0]
	if heroes.Name() != "DOTAHeroes" || !heroes.Block {
		t.Fatalf("unexpected root block %+v", heroes.Key)
	}

	var names []string
	for _, c := range heroes.Children {
		names = append(names, c.Name())
	}
	want := []string{"Version", "npc_dota_hero_antimage", "npc_dota_hero_faceless_void"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("children = %v, want %v", names, want)
	}

	am := heroes.Child("NPC_DOTA_HERO_ANTIMAGE")
	if am == nil {
		t.Fatalf("case-insensitive child lookup failed")
	}
	if ab := am.Child("Ability1"); ab == nil || ab.Cond != "[$WIN32]" {
		t.Fatalf("conditional not attached: %+v", ab)
	}
	if sample[am.Close.Start] != '}' || sample[am.Open.Start] != '{' {
		t.Fatalf("brace offsets are wrong")
	}

	fv := heroes.Child("npc_dota_hero_faceless_void").Child("NameAliases")
	start, end := fv.Value.ContentRange()
	if sample[start:end] != "fv" {
		t.Fatalf("value range = %q", sample[start:end])
	}
}

func TestValues(t *testing.T) {
	text := `"libraryfolders"
{
	"0" { "path" "C:\\Program Files (x86)\\Steam" "label" "" }
	"1" { "path" "D:\\SteamLibrary" }
}`
	doc, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := doc.Root.Values("path")
	want := []string{`C:\\Program Files (x86)\\Steam`, `D:\\SteamLibrary`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("values = %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{name: "unclosed block", text: "\"a\"\n{\n\"b\" \"c\"\n", line: 2},
		{name: "stray close", text: "\"a\" \"b\"\n}\n", line: 2},
		{name: "unterminated string", text: "\"a\" \"b\n", line: 1},
		{name: "dangling key", text: "\"a\" { \"b\" }", line: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError, got %v", err)
			}
			if se.Line != tt.line {
				t.Fatalf("line = %d, want %d (%v)", se.Line, tt.line, se)
			}
		})
	}
}

func TestBOMAndLineEnding(t *testing.T) {
	text := "\xef\xbb\xbf\"a\"\r\n{\r\n\t\"b\"\t\"c\"\r\n}\r\n"
	doc, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Root.Children[0].Name() != "a" {
		t.Fatalf("BOM leaked into key: %q", doc.Root.Children[0].Name())
	}
	if LineEnding(text) != "\r\n" {
		t.Fatalf("expected CRLF")
	}
	b := doc.Root.Children[0].Children[0]
	indent, ok := Indentation(text, b.Key.Start)
	if !ok || indent != "\t" {
		t.Fatalf("indentation = %q ok=%v", indent, ok)
	}
}
