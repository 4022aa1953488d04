package patch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dotalias/internal/config"
	"dotalias/internal/kv"
)

// AliasProperty is the hero section key holding the alias list.
const AliasProperty = "NameAliases"

// Kind is the per-hero outcome of ApplyAliases.
type Kind string

const (
	KindNewProperty Kind = "patched-new-property"
	KindAppended    Kind = "appended-existing-property"
	KindNotFound    Kind = "hero-not-found"
)

// Result describes what happened to one hero of the alias map.
type Result struct {
	Hero    string   `json:"hero"`
	Section string   `json:"section,omitempty"`
	Kind    Kind     `json:"kind"`
	Added   []string `json:"added,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// PatchError reports a source document that cannot be patched safely.
type PatchError struct {
	Line int
	Msg  string
	Err  error
}

func (e *PatchError) Error() string {
	msg := e.Msg
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		return "patch: " + msg + ": " + e.Err.Error()
	}
	return "patch: " + msg
}

func (e *PatchError) Unwrap() error { return e.Err }

type edit struct {
	start, end int
	text       string
}

// ApplyAliases adds the aliases of m to the matching hero sections of text.
// Bytes outside the touched alias values and inserted lines are preserved.
func ApplyAliases(text string, m config.AliasMap) (string, []Result, error) {
	for _, hero := range m.Heroes {
		for _, a := range hero.Aliases {
			if a != "" && !config.ValidAlias(a) {
				return "", nil, &PatchError{Msg: fmt.Sprintf("alias %q of %s cannot be stored in a quoted value", a, hero.Hero)}
			}
		}
	}
	doc, err := kv.Parse(text)
	if err != nil {
		var se *kv.SyntaxError
		if errors.As(err, &se) {
			return "", nil, &PatchError{Line: se.Line, Msg: "malformed hero file", Err: err}
		}
		return "", nil, &PatchError{Msg: "malformed hero file", Err: err}
	}
	root := heroRoot(doc)
	if root == nil {
		return "", nil, &PatchError{Msg: "no top-level block found"}
	}

	sections := indexSections(root)
	eol := kv.LineEnding(text)

	var (
		edits   []edit
		results = make([]Result, 0, len(m.Heroes))
	)
	for _, hero := range m.Heroes {
		section, ok := sections[hero.Key]
		if !ok {
			results = append(results, Result{Hero: hero.Hero, Kind: KindNotFound})
			continue
		}

		res := Result{Hero: hero.Hero, Section: section.Name()}
		if prop := section.Child(AliasProperty); prop != nil && !prop.Block {
			existing := SplitAliases(prop.Value.Text)
			merged, added := mergeAliases(existing, hero.Aliases)
			res.Kind = KindAppended
			res.Added = added
			res.Aliases = merged
			if len(added) > 0 {
				edits = append(edits, replaceValue(prop.Value, strings.Join(merged, ";")))
			}
		} else {
			merged, added := mergeAliases(nil, hero.Aliases)
			res.Kind = KindNewProperty
			res.Added = added
			res.Aliases = merged
			if len(merged) > 0 {
				edits = append(edits, insertProperty(text, section, strings.Join(merged, ";"), eol))
			}
		}
		results = append(results, res)
	}

	return applyEdits(text, edits), results, nil
}

// heroRoot returns the block whose children are hero sections: the single
// top-level block of npc_heroes.txt.
func heroRoot(doc *kv.Document) *kv.Node {
	for _, n := range doc.Root.Children {
		if n.Block {
			return n
		}
	}
	return nil
}

func indexSections(root *kv.Node) map[string]*kv.Node {
	sections := make(map[string]*kv.Node)
	for _, n := range root.Children {
		if !n.Block || !strings.HasPrefix(strings.ToLower(n.Name()), config.HeroPrefix) {
			continue
		}
		key := config.NormalizeHero(n.Name())
		if _, dup := sections[key]; dup {
			continue
		}
		sections[key] = n
	}
	return sections
}

// SplitAliases splits an existing NameAliases value. Values are separated by
// semicolons, or by whitespace when no semicolon is present.
func SplitAliases(value string) []string {
	var parts []string
	if strings.Contains(value, ";") {
		parts = strings.Split(value, ";")
	} else {
		parts = strings.Fields(value)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeAliases appends additions to existing, skipping exact duplicates.
func mergeAliases(existing, additions []string) (merged, added []string) {
	seen := make(map[string]struct{}, len(existing)+len(additions))
	merged = make([]string, 0, len(existing)+len(additions))
	for _, a := range existing {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		merged = append(merged, a)
	}
	for _, a := range additions {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		merged = append(merged, a)
		added = append(added, a)
	}
	return merged, added
}

func replaceValue(tok kv.Token, value string) edit {
	if tok.Quoted {
		start, end := tok.ContentRange()
		return edit{start: start, end: end, text: value}
	}
	return edit{start: tok.Start, end: tok.End, text: `"` + value + `"`}
}

// insertProperty adds a NameAliases line before the section's closing brace,
// copying the indentation and key/value separator of the section's first
// scalar property.
func insertProperty(text string, section *kv.Node, value, eol string) edit {
	indent, sep := "", "\t"
	closeIndent, closeOwnLine := kv.Indentation(text, section.Close.Start)

	var model *kv.Node
	for _, c := range section.Children {
		if !c.Block {
			model = c
			break
		}
	}
	if model == nil && len(section.Children) > 0 {
		model = section.Children[0]
	}

	switch {
	case model != nil:
		if ind, ok := kv.Indentation(text, model.Key.Start); ok {
			indent = ind
		} else {
			closeOwnLine = false
		}
		if !model.Block {
			if s := text[model.Key.End:model.Value.Start]; s != "" && !strings.ContainsAny(s, "\r\n") {
				sep = s
			}
		}
	default:
		indent = closeIndent + "\t"
	}

	line := `"` + AliasProperty + `"` + sep + `"` + value + `"`
	if closeOwnLine {
		at := kv.LineStart(text, section.Close.Start)
		return edit{start: at, end: at, text: indent + line + eol}
	}
	return edit{start: section.Close.Start, end: section.Close.Start, text: line + " "}
}

func applyEdits(text string, edits []edit) string {
	if len(edits) == 0 {
		return text
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := text
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out
}

// Summary counts results per kind.
type Summary struct {
	NewProperty int      `json:"new_property"`
	Appended    int      `json:"appended"`
	Unchanged   int      `json:"unchanged"`
	NotFound    []string `json:"not_found,omitempty"`
}

// Summarize aggregates per-hero results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Kind {
		case KindNewProperty:
			s.NewProperty++
		case KindAppended:
			if len(r.Added) == 0 {
				s.Unchanged++
			} else {
				s.Appended++
			}
		case KindNotFound:
			s.NotFound = append(s.NotFound, r.Hero)
		}
	}
	return s
}

func (s Summary) String() string {
	msg := fmt.Sprintf("%d new, %d appended, %d unchanged", s.NewProperty, s.Appended, s.Unchanged)
	if len(s.NotFound) > 0 {
		msg += fmt.Sprintf(", %d not found (%s)", len(s.NotFound), strings.Join(s.NotFound, ", "))
	}
	return msg
}
