// Package vpk drives the external archive tools that read and write Valve
// pack files. The tools' argument syntax drifts between releases, so every
// supported syntax is described as a Template and tried in order.
package vpk

import (
	"strings"

	"dotalias/internal/tools"
)

// Placeholders substituted into template arguments.
const (
	PlaceholderArchive = "{archive}"
	PlaceholderOut     = "{out}"
	PlaceholderEntry   = "{entry}"
	PlaceholderContent = "{content}"
	PlaceholderBase    = "{base}"
)

// Template is one argument shape accepted by some tool version.
type Template struct {
	Name    string
	Dialect string
	Args    []string
}

// Expand returns the arguments with placeholders replaced.
func (t Template) Expand(vars map[string]string) []string {
	out := make([]string, len(t.Args))
	for i, arg := range t.Args {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}

// EntryTemplates extract one archive entry into {out}.
var EntryTemplates = []Template{
	{Name: "s2v-short", Dialect: tools.DialectSource2Viewer, Args: []string{"-i", PlaceholderArchive, "-o", PlaceholderOut, "-f", PlaceholderEntry}},
	{Name: "s2v-long", Dialect: tools.DialectSource2Viewer, Args: []string{"--input", PlaceholderArchive, "--output", PlaceholderOut, "--vpk_filepath", PlaceholderEntry}},
	{Name: "vrf-e", Dialect: tools.DialectVRF, Args: []string{"-i", PlaceholderArchive, "-o", PlaceholderOut, "-e", PlaceholderEntry}},
	{Name: "vrf-extract", Dialect: tools.DialectVRF, Args: []string{"extract", "-i", PlaceholderArchive, "-o", PlaceholderOut, "-f", PlaceholderEntry}},
}

// FullTemplates unpack a whole archive into {out}.
var FullTemplates = []Template{
	{Name: "s2v-full", Dialect: tools.DialectSource2Viewer, Args: []string{"-i", PlaceholderArchive, "-o", PlaceholderOut}},
	{Name: "s2v-extract-full", Dialect: tools.DialectSource2Viewer, Args: []string{"extract", "-i", PlaceholderArchive, "-o", PlaceholderOut}},
	{Name: "vrf-full", Dialect: tools.DialectVRF, Args: []string{"-i", PlaceholderArchive, "-o", PlaceholderOut}},
}

// BuildTemplates pack {content} into a split archive named after {base}. The
// order is fixed: newest syntax first, the single-file fallback last.
var BuildTemplates = []Template{
	{Name: "split-v2", Dialect: tools.DialectVPKEdit, Args: []string{PlaceholderContent, "--output", PlaceholderBase + ".vpk", "--version", "2"}},
	{Name: "split-v2-chunk", Dialect: tools.DialectVPKEdit, Args: []string{PlaceholderContent, "--output", PlaceholderBase + ".vpk", "--version", "2", "--chunksize", "200"}},
	{Name: "split-v1", Dialect: tools.DialectVPKEdit, Args: []string{PlaceholderContent, "--output", PlaceholderBase + ".vpk", "--version", "1"}},
	{Name: "short-flags", Dialect: tools.DialectVPKEdit, Args: []string{PlaceholderContent, "-o", PlaceholderBase + ".vpk", "-v", "2", "-c", "200"}},
	{Name: "single-file", Dialect: tools.DialectVPKEdit, Args: []string{"--output", PlaceholderOut, "--single-file", PlaceholderContent}},
}

// orderTemplates puts the templates of dialect first, keeping the relative
// order within each group.
func orderTemplates(all []Template, dialect string) []Template {
	ordered := make([]Template, 0, len(all))
	for _, t := range all {
		if dialect != "" && t.Dialect == dialect {
			ordered = append(ordered, t)
		}
	}
	for _, t := range all {
		if dialect == "" || t.Dialect != dialect {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
