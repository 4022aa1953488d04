package tools

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

const (
	ToolVRF     = "vrf"
	ToolVPKEdit = "vpkedit"
)

var toolDefinitions = map[string]ToolSpec{
	ToolVRF: {
		Name:         ToolVRF,
		Repo:         "ValveResourceFormat/ValveResourceFormat",
		AssetPattern: vrfAssetPattern(),
		Executables:  []string{executableName("VRF"), executableName("Source2Viewer-CLI")},
		SearchDirs:   []string{"ValveResourceFormat"},
		Markers:      []string{"Source2Viewer-CLI", "VRF"},
		Dialects: map[string]string{
			"source2viewer-cli": DialectSource2Viewer,
			"source2viewer":     DialectSource2Viewer,
			"vrf":               DialectVRF,
		},
		ProbeArgs: [][]string{{"--version"}, {"--help"}},
	},
	ToolVPKEdit: {
		Name:         ToolVPKEdit,
		Repo:         "craftablescience/VPKEdit",
		AssetPattern: vpkeditAssetPattern(),
		Executables:  []string{executableName("vpkeditcli"), executableName("VPKEdit-cli")},
		SearchDirs:   []string{"VPKEdit", "bin"},
		Markers:      []string{"vpkeditcli", "VPKEdit-cli"},
		Dialects: map[string]string{
			"vpkeditcli":  DialectVPKEdit,
			"vpkedit-cli": DialectVPKEdit,
		},
		ProbeArgs: [][]string{{"--version"}, {"--help"}},
	},
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func vrfAssetPattern() string {
	arch := "x64"
	if runtime.GOARCH == "arm64" {
		arch = "arm64"
	}
	switch runtime.GOOS {
	case "darwin":
		return "cli-macos-" + arch + ".zip"
	case "linux":
		return "cli-linux-" + arch + ".zip"
	default:
		return "cli-windows-" + arch + ".zip"
	}
}

func vpkeditAssetPattern() string {
	switch runtime.GOOS {
	case "linux":
		return "linux-cli-portable.zip"
	case "windows":
		return "windows-cli-portable.zip"
	default:
		return ""
	}
}

// KnownTools returns the list of managed tool names.
func KnownTools() []string {
	names := make([]string, 0, len(toolDefinitions))
	for name := range toolDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the tool definition for the provided name.
func Definition(name string) (ToolSpec, bool) {
	def, ok := toolDefinitions[name]
	return def, ok
}

// DialectFor derives the command dialect from an executable path. Exact stem
// matches win over substring matches.
func DialectFor(spec ToolSpec, executable string) string {
	stem := strings.ToLower(filepath.Base(executable))
	stem = strings.TrimSuffix(stem, ".exe")
	if d, ok := spec.Dialects[stem]; ok {
		return d
	}
	keys := make([]string, 0, len(spec.Dialects))
	for k := range spec.Dialects {
		keys = append(keys, k)
	}
	// Longest key first so "source2viewer-cli" beats "source2viewer".
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.Contains(stem, k) {
			return spec.Dialects[k]
		}
	}
	return ""
}
