// Package locate finds the Dota 2 installation on disk.
package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dotalias/internal/kv"
	"dotalias/internal/logx"
)

// EnvOverride names the environment variable that pins the install path.
const EnvOverride = "DOTA2_PATH"

// Strategy names, in the order they run.
const (
	StrategyOverride = "override"
	StrategyRegistry = "registry"
	StrategyLibrary  = "library-folders"
)

var gameSubdirs = []string{
	filepath.Join("steamapps", "common", "dota 2 beta"),
	filepath.Join("SteamApps", "common", "dota 2 beta"),
}

var libraryManifests = []string{
	filepath.Join("steamapps", "libraryfolders.vdf"),
	filepath.Join("config", "libraryfolders.vdf"),
}

// InstallPath is a located game root, the directory holding game/dota.
type InstallPath struct {
	Root     string    `json:"root"`
	Strategy string    `json:"strategy"`
	Attempts []Attempt `json:"attempts,omitempty"`
}

// GameDir returns <root>/game.
func (p InstallPath) GameDir() string {
	return filepath.Join(p.Root, "game")
}

// Attempt records one probed candidate.
type Attempt struct {
	Strategy string `json:"strategy"`
	Path     string `json:"path"`
	Found    bool   `json:"found"`
	Reason   string `json:"reason,omitempty"`
}

// InstallationNotFoundError lists every path that was tried.
type InstallationNotFoundError struct {
	Attempts []Attempt
}

func (e *InstallationNotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("could not find the Dota 2 installation")
	if len(e.Attempts) > 0 {
		b.WriteString("; tried:")
		for _, a := range e.Attempts {
			fmt.Fprintf(&b, "\n  [%s] %s", a.Strategy, a.Path)
			if a.Reason != "" {
				fmt.Fprintf(&b, " (%s)", a.Reason)
			}
		}
	}
	b.WriteString("\nset " + EnvOverride + " or pass --dota-path \"path/to/dota 2 beta\"")
	return b.String()
}

// Locator runs the discovery strategies in order.
type Locator struct {
	// Override comes from --dota-path; when empty DOTA2_PATH is consulted.
	Override string
	Logger   logx.Printer
	// SteamRoots replaces registry and well-known root discovery when set.
	SteamRoots func() []string
	Getenv     func(string) string
}

// Locate returns the first candidate containing game/dota.
func (l *Locator) Locate() (InstallPath, error) {
	logger := l.Logger
	if logger == nil {
		logger = logx.Discard()
	}
	var attempts []Attempt
	record := func(a Attempt) {
		attempts = append(attempts, a)
		if a.Found {
			logger.Printf("locate [%s] %s: found", a.Strategy, a.Path)
			return
		}
		logger.Printf("locate [%s] %s: %s", a.Strategy, a.Path, a.Reason)
	}

	if override := l.override(); override != "" {
		a := probe(StrategyOverride, override)
		record(a)
		if a.Found {
			return InstallPath{Root: override, Strategy: StrategyOverride, Attempts: attempts}, nil
		}
		return InstallPath{}, &InstallationNotFoundError{Attempts: attempts}
	}

	roots := l.steamRoots()
	if len(roots) == 0 {
		record(Attempt{Strategy: StrategyRegistry, Path: "(steam)", Reason: "no Steam installation recorded"})
	}
	for _, root := range roots {
		for _, sub := range gameSubdirs {
			a := probe(StrategyRegistry, filepath.Join(root, sub))
			record(a)
			if a.Found {
				return InstallPath{Root: a.Path, Strategy: StrategyRegistry, Attempts: attempts}, nil
			}
		}
	}

	seen := map[string]bool{}
	for _, root := range roots {
		for _, manifest := range libraryManifests {
			libs, err := readLibraryFolders(filepath.Join(root, manifest))
			if err != nil {
				if !os.IsNotExist(err) {
					record(Attempt{Strategy: StrategyLibrary, Path: filepath.Join(root, manifest), Reason: err.Error()})
				}
				continue
			}
			for _, lib := range libs {
				for _, sub := range gameSubdirs {
					candidate := filepath.Join(lib, sub)
					if seen[candidate] {
						continue
					}
					seen[candidate] = true
					a := probe(StrategyLibrary, candidate)
					record(a)
					if a.Found {
						return InstallPath{Root: candidate, Strategy: StrategyLibrary, Attempts: attempts}, nil
					}
				}
			}
		}
	}

	return InstallPath{}, &InstallationNotFoundError{Attempts: attempts}
}

func (l *Locator) override() string {
	if v := strings.TrimSpace(l.Override); v != "" {
		return v
	}
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return strings.TrimSpace(getenv(EnvOverride))
}

func (l *Locator) steamRoots() []string {
	if l.SteamRoots != nil {
		return l.SteamRoots()
	}
	var roots []string
	seen := map[string]bool{}
	for _, r := range append(registryRoots(), wellKnownRoots()...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		roots = append(roots, r)
	}
	return roots
}

func probe(strategy, candidate string) Attempt {
	a := Attempt{Strategy: strategy, Path: candidate}
	info, err := os.Stat(candidate)
	switch {
	case err != nil:
		a.Reason = "does not exist"
	case !info.IsDir():
		a.Reason = "not a directory"
	default:
		if dinfo, err := os.Stat(filepath.Join(candidate, "game", "dota")); err == nil && dinfo.IsDir() {
			a.Found = true
		} else {
			a.Reason = "no game/dota inside"
		}
	}
	return a
}

// readLibraryFolders returns the "path" values of a Steam libraryfolders.vdf.
func readLibraryFolders(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := kv.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	var libs []string
	for _, v := range doc.Root.Values("path") {
		v = strings.ReplaceAll(v, `\\`, `\`)
		if v != "" {
			libs = append(libs, filepath.FromSlash(v))
		}
	}
	return libs, nil
}
