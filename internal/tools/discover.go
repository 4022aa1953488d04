package tools

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var errFound = errors.New("found")

// discoverExecutable looks for one of spec's executables under root. Names
// are tried in preference order at the root, then in each search dir, then
// anywhere below root ignoring case, and finally by marker substring.
func discoverExecutable(spec ToolSpec, root string) (string, bool) {
	if !dirExists(root) {
		return "", false
	}

	for _, name := range spec.Executables {
		if p := filepath.Join(root, name); isExecutableFile(p) {
			return p, true
		}
	}
	for _, dir := range spec.SearchDirs {
		for _, name := range spec.Executables {
			if p := filepath.Join(root, dir, name); isExecutableFile(p) {
				return p, true
			}
		}
	}
	for _, name := range spec.Executables {
		if p, ok := walkFor(root, func(base string) bool { return strings.EqualFold(base, name) }); ok {
			return p, true
		}
	}
	for _, marker := range spec.Markers {
		m := strings.ToLower(marker)
		if p, ok := walkFor(root, func(base string) bool {
			lower := strings.ToLower(base)
			return strings.Contains(lower, m) && looksRunnable(lower)
		}); ok {
			return p, true
		}
	}
	return "", false
}

func walkFor(root string, match func(base string) bool) (string, bool) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if match(d.Name()) && isExecutableFile(path) {
			found = path
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, true
	}
	return "", false
}

// looksRunnable filters marker matches down to plausible executables so a
// readme that happens to carry the tool name is never picked.
func looksRunnable(lowerBase string) bool {
	ext := filepath.Ext(lowerBase)
	if runtime.GOOS == "windows" {
		return ext == ".exe"
	}
	switch ext {
	case "", ".bin", ".appimage":
		return true
	}
	return false
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() > 0
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// makeExecutable sets the executable bits archives sometimes drop.
func makeExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode().Perm()|0o755)
}
