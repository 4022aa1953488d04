package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const manifestFileName = "manifest.json"

// manifestMu serialises read-modify-write cycles of concurrent installs.
var manifestMu sync.Mutex

func downloadsDir(toolsDir string) string {
	return filepath.Join(toolsDir, "downloads")
}

func installDir(toolsDir, tool string) string {
	return filepath.Join(toolsDir, tool)
}

func loadManifest(toolsDir string) (Manifest, error) {
	path := filepath.Join(toolsDir, manifestFileName)
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{Entries: map[string]ManifestEntry{}}, nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(contents, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Entries == nil {
		manifest.Entries = map[string]ManifestEntry{}
	}
	return manifest, nil
}

func saveManifest(toolsDir string, m Manifest) error {
	path := filepath.Join(toolsDir, manifestFileName)
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		return fmt.Errorf("prepare manifest directory: %w", err)
	}

	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(toolsDir, "manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// recordInstall stores entry in the manifest, replacing any previous entry for
// the same tool.
func recordInstall(toolsDir string, entry ManifestEntry) error {
	manifestMu.Lock()
	defer manifestMu.Unlock()
	m, err := loadManifest(toolsDir)
	if err != nil {
		return err
	}
	m.Entries[entry.Tool] = entry
	return saveManifest(toolsDir, m)
}
