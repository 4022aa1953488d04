package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dotalias/internal/logx"
)

// ErrNoDeployments is returned by Latest when nothing was recorded yet.
var ErrNoDeployments = errors.New("no recorded deployments")

// Save writes m to <dir>/<run id>.json and returns the path.
func Save(dir string, m Manifest) (string, error) {
	if m.RunID == "" {
		return "", errors.New("manifest has no run id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create deployments dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, m.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// Load reads one manifest file.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// List returns every manifest under dir, newest first. Unreadable files are
// skipped.
func List(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		m, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeployedAt.After(out[j].DeployedAt)
	})
	return out, nil
}

// Latest returns the most recent manifest under dir.
func Latest(dir string) (Manifest, error) {
	all, err := List(dir)
	if err != nil {
		return Manifest{}, err
	}
	if len(all) == 0 {
		return Manifest{}, ErrNoDeployments
	}
	return all[0], nil
}

// MarkRestored renames the record of runID to <run id>.json.restored so it
// is no longer listed.
func MarkRestored(dir, runID string) error {
	path := filepath.Join(dir, runID+".json")
	if err := os.Rename(path, path+".restored"); err != nil {
		return fmt.Errorf("retire manifest: %w", err)
	}
	return nil
}

// RestoreOptions tunes Restore.
type RestoreOptions struct {
	// Force restores even when a deployed file changed since deployment.
	Force  bool
	Logger logx.Printer
}

// ModifiedError means a deployed file no longer matches its recorded digest.
type ModifiedError struct {
	Path string
	Want string
	Got  string
}

func (e *ModifiedError) Error() string {
	return fmt.Sprintf("%s changed since deployment (digest %s, recorded %s); use --force to restore anyway", e.Path, short(e.Got), short(e.Want))
}

// Restore undoes a deployment: deployed files are removed and their backups
// moved back. Every entry is attempted; failures are joined.
func Restore(m Manifest, opts RestoreOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = logx.Discard()
	}
	var errs []error
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if err := restoreEntry(m.Entries[i], opts.Force, logger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func restoreEntry(e Entry, force bool, logger logx.Printer) error {
	if e.Backup != "" {
		if _, err := os.Stat(e.Backup); err != nil {
			return fmt.Errorf("backup of %s: %w", e.Target, err)
		}
		if e.BackupDigest != "" {
			got, err := Digest(e.Backup)
			if err != nil {
				return fmt.Errorf("hash backup %s: %w", e.Backup, err)
			}
			if got != e.BackupDigest && !force {
				return &ModifiedError{Path: e.Backup, Want: e.BackupDigest, Got: got}
			}
		}
	}

	got, err := Digest(e.Target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Printf("%s already gone", e.Target)
	case err != nil:
		return fmt.Errorf("hash %s: %w", e.Target, err)
	case got != e.Digest && !force:
		return &ModifiedError{Path: e.Target, Want: e.Digest, Got: got}
	default:
		if err := os.Remove(e.Target); err != nil {
			return fmt.Errorf("remove %s: %w", e.Target, err)
		}
	}

	if e.Backup == "" {
		logger.Printf("removed %s", e.Target)
		return nil
	}
	if err := os.Rename(e.Backup, e.Target); err != nil {
		return fmt.Errorf("restore %s: %w", e.Target, err)
	}
	logger.Printf("restored %s from %s", e.Target, filepath.Base(e.Backup))
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
