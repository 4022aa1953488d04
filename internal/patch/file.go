package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"dotalias/internal/config"
)

// FileOutcome describes a PatchFile call.
type FileOutcome struct {
	Source  string   `json:"source"`
	Output  string   `json:"output"`
	Backup  string   `json:"backup,omitempty"`
	Changed bool     `json:"changed"`
	Results []Result `json:"results"`
}

// PatchFile applies aliases to the hero file at src and writes the result to
// dst (which may equal src). The untouched source is first copied to
// src + ".bak".
func PatchFile(src, dst string, m config.AliasMap) (FileOutcome, error) {
	outcome := FileOutcome{Source: src, Output: dst}

	data, err := os.ReadFile(src)
	if err != nil {
		return outcome, fmt.Errorf("read hero file: %w", err)
	}

	backup := src + ".bak"
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return outcome, fmt.Errorf("write hero file backup: %w", err)
	}
	outcome.Backup = backup

	patched, results, err := ApplyAliases(string(data), m)
	if err != nil {
		return outcome, err
	}
	outcome.Results = results
	outcome.Changed = patched != string(data)

	if !outcome.Changed && dst == src {
		return outcome, nil
	}
	if err := writeAtomic(dst, []byte(patched)); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".patch-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
