// Package deploy places built archive files into the game directory, backing
// up whatever they replace.
package deploy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"dotalias/internal/logx"
)

const backupStamp = "20060102-150405"

// Entry records one deployed file.
type Entry struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Backup       string `json:"backup,omitempty"`
	Digest       string `json:"digest"`
	BackupDigest string `json:"backup_digest,omitempty"`
}

// Manifest describes a deployment well enough to undo it.
type Manifest struct {
	RunID      string    `json:"run_id"`
	TargetDir  string    `json:"target_dir"`
	DeployedAt time.Time `json:"deployed_at"`
	Entries    []Entry   `json:"entries"`
}

// DeploymentError reports a failed placement. Files touched by the attempt
// have been rolled back unless RollbackErr says otherwise.
type DeploymentError struct {
	TargetDir   string
	File        string
	Op          string
	Err         error
	RollbackErr error
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("deploy %s into %s: %s: %v", filepath.Base(e.File), e.TargetDir, e.Op, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback incomplete: %v)", e.RollbackErr)
	}
	return msg
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// Deployer copies files into a target directory.
type Deployer struct {
	RunID  string
	Logger logx.Printer
	Now    func() time.Time
}

// Deploy places each file under targetDir by base name. Existing files are
// renamed to <name>.<timestamp>.bak first; new content lands through a temp
// file and a rename. On any failure every change of this call is reverted.
func (d *Deployer) Deploy(files []string, targetDir string) (Manifest, error) {
	logger := d.logger()
	now := d.now()
	m := Manifest{RunID: d.RunID, TargetDir: targetDir, DeployedAt: now.UTC()}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Manifest{}, &DeploymentError{TargetDir: targetDir, Op: "create target dir", Err: err}
	}

	var placed []Entry
	fail := func(file, op string, err error, partial *Entry) (Manifest, error) {
		undo := placed
		if partial != nil {
			undo = append(undo, *partial)
		}
		rbErr := rollback(undo, logger)
		return Manifest{}, &DeploymentError{TargetDir: targetDir, File: file, Op: op, Err: err, RollbackErr: rbErr}
	}

	for _, src := range files {
		target := filepath.Join(targetDir, filepath.Base(src))
		entry := Entry{Source: src, Target: target}

		if _, err := os.Lstat(target); err == nil {
			sum, err := Digest(target)
			if err != nil {
				return fail(src, "hash existing file", err, nil)
			}
			backup := backupPath(target, now)
			if err := os.Rename(target, backup); err != nil {
				return fail(src, "back up existing file", err, nil)
			}
			entry.Backup = backup
			entry.BackupDigest = sum
			logger.Printf("backed up %s to %s", target, filepath.Base(backup))
		} else if !errors.Is(err, os.ErrNotExist) {
			return fail(src, "inspect target", err, nil)
		}

		sum, err := place(src, target)
		if err != nil {
			return fail(src, "write file", err, &entry)
		}
		entry.Digest = sum
		placed = append(placed, entry)
		logger.Printf("deployed %s (%s)", target, sum[:16])
	}

	m.Entries = placed
	return m, nil
}

// backupPath picks <target>.<stamp>.bak, adding a counter when a backup from
// the same second exists.
func backupPath(target string, now time.Time) string {
	base := target + "." + now.Format(backupStamp)
	candidate := base + ".bak"
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = base + "-" + strconv.Itoa(i) + ".bak"
	}
}

// place copies src to target through a temp file in the target dir and
// returns the BLAKE3 digest of what was written.
func place(src, target string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+"-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	h := blake3.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), in); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", err
	}
	committed = true
	return hex.EncodeToString(h.Sum(nil)), nil
}

// rollback reverts entries newest first.
func rollback(entries []Entry, logger logx.Printer) error {
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Digest != "" {
			if err := os.Remove(e.Target); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", e.Target, err))
				continue
			}
		}
		if e.Backup == "" {
			continue
		}
		if err := os.Rename(e.Backup, e.Target); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", e.Target, err))
			continue
		}
		logger.Printf("rolled back %s", e.Target)
	}
	return errors.Join(errs...)
}

// Digest returns the hex BLAKE3 digest of a file.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *Deployer) logger() logx.Printer {
	if d.Logger == nil {
		return logx.Discard()
	}
	return d.Logger
}

func (d *Deployer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
