package vpk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dotalias/internal/logx"
	"dotalias/internal/runner"
	"dotalias/internal/tools"
)

const (
	DefaultEntryTimeout = 60 * time.Second
	DefaultFullTimeout  = 10 * time.Minute
)

// ExtractedFile is an archive entry copied to disk.
type ExtractedFile struct {
	Path      string
	Template  string
	Escalated bool
	Attempts  []runner.Invocation
}

// ExtractionError means no template, nor a full extraction, produced the entry.
type ExtractionError struct {
	Archive    string
	Entry      string
	Attempts   []runner.Invocation
	Transcript string
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("could not extract %s from %s after %d attempt(s)", e.Entry, e.Archive, len(e.Attempts))
	if e.Transcript != "" {
		msg += " (transcript: " + e.Transcript + ")"
	}
	return msg
}

// Extractor pulls single entries out of an archive with an external tool.
type Extractor struct {
	Tool     tools.InstalledTool
	Runner   runner.Runner
	Logger   logx.Printer
	DebugDir string
	// ScratchDir hosts full extractions; empty means the system temp dir.
	ScratchDir    string
	EntryTimeout  time.Duration
	FullTimeout   time.Duration
	Templates     []Template
	FullTemplates []Template
}

// NewExtractor returns an Extractor with the default templates and timeouts.
func NewExtractor(tool tools.InstalledTool, debugDir string, logger logx.Printer) *Extractor {
	return &Extractor{
		Tool:          tool,
		Runner:        runner.CmdRunner{},
		Logger:        logger,
		DebugDir:      debugDir,
		EntryTimeout:  DefaultEntryTimeout,
		FullTimeout:   DefaultFullTimeout,
		Templates:     EntryTemplates,
		FullTemplates: FullTemplates,
	}
}

// ExtractEntry writes entry (a slash-separated archive path) of archive to
// destDir/entry. Single-entry templates are tried first, then the whole
// archive is unpacked into a scratch dir and searched.
func (x *Extractor) ExtractEntry(ctx context.Context, archive, entry, destDir string) (ExtractedFile, error) {
	logger := x.logger()
	target := filepath.Join(destDir, filepath.FromSlash(entry))
	var attempts []runner.Invocation

	for _, tmpl := range orderTemplates(x.templates(), x.Tool.Dialect) {
		if err := ctx.Err(); err != nil {
			return ExtractedFile{}, err
		}
		// A file left by an earlier attempt or run must not count as output
		// of this one.
		if err := removeStale(target); err != nil {
			return ExtractedFile{}, err
		}
		args := tmpl.Expand(map[string]string{
			PlaceholderArchive: archive,
			PlaceholderOut:     destDir,
			PlaceholderEntry:   entry,
		})
		logger.Printf("extract %s with %s: %s", entry, tmpl.Name, strings.Join(args, " "))
		res, err := x.run(ctx, args, x.entryTimeout())
		inv := runner.Record(tmpl.Name, x.Tool.Path, args, res, err)
		if err == nil && res.ExitCode == 0 {
			if fileExists(target) {
				attempts = append(attempts, inv)
				logger.Printf("extract %s succeeded with %s", entry, tmpl.Name)
				return ExtractedFile{Path: target, Template: tmpl.Name, Attempts: attempts}, nil
			}
			inv.Note = "exit 0 but " + target + " was not created"
		}
		attempts = append(attempts, inv)
		logger.Printf("extract template %s failed (exit %d)", tmpl.Name, res.ExitCode)
	}

	file, fullAttempts, err := x.escalate(ctx, archive, entry, target)
	attempts = append(attempts, fullAttempts...)
	if err == nil {
		file.Attempts = attempts
		return file, nil
	}
	if ctx.Err() != nil {
		return ExtractedFile{}, ctx.Err()
	}

	extErr := &ExtractionError{Archive: archive, Entry: entry, Attempts: attempts}
	if p, werr := runner.WriteTranscript(x.DebugDir, "extract", attempts); werr != nil {
		logger.Printf("write extraction transcript: %v", werr)
	} else {
		extErr.Transcript = p
	}
	return ExtractedFile{}, extErr
}

// escalate unpacks the whole archive into a fresh scratch dir and searches it
// for entry.
func (x *Extractor) escalate(ctx context.Context, archive, entry, target string) (ExtractedFile, []runner.Invocation, error) {
	logger := x.logger()
	var attempts []runner.Invocation

	for _, tmpl := range orderTemplates(x.fullTemplates(), x.Tool.Dialect) {
		if err := ctx.Err(); err != nil {
			return ExtractedFile{}, attempts, err
		}
		if x.ScratchDir != "" {
			if err := os.MkdirAll(x.ScratchDir, 0o755); err != nil {
				return ExtractedFile{}, attempts, fmt.Errorf("prepare scratch dir: %w", err)
			}
		}
		scratch, err := os.MkdirTemp(x.ScratchDir, "full-extract-")
		if err != nil {
			return ExtractedFile{}, attempts, fmt.Errorf("create scratch dir: %w", err)
		}
		args := tmpl.Expand(map[string]string{
			PlaceholderArchive: archive,
			PlaceholderOut:     scratch,
		})
		logger.Printf("full extraction with %s: %s", tmpl.Name, strings.Join(args, " "))
		res, runErr := x.run(ctx, args, x.fullTimeout())
		inv := runner.Record(tmpl.Name, x.Tool.Path, args, res, runErr)

		// Some versions unpack partially and still fail, so the tree is
		// searched regardless of the exit code.
		found, ok := findEntry(scratch, entry)
		if ok {
			if err := copyFile(found, target); err != nil {
				_ = os.RemoveAll(scratch)
				return ExtractedFile{}, append(attempts, inv), fmt.Errorf("copy extracted entry: %w", err)
			}
			_ = os.RemoveAll(scratch)
			inv.Note = "entry found at " + found
			attempts = append(attempts, inv)
			logger.Printf("full extraction with %s produced %s", tmpl.Name, entry)
			return ExtractedFile{Path: target, Template: tmpl.Name, Escalated: true}, attempts, nil
		}
		_ = os.RemoveAll(scratch)
		inv.Note = "entry not found in extracted tree"
		attempts = append(attempts, inv)
	}
	return ExtractedFile{}, attempts, errors.New("full extraction did not produce the entry")
}

// findEntry searches root for a file named like entry ignoring case,
// preferring a match whose path ends with the entry's full path.
func findEntry(root, entry string) (string, bool) {
	want := strings.ToLower(path.Clean(entry))
	base := path.Base(want)

	var candidates []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.EqualFold(d.Name(), base) {
			candidates = append(candidates, p)
		}
		return nil
	})
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	for _, c := range candidates {
		rel, err := filepath.Rel(root, c)
		if err != nil {
			continue
		}
		if strings.HasSuffix(strings.ToLower(filepath.ToSlash(rel)), want) {
			return c, true
		}
	}
	return candidates[0], true
}

func (x *Extractor) run(ctx context.Context, args []string, timeout time.Duration) (runner.RunResult, error) {
	r := x.Runner
	if r == nil {
		r = runner.CmdRunner{}
	}
	return r.Run(ctx, x.Tool.Path, args, runner.RunOptions{Timeout: timeout})
}

func (x *Extractor) logger() logx.Printer {
	if x.Logger == nil {
		return logx.Discard()
	}
	return x.Logger
}

func (x *Extractor) templates() []Template {
	if len(x.Templates) == 0 {
		return EntryTemplates
	}
	return x.Templates
}

func (x *Extractor) fullTemplates() []Template {
	if len(x.FullTemplates) == 0 {
		return FullTemplates
	}
	return x.FullTemplates
}

func (x *Extractor) entryTimeout() time.Duration {
	if x.EntryTimeout <= 0 {
		return DefaultEntryTimeout
	}
	return x.EntryTimeout
}

func (x *Extractor) fullTimeout() time.Duration {
	if x.FullTimeout <= 0 {
		return DefaultFullTimeout
	}
	return x.FullTimeout
}

func removeStale(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", p, err)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
