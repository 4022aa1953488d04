package vpk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dotalias/internal/logx"
	"dotalias/internal/runner"
	"dotalias/internal/tools"
)

const DefaultBuildTimeout = 5 * time.Minute

// signature opens every VPK directory file (0x55aa1234 little endian).
var signature = []byte{0x34, 0x12, 0xaa, 0x55}

// ArchiveComponents are the files of a split archive: the directory index
// and one or more numbered data parts.
type ArchiveComponents struct {
	Index       string
	Data        []string
	Template    string
	Synthesized bool
	Attempts    []runner.Invocation
}

// Files lists the index followed by the data parts.
func (c ArchiveComponents) Files() []string {
	return append([]string{c.Index}, c.Data...)
}

// ArchiveBuildError means no template produced a usable archive.
type ArchiveBuildError struct {
	Base       string
	Attempts   []runner.Invocation
	Transcript string
}

func (e *ArchiveBuildError) Error() string {
	msg := fmt.Sprintf("could not build %s_dir.vpk after %d attempt(s)", filepath.Base(e.Base), len(e.Attempts))
	if e.Transcript != "" {
		msg += " (transcript: " + e.Transcript + ")"
	}
	return msg
}

// Builder packs a content tree with an external tool.
type Builder struct {
	Tool      tools.InstalledTool
	Runner    runner.Runner
	Logger    logx.Printer
	DebugDir  string
	Timeout   time.Duration
	Templates []Template
}

// NewBuilder returns a Builder with the default template order.
func NewBuilder(tool tools.InstalledTool, debugDir string, logger logx.Printer) *Builder {
	return &Builder{
		Tool:      tool,
		Runner:    runner.CmdRunner{},
		Logger:    logger,
		DebugDir:  debugDir,
		Timeout:   DefaultBuildTimeout,
		Templates: BuildTemplates,
	}
}

// Build packs contentDir into outputBase_dir.vpk plus outputBase_NNN.vpk.
// Templates run in order until one leaves both component kinds on disk.
func (b *Builder) Build(ctx context.Context, contentDir, outputBase string) (ArchiveComponents, error) {
	logger := b.logger()
	if err := os.MkdirAll(filepath.Dir(outputBase), 0o755); err != nil {
		return ArchiveComponents{}, fmt.Errorf("prepare build dir: %w", err)
	}

	var attempts []runner.Invocation
	for _, tmpl := range b.templates() {
		if err := ctx.Err(); err != nil {
			return ArchiveComponents{}, err
		}
		if err := clearOutputs(outputBase); err != nil {
			return ArchiveComponents{}, err
		}
		args := tmpl.Expand(map[string]string{
			PlaceholderContent: contentDir,
			PlaceholderBase:    outputBase,
			PlaceholderOut:     outputBase + "_dir.vpk",
		})
		logger.Printf("build with %s: %s", tmpl.Name, strings.Join(args, " "))
		res, err := b.run(ctx, args)
		inv := runner.Record(tmpl.Name, b.Tool.Path, args, res, err)

		comps, reason := inspect(outputBase)
		if err == nil && res.ExitCode == 0 && reason == "" {
			attempts = append(attempts, inv)
			comps.Template = tmpl.Name
			comps.Attempts = attempts
			logger.Printf("build succeeded with %s: %d data part(s)", tmpl.Name, len(comps.Data))
			return comps, nil
		}
		if reason != "" {
			inv.Note = reason
		}
		attempts = append(attempts, inv)
		logger.Printf("build template %s failed (exit %d): %s", tmpl.Name, res.ExitCode, inv.Note)
	}
	if err := ctx.Err(); err != nil {
		return ArchiveComponents{}, err
	}

	logger.Printf("all build templates failed; normalising leftovers of the last attempt")
	if err := synthesize(outputBase); err != nil {
		logger.Printf("synthesis: %v", err)
	}
	if comps, reason := inspect(outputBase); reason == "" {
		comps.Synthesized = true
		comps.Attempts = attempts
		logger.Printf("synthesised archive components from the last attempt")
		return comps, nil
	}

	buildErr := &ArchiveBuildError{Base: outputBase, Attempts: attempts}
	if p, err := runner.WriteTranscript(b.DebugDir, "build", attempts); err != nil {
		logger.Printf("write build transcript: %v", err)
	} else {
		buildErr.Transcript = p
	}
	return ArchiveComponents{}, buildErr
}

// inspect reports the components present for base, or why they are not
// usable.
func inspect(base string) (ArchiveComponents, string) {
	index := base + "_dir.vpk"
	ok, err := hasSignature(index)
	if err != nil {
		return ArchiveComponents{}, "index missing: " + err.Error()
	}
	if !ok {
		return ArchiveComponents{}, "index lacks the VPK signature"
	}

	parts, err := dataParts(base)
	if err != nil {
		return ArchiveComponents{}, "list data parts: " + err.Error()
	}
	if len(parts) == 0 {
		return ArchiveComponents{}, "no non-empty data part"
	}
	return ArchiveComponents{Index: index, Data: parts}, ""
}

func hasSignature(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(signature))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, signature), nil
}

// dataParts lists non-empty base_NNN.vpk files in order.
func dataParts(base string) ([]string, error) {
	dir, name := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() || !isPartName(e.Name(), name+"_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		parts = append(parts, filepath.Join(dir, e.Name()))
	}
	sort.Strings(parts)
	return parts, nil
}

// isPartName matches prefix + three digits + ".vpk".
func isPartName(file, prefix string) bool {
	if !strings.HasPrefix(file, prefix) || !strings.HasSuffix(file, ".vpk") {
		return false
	}
	num := strings.TrimSuffix(strings.TrimPrefix(file, prefix), ".vpk")
	if len(num) != 3 {
		return false
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// clearOutputs removes files a previous attempt left for base.
func clearOutputs(base string) error {
	dir, name := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list build dir: %w", err)
	}
	for _, e := range entries {
		n := e.Name()
		if n == name+".vpk" || (strings.HasPrefix(n, name+"_") && strings.HasSuffix(n, ".vpk")) {
			if err := os.RemoveAll(filepath.Join(dir, n)); err != nil {
				return fmt.Errorf("clear previous output: %w", err)
			}
		}
	}
	return nil
}

// synthesize renames what a tool produced under other names into the split
// layout, and turns a lone self-contained index into its own data part.
func synthesize(base string) error {
	dir, name := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	index := base + "_dir.vpk"

	if _, err := os.Stat(index); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(base + ".vpk"); err == nil {
			if err := os.Rename(base+".vpk", index); err != nil {
				return fmt.Errorf("rename single archive: %w", err)
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list build dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isPartName(e.Name(), name+"_dir_") {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(e.Name(), name+"_dir_"), ".vpk")
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(dir, name+"_"+num+".vpk")); err != nil {
			return fmt.Errorf("rename data part: %w", err)
		}
	}

	parts, err := dataParts(base)
	if err != nil {
		return err
	}
	if len(parts) > 0 {
		return nil
	}
	ok, err := hasSignature(index)
	if err != nil || !ok {
		return errors.New("no usable index to derive a data part from")
	}
	return copyFile(index, base+"_000.vpk")
}

func (b *Builder) run(ctx context.Context, args []string) (runner.RunResult, error) {
	r := b.Runner
	if r == nil {
		r = runner.CmdRunner{}
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	return r.Run(ctx, b.Tool.Path, args, runner.RunOptions{Timeout: timeout})
}

func (b *Builder) logger() logx.Printer {
	if b.Logger == nil {
		return logx.Discard()
	}
	return b.Logger
}

func (b *Builder) templates() []Template {
	if len(b.Templates) == 0 {
		return BuildTemplates
	}
	return b.Templates
}
