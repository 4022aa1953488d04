package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dotalias/internal/runner"
)

// AssetResolver finds a downloadable release asset.
type AssetResolver interface {
	ResolveAsset(ctx context.Context, repo, pattern string) (ReleaseAsset, error)
}

// FileDownloader transfers a URL to a local path.
type FileDownloader interface {
	Download(ctx context.Context, url, dest string, expectedSize int64) (LocalFile, error)
}

type forgetter interface {
	Forget(repo, pattern string)
}

// Provisioner makes external tools available under ToolsDir, downloading
// them from their latest GitHub release when no usable copy is installed.
type Provisioner struct {
	ToolsDir     string
	DebugDir     string
	Resolver     AssetResolver
	Downloader   FileDownloader
	Runner       runner.Runner
	Logger       Logger
	ProbeTimeout time.Duration

	mu    sync.Mutex
	ready map[string]InstalledTool
}

// NewProvisioner wires the default resolver, downloader and process runner.
func NewProvisioner(toolsDir, debugDir string, progress ProgressSink, logger Logger) *Provisioner {
	return &Provisioner{
		ToolsDir:   toolsDir,
		DebugDir:   debugDir,
		Resolver:   NewResolver(debugDir, toolsDir, logger),
		Downloader: NewDownloader(progress, logger),
		Runner:     runner.CmdRunner{},
		Logger:     logger,
	}
}

// Ensure returns a verified executable for spec. Within one Provisioner a
// tool is verified at most once.
func (p *Provisioner) Ensure(ctx context.Context, spec ToolSpec) (InstalledTool, error) {
	if tool, ok := p.cached(spec.Name); ok {
		return tool, nil
	}
	logger := loggerOrNoop(p.Logger)
	root := installDir(p.ToolsDir, spec.Name)

	if path, ok := discoverExecutable(spec, root); ok {
		logger.Printf("%s: found installed executable %s", spec.Name, path)
		tool, _, err := p.verify(ctx, spec, path, SourceCache)
		if err == nil {
			p.remember(tool)
			return tool, nil
		}
		if ctx.Err() != nil {
			return InstalledTool{}, &ToolAcquisitionError{Tool: spec.Name, Step: "verify", Err: ctx.Err()}
		}
		logger.Printf("%s: installed copy is unusable (%v); reinstalling", spec.Name, err)
	}

	path, asset, err := p.acquire(ctx, spec, root)
	if err != nil {
		return InstalledTool{}, err
	}
	tool, invocations, err := p.verify(ctx, spec, path, SourceRelease)
	if err != nil {
		p.writeTranscript(spec.Name, invocations)
		return InstalledTool{}, &ToolAcquisitionError{
			Tool:     spec.Name,
			Step:     "verify",
			Err:      err,
			Attempts: invocations,
			Hints:    installHints(spec, root),
		}
	}

	checksum, err := computeChecksum(path)
	if err != nil {
		logger.Printf("%s: checksum failed: %v", spec.Name, err)
	}
	entry := ManifestEntry{
		Tool:        spec.Name,
		Version:     tool.Version,
		Source:      SourceRelease,
		Path:        path,
		Dialect:     tool.Dialect,
		Asset:       asset.Name,
		Checksum:    checksum,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := recordInstall(p.ToolsDir, entry); err != nil {
		logger.Printf("%s: update manifest: %v", spec.Name, err)
	}
	p.remember(tool)
	return tool, nil
}

// Reinstall discards any installed copy and cached release lookup of spec
// before ensuring it again.
func (p *Provisioner) Reinstall(ctx context.Context, spec ToolSpec) (InstalledTool, error) {
	p.mu.Lock()
	delete(p.ready, spec.Name)
	p.mu.Unlock()

	if f, ok := p.Resolver.(forgetter); ok {
		f.Forget(spec.Repo, spec.AssetPattern)
	}
	if err := os.RemoveAll(installDir(p.ToolsDir, spec.Name)); err != nil {
		return InstalledTool{}, fmt.Errorf("remove %s install: %w", spec.Name, err)
	}
	return p.Ensure(ctx, spec)
}

func (p *Provisioner) cached(name string) (InstalledTool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tool, ok := p.ready[name]
	return tool, ok
}

func (p *Provisioner) remember(tool InstalledTool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready == nil {
		p.ready = map[string]InstalledTool{}
	}
	p.ready[tool.Name] = tool
}

func (p *Provisioner) verify(ctx context.Context, spec ToolSpec, path string, source Source) (InstalledTool, []runner.Invocation, error) {
	if source != SourceSystem {
		if err := makeExecutable(path); err != nil {
			return InstalledTool{}, nil, fmt.Errorf("mark %s executable: %w", path, err)
		}
	}
	r := p.Runner
	if r == nil {
		r = runner.CmdRunner{}
	}
	version, invocations, err := probe(ctx, r, spec, path, p.ProbeTimeout)
	if err != nil {
		return InstalledTool{}, invocations, err
	}
	return InstalledTool{
		Name:    spec.Name,
		Path:    path,
		Dialect: DialectFor(spec, path),
		Version: version,
		Source:  source,
	}, invocations, nil
}

// acquire downloads, validates and unpacks the release asset of spec into
// root, returning the executable found there.
func (p *Provisioner) acquire(ctx context.Context, spec ToolSpec, root string) (string, ReleaseAsset, error) {
	logger := loggerOrNoop(p.Logger)
	fail := func(step string, err error) (string, ReleaseAsset, error) {
		return "", ReleaseAsset{}, &ToolAcquisitionError{
			Tool:  spec.Name,
			Step:  step,
			Err:   err,
			Hints: installHints(spec, root),
		}
	}
	if p.Resolver == nil || p.Downloader == nil {
		return fail("resolve", errors.New("no release source configured"))
	}

	asset, err := p.Resolver.ResolveAsset(ctx, spec.Repo, spec.AssetPattern)
	if err != nil {
		return fail("resolve", err)
	}

	archive := filepath.Join(downloadsDir(p.ToolsDir), filepath.Base(asset.Name))
	var report ArchiveReport
	for try := 1; ; try++ {
		file, err := p.Downloader.Download(ctx, asset.URL, archive, asset.Size)
		if err != nil {
			return fail("download", err)
		}
		if file.Resumed {
			logger.Printf("%s: resumed download of %s", spec.Name, asset.Name)
		}
		report, err = p.validate(ctx, spec, asset, file.Path)
		if err == nil {
			break
		}
		logger.Printf("%s: archive %s failed validation: %v", spec.Name, asset.Name, err)
		if rmErr := os.Remove(archive); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Printf("%s: remove invalid archive: %v", spec.Name, rmErr)
		}
		if try >= 2 {
			if f, ok := p.Resolver.(forgetter); ok {
				f.Forget(spec.Repo, spec.AssetPattern)
			}
			return fail("validate", err)
		}
	}
	logger.Printf("%s: validated %s (%s, %d entries)", spec.Name, asset.Name, report.Format, report.Entries)

	if err := os.MkdirAll(p.ToolsDir, 0o755); err != nil {
		return fail("extract", fmt.Errorf("prepare tools dir: %w", err))
	}
	scratch, err := os.MkdirTemp(p.ToolsDir, spec.Name+"-extract-")
	if err != nil {
		return fail("extract", fmt.Errorf("create extract dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	if err := extractArchive(report.Format, archive, scratch); err != nil {
		return fail("extract", err)
	}
	if err := os.RemoveAll(root); err != nil {
		return fail("extract", fmt.Errorf("replace install dir: %w", err))
	}
	if err := os.Rename(scratch, root); err != nil {
		return fail("extract", fmt.Errorf("commit install dir: %w", err))
	}

	path, ok := discoverExecutable(spec, root)
	if !ok {
		return fail("discover", fmt.Errorf("none of %v found in %s", spec.Executables, root))
	}
	logger.Printf("%s: installed %s from %s", spec.Name, path, asset.Name)
	return path, asset, nil
}

func (p *Provisioner) validate(ctx context.Context, spec ToolSpec, asset ReleaseAsset, archive string) (ArchiveReport, error) {
	report, err := ValidateArchive(archive, asset.Size, spec.Markers)
	if err != nil {
		return ArchiveReport{}, err
	}
	if spec.MinisignKey == "" || asset.SignatureURL == "" {
		return report, nil
	}
	sig, err := p.Downloader.Download(ctx, asset.SignatureURL, archive+".minisig", 0)
	if err != nil {
		return ArchiveReport{}, fmt.Errorf("fetch signature: %w", err)
	}
	if err := VerifySignature(archive, sig.Path, spec.MinisignKey); err != nil {
		_ = os.Remove(sig.Path)
		return ArchiveReport{}, err
	}
	return report, nil
}

func (p *Provisioner) writeTranscript(tool string, invocations []runner.Invocation) {
	if p.DebugDir == "" || len(invocations) == 0 {
		return
	}
	path, err := runner.WriteTranscript(p.DebugDir, tool+"-probe", invocations)
	if err != nil {
		loggerOrNoop(p.Logger).Printf("%s: write probe transcript: %v", tool, err)
		return
	}
	loggerOrNoop(p.Logger).Printf("%s: probe transcript at %s", tool, path)
}
