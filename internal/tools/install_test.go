package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotalias/internal/runner"
)

type fakeResolver struct {
	asset ReleaseAsset
	err   error
	calls int
}

func (f *fakeResolver) ResolveAsset(context.Context, string, string) (ReleaseAsset, error) {
	f.calls++
	return f.asset, f.err
}

type fakeDownloader struct {
	data  []byte
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, _ string, dest string, _ int64) (LocalFile, error) {
	f.calls++
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return LocalFile{}, err
	}
	if err := os.WriteFile(dest, f.data, 0o644); err != nil {
		return LocalFile{}, err
	}
	return LocalFile{Path: dest, Size: int64(len(f.data))}, nil
}

type fakeRunner struct {
	res   runner.RunResult
	err   error
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, command string, args []string, _ runner.RunOptions) (runner.RunResult, error) {
	f.calls = append(f.calls, command+" "+strings.Join(args, " "))
	return f.res, f.err
}

func fakeSpec() ToolSpec {
	return ToolSpec{
		Name:         "fake",
		Repo:         "owner/fake",
		AssetPattern: "fake-cli.zip",
		Executables:  []string{"fakecli"},
		Markers:      []string{"fakecli"},
		Dialects:     map[string]string{"fakecli": DialectVRF},
		ProbeArgs:    [][]string{{"--version"}},
	}
}

func newTestProvisioner(t *testing.T, data []byte, r *fakeRunner) (*Provisioner, *fakeResolver, *fakeDownloader) {
	t.Helper()
	res := &fakeResolver{asset: ReleaseAsset{Name: "fake-cli.zip", URL: "https://example.invalid/fake-cli.zip", Size: int64(len(data))}}
	dl := &fakeDownloader{data: data}
	p := &Provisioner{
		ToolsDir:   t.TempDir(),
		DebugDir:   t.TempDir(),
		Resolver:   res,
		Downloader: dl,
		Runner:     r,
	}
	return p, res, dl
}

func TestEnsureAcquiresAndRecords(t *testing.T) {
	data := buildZip(t, map[string]string{"fake-cli/bin/FakeCLI": "#!/bin/sh\n"})
	r := &fakeRunner{res: runner.RunResult{Stdout: []byte("fakecli 2.1.0\nbuilt today\n")}}
	p, res, dl := newTestProvisioner(t, data, r)

	tool, err := p.Ensure(context.Background(), fakeSpec())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tool.Version != "fakecli 2.1.0" {
		t.Fatalf("version = %q", tool.Version)
	}
	if tool.Dialect != DialectVRF || tool.Source != SourceRelease {
		t.Fatalf("unexpected tool %+v", tool)
	}
	if !strings.HasPrefix(tool.Path, filepath.Join(p.ToolsDir, "fake")) {
		t.Fatalf("tool installed outside its install dir: %s", tool.Path)
	}
	if res.calls != 1 || dl.calls != 1 {
		t.Fatalf("resolver calls=%d downloader calls=%d", res.calls, dl.calls)
	}

	m, err := loadManifest(p.ToolsDir)
	if err != nil {
		t.Fatal(err)
	}
	entry := m.Entries["fake"]
	if entry.Path != tool.Path || entry.Checksum == "" || entry.Asset != "fake-cli.zip" {
		t.Fatalf("unexpected manifest entry %+v", entry)
	}

	// Second call in the same run is served from memory.
	if _, err := p.Ensure(context.Background(), fakeSpec()); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected a single probe, got %v", r.calls)
	}
}

func TestEnsureReusesInstalledCopy(t *testing.T) {
	data := buildZip(t, map[string]string{"fakecli": "#!/bin/sh\n"})
	r := &fakeRunner{res: runner.RunResult{Stdout: []byte("fakecli 2.1.0")}}
	p, _, _ := newTestProvisioner(t, data, r)
	if _, err := p.Ensure(context.Background(), fakeSpec()); err != nil {
		t.Fatal(err)
	}

	fresh := &Provisioner{ToolsDir: p.ToolsDir, Resolver: &fakeResolver{err: errors.New("offline")}, Downloader: &fakeDownloader{}, Runner: r}
	tool, err := fresh.Ensure(context.Background(), fakeSpec())
	if err != nil {
		t.Fatalf("Ensure with installed copy: %v", err)
	}
	if tool.Source != SourceCache {
		t.Fatalf("source = %s, want cache", tool.Source)
	}
}

func TestEnsureValidationFailsTwice(t *testing.T) {
	r := &fakeRunner{}
	garbage := []byte("<html>not an archive</html>")
	p, _, dl := newTestProvisioner(t, garbage, r)

	_, err := p.Ensure(context.Background(), fakeSpec())
	var acqErr *ToolAcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected ToolAcquisitionError, got %v", err)
	}
	if acqErr.Step != "validate" {
		t.Fatalf("step = %s", acqErr.Step)
	}
	if dl.calls != 2 {
		t.Fatalf("expected one re-download, got %d downloads", dl.calls)
	}
	if len(acqErr.Hints) == 0 {
		t.Fatalf("expected manual install hints")
	}
	if _, err := os.Stat(filepath.Join(downloadsDir(p.ToolsDir), "fake-cli.zip")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("invalid archive should be removed, stat err=%v", err)
	}
}

func TestEnsureProbeFailure(t *testing.T) {
	data := buildZip(t, map[string]string{"fakecli": "#!/bin/sh\n"})
	r := &fakeRunner{res: runner.RunResult{ExitCode: 1}, err: errors.New("exit status 1")}
	p, _, _ := newTestProvisioner(t, data, r)

	_, err := p.Ensure(context.Background(), fakeSpec())
	var acqErr *ToolAcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected ToolAcquisitionError, got %v", err)
	}
	if acqErr.Step != "verify" || len(acqErr.Attempts) != 1 {
		t.Fatalf("unexpected error %+v", acqErr)
	}
}

func TestEnsureResolveFailure(t *testing.T) {
	p, res, _ := newTestProvisioner(t, nil, &fakeRunner{})
	res.err = &ReleaseNotFoundError{Repo: "owner/fake", Pattern: "fake-cli.zip", Reason: "no asset name matched"}

	_, err := p.Ensure(context.Background(), fakeSpec())
	var notFound *ReleaseNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected wrapped ReleaseNotFoundError, got %v", err)
	}
}

func TestProbeAcceptsOutputOnNonZeroExit(t *testing.T) {
	r := &fakeRunner{res: runner.RunResult{ExitCode: 2, Stderr: []byte("usage: fakecli [options]")}, err: errors.New("exit status 2")}
	version, invs, err := probe(context.Background(), r, fakeSpec(), "/opt/fakecli", 0)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if version != "usage: fakecli [options]" || len(invs) != 1 {
		t.Fatalf("version=%q invocations=%d", version, len(invs))
	}
}

func TestDialectFor(t *testing.T) {
	spec, _ := Definition(ToolVRF)
	tests := map[string]string{
		"/x/Source2Viewer-CLI.exe": DialectSource2Viewer,
		"/x/VRF":                   DialectVRF,
		"/x/Source2Viewer":         DialectSource2Viewer,
		"/x/other":                 "",
	}
	for path, want := range tests {
		if got := DialectFor(spec, path); got != want {
			t.Errorf("DialectFor(%s) = %q, want %q", path, got, want)
		}
	}
}

func TestDiscoverExecutablePreferenceOrder(t *testing.T) {
	root := t.TempDir()
	spec := ToolSpec{Executables: []string{"first", "second"}, SearchDirs: []string{"bin"}}
	write := func(rel string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	write("second")
	write("bin/first")

	got, ok := discoverExecutable(spec, root)
	if !ok || got != filepath.Join(root, "second") {
		t.Fatalf("direct match should win, got %q", got)
	}

	if err := os.Remove(filepath.Join(root, "second")); err != nil {
		t.Fatal(err)
	}
	got, ok = discoverExecutable(spec, root)
	if !ok || got != filepath.Join(root, "bin", "first") {
		t.Fatalf("search dir match expected, got %q", got)
	}
}
