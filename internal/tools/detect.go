package tools

import (
	"context"
	"os/exec"
	"sort"
)

var lookPath = exec.LookPath

// Detect returns the status of each known tool without installing anything.
// The install dir is consulted first, then the system PATH.
func (p *Provisioner) Detect(ctx context.Context) ([]Status, error) {
	manifest, err := loadManifest(p.ToolsDir)
	if err != nil {
		return nil, err
	}

	var statuses []Status
	for _, name := range KnownTools() {
		spec, _ := Definition(name)
		statuses = append(statuses, p.detectOne(ctx, spec, manifest.Entries[name]))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Tool < statuses[j].Tool })
	return statuses, nil
}

func (p *Provisioner) detectOne(ctx context.Context, spec ToolSpec, entry ManifestEntry) Status {
	status := Status{Tool: spec.Name}

	if path, ok := discoverExecutable(spec, installDir(p.ToolsDir, spec.Name)); ok {
		status.Path = path
		status.Source = SourceCache
		if entry.Path == path {
			status.InstalledAt = entry.InstalledAt
			status.Checksum = entry.Checksum
		}
		tool, _, err := p.verify(ctx, spec, path, SourceCache)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Version = tool.Version
		status.Dialect = tool.Dialect
		status.Satisfied = true
		return status
	}

	for _, exe := range spec.Executables {
		path, err := lookPath(exe)
		if err != nil {
			continue
		}
		status.Path = path
		status.Source = SourceSystem
		tool, _, err := p.verify(ctx, spec, path, SourceSystem)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Version = tool.Version
		status.Dialect = tool.Dialect
		status.Satisfied = true
		status.Notes = append(status.Notes, "found on PATH; pipeline runs install a private copy")
		return status
	}

	status.Error = "not installed"
	if spec.AssetPattern == "" {
		status.Notes = append(status.Notes, "no prebuilt release for this platform")
	}
	return status
}
