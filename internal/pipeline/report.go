package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"dotalias/internal/deploy"
	"dotalias/internal/locate"
	"dotalias/internal/patch"
	"dotalias/internal/runner"
	"dotalias/internal/tools"
	"dotalias/internal/vpk"
)

// Report summarises a run for humans and --json output.
type Report struct {
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	DryRun     bool      `json:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Workspace     string `json:"workspace"`
	WorkspaceKept bool   `json:"workspace_kept"`

	Tools           []tools.InstalledTool `json:"tools,omitempty"`
	InstallPath     string                `json:"install_path,omitempty"`
	InstallStrategy string                `json:"install_strategy,omitempty"`

	Extracted       string `json:"extracted,omitempty"`
	ExtractTemplate string `json:"extract_template,omitempty"`
	Escalated       bool   `json:"escalated,omitempty"`

	Patch        []patch.Result `json:"patch,omitempty"`
	PatchSummary *patch.Summary `json:"patch_summary,omitempty"`

	Components    []string `json:"components,omitempty"`
	BuildTemplate string   `json:"build_template,omitempty"`
	Synthesized   bool     `json:"synthesized,omitempty"`

	TargetDir    string           `json:"target_dir,omitempty"`
	Deployment   *deploy.Manifest `json:"deployment,omitempty"`
	ManifestPath string           `json:"manifest_path,omitempty"`

	// Hints are follow-up actions for a run that still succeeded.
	Hints []string `json:"hints,omitempty"`

	Failure *Failure `json:"failure,omitempty"`
}

// Failure describes why a run stopped.
type Failure struct {
	Stage      Stage               `json:"stage"`
	Cause      string              `json:"cause"`
	Attempts   []runner.Invocation `json:"attempts,omitempty"`
	Tried      []string            `json:"tried,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
	Hints      []string            `json:"hints,omitempty"`
	Workspace  string              `json:"workspace"`
}

// StageError is returned by Run when a stage exhausted its fallbacks.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// diagnose collects the attempts and hints carried by the typed stage errors.
func diagnose(stage Stage, err error, workspace string) *Failure {
	f := &Failure{Stage: stage, Cause: err.Error(), Workspace: workspace}

	var acq *tools.ToolAcquisitionError
	if errors.As(err, &acq) {
		f.Attempts = append(f.Attempts, acq.Attempts...)
		f.Hints = append(f.Hints, acq.Hints...)
	}
	var notFound *locate.InstallationNotFoundError
	if errors.As(err, &notFound) {
		for _, a := range notFound.Attempts {
			line := fmt.Sprintf("[%s] %s", a.Strategy, a.Path)
			if a.Reason != "" {
				line += " (" + a.Reason + ")"
			}
			f.Tried = append(f.Tried, line)
		}
		f.Hints = append(f.Hints, "set "+locate.EnvOverride+" or pass --dota-path")
	}
	var extErr *vpk.ExtractionError
	if errors.As(err, &extErr) {
		f.Attempts = append(f.Attempts, extErr.Attempts...)
		f.Transcript = extErr.Transcript
	}
	var buildErr *vpk.ArchiveBuildError
	if errors.As(err, &buildErr) {
		f.Attempts = append(f.Attempts, buildErr.Attempts...)
		f.Transcript = buildErr.Transcript
	}
	var depErr *deploy.DeploymentError
	if errors.As(err, &depErr) && depErr.RollbackErr != nil {
		f.Hints = append(f.Hints, "some files could not be rolled back; check *.bak files in "+depErr.TargetDir)
	}
	return f
}

func writeFailure(path string, f *Failure) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
