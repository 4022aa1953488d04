package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is a position in the run state machine.
type State string

const (
	StateIdle           State = "Idle"
	StateToolsReady     State = "ToolsReady"
	StateInstallLocated State = "InstallLocated"
	StateExtracted      State = "Extracted"
	StatePatched        State = "Patched"
	StateBuilt          State = "Built"
	StateDeployed       State = "Deployed"
	StateDone           State = "Done"
	StateFailed         State = "Failed"
)

var stateOrder = map[State]int{
	StateIdle:           0,
	StateToolsReady:     1,
	StateInstallLocated: 2,
	StateExtracted:      3,
	StatePatched:        4,
	StateBuilt:          5,
	StateDeployed:       6,
	StateDone:           7,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// canAdvance allows exactly one step forward, Built straight to Done for dry
// runs, and Failed from any non-terminal state.
func canAdvance(from, to State, dryRun bool) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if dryRun && from == StateBuilt && to == StateDone {
		return true
	}
	f, ok1 := stateOrder[from]
	t, ok2 := stateOrder[to]
	return ok1 && ok2 && t == f+1
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Checkpoint is the persisted progress of a run.
type Checkpoint struct {
	RunID string `json:"run_id"`
	State State  `json:"state"`
	// Reached is the last non-failed state, kept when State becomes Failed.
	Reached   State             `json:"reached"`
	Stage     Stage             `json:"stage,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
	History   []Transition      `json:"history"`
	Artifacts map[string]string `json:"artifacts"`
}

func newCheckpoint(runID string) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		State:     StateIdle,
		Reached:   StateIdle,
		Artifacts: map[string]string{},
	}
}

// LoadCheckpoint reads a checkpoint. A missing or corrupt file yields a fresh
// Idle checkpoint without error.
func LoadCheckpoint(path, runID string) *Checkpoint {
	data, err := os.ReadFile(path)
	if err != nil {
		return newCheckpoint(runID)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil || cp.RunID != runID {
		return newCheckpoint(runID)
	}
	if cp.Artifacts == nil {
		cp.Artifacts = map[string]string{}
	}
	return &cp
}

// Save writes the checkpoint atomically.
func (cp *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AtLeast reports whether s is other or a later forward state. Failed is not
// ordered and is never at least anything.
func (s State) AtLeast(other State) bool {
	a, ok1 := stateOrder[s]
	b, ok2 := stateOrder[other]
	return ok1 && ok2 && a >= b
}

func (cp *Checkpoint) advance(to State, at time.Time, dryRun bool) error {
	if !canAdvance(cp.State, to, dryRun) {
		return fmt.Errorf("illegal transition %s -> %s", cp.State, to)
	}
	cp.History = append(cp.History, Transition{From: cp.State, To: to, At: at})
	cp.State = to
	cp.UpdatedAt = at
	if to != StateFailed {
		cp.Reached = to
	}
	return nil
}
