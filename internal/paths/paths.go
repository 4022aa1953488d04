package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeEnv overrides the per-user application directory.
const HomeEnv = "DOTALIAS_HOME"

// AppPaths captures the persistent per-user locations used across runs.
type AppPaths struct {
	Home           string
	ToolsDir       string
	DebugDir       string
	LogsDir        string
	DeploymentsDir string
	WorkRoot       string
}

// Resolve determines the application home from the optional --home flag, the
// DOTALIAS_HOME environment variable or the platform data directory.
func Resolve(homeFlag string) (AppPaths, error) {
	root, err := homeRoot(homeFlag)
	if err != nil {
		return AppPaths{}, err
	}
	return newAppPaths(root), nil
}

func homeRoot(homeFlag string) (string, error) {
	if v := strings.TrimSpace(homeFlag); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return "", fmt.Errorf("resolve --home: %w", err)
		}
		return abs, nil
	}
	if override, ok := os.LookupEnv(HomeEnv); ok && strings.TrimSpace(override) != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", HomeEnv, err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "dotalias"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "dotalias"), nil
		}
		return filepath.Join(home, "AppData", "Local", "dotalias"), nil
	default:
		return filepath.Join(home, ".local", "share", "dotalias"), nil
	}
}

func newAppPaths(root string) AppPaths {
	return AppPaths{
		Home:           root,
		ToolsDir:       filepath.Join(root, "tools"),
		DebugDir:       filepath.Join(root, "debug"),
		LogsDir:        filepath.Join(root, "logs"),
		DeploymentsDir: filepath.Join(root, "deployments"),
		WorkRoot:       filepath.Join(root, "work"),
	}
}

// Ensure creates the application directory tree.
func (p AppPaths) Ensure() error {
	for _, dir := range []string{p.Home, p.ToolsDir, p.DebugDir, p.LogsDir, p.DeploymentsDir, p.WorkRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Workspace is the per-run scratch tree. Components receive only the subtree
// they need.
type Workspace struct {
	Root      string
	Downloads string
	Extract   string
	Content   string
	Build     string
	Scratch   string
}

// NewWorkspace lays out a workspace for runID under parent without touching
// the filesystem.
func NewWorkspace(parent, runID string) Workspace {
	root := filepath.Join(parent, "run-"+runID)
	return Workspace{
		Root:      root,
		Downloads: filepath.Join(root, "downloads"),
		Extract:   filepath.Join(root, "extract"),
		Content:   filepath.Join(root, "content"),
		Build:     filepath.Join(root, "build"),
		Scratch:   filepath.Join(root, "scratch"),
	}
}

// Create makes every workspace directory.
func (w Workspace) Create() error {
	for _, dir := range []string{w.Root, w.Downloads, w.Extract, w.Content, w.Build, w.Scratch} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

// Remove deletes the whole workspace tree.
func (w Workspace) Remove() error {
	if w.Root == "" {
		return nil
	}
	if !strings.HasPrefix(filepath.Base(w.Root), "run-") {
		return fmt.Errorf("refusing to remove %s: not a run workspace", w.Root)
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// ContentPath maps an in-archive entry such as scripts/npc/npc_heroes.txt to
// its staged location.
func (w Workspace) ContentPath(entry string) string {
	return filepath.Join(w.Content, filepath.FromSlash(entry))
}

// StateFile is the checkpoint written after every pipeline transition.
func (w Workspace) StateFile() string {
	return filepath.Join(w.Root, "state.json")
}

// FailureFile holds the failure report of a run that did not finish.
func (w Workspace) FailureFile() string {
	return filepath.Join(w.Root, "failure.json")
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
