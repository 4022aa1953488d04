package tools

type Source string

const (
	SourceUnknown Source = ""
	SourceCache   Source = "cache"
	SourceRelease Source = "release"
	SourceSystem  Source = "system"
)

// Dialects name the command syntax families the archive tools accept.
const (
	DialectSource2Viewer = "source2viewer"
	DialectVRF           = "vrf"
	DialectVPKEdit       = "vpkedit"
)

// ToolSpec declares an external tool the pipeline can provision.
type ToolSpec struct {
	Name string
	// Repo is the GitHub owner/name publishing the tool.
	Repo         string
	AssetPattern string
	// Executables lists candidate executable names in preference order.
	Executables []string
	// SearchDirs are install-dir subdirectories probed before a full walk.
	SearchDirs []string
	// Markers are substrings expected in archive entry names.
	Markers []string
	// Dialects maps lower-cased executable stems to a command dialect.
	Dialects  map[string]string
	ProbeArgs [][]string
	// MinisignKey enables signature checks when the release carries
	// <asset>.minisig.
	MinisignKey string
}

// InstalledTool is a verified executable ready for use.
type InstalledTool struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Dialect string `json:"dialect"`
	Version string `json:"version,omitempty"`
	Source  Source `json:"source"`
}

// ReleaseAsset is a downloadable file attached to a release.
type ReleaseAsset struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Size         int64    `json:"size"`
	Tag          string   `json:"tag,omitempty"`
	SignatureURL string   `json:"signature_url,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// Status captures the resolved state for a managed tool.
type Status struct {
	Tool        string   `json:"tool"`
	Version     string   `json:"version,omitempty"`
	Source      Source   `json:"source"`
	Path        string   `json:"path,omitempty"`
	Dialect     string   `json:"dialect,omitempty"`
	InstalledAt string   `json:"installed_at,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	Satisfied   bool     `json:"satisfied"`
	Error       string   `json:"error,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}

// ManifestEntry records an installed tool in manifest.json.
type ManifestEntry struct {
	Tool        string `json:"tool"`
	Version     string `json:"version"`
	Source      Source `json:"source"`
	Path        string `json:"path"`
	Dialect     string `json:"dialect,omitempty"`
	Asset       string `json:"asset,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	InstalledAt string `json:"installed_at,omitempty"`
}

// Manifest wraps persisted entries for quick lookup.
type Manifest struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// Logger is the subset of *log.Logger used by this package.
type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
