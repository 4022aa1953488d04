package tui

// StageMsg moves a stage row to a new status.
type StageMsg struct {
	Stage  string
	Status string
	Detail string
}

// DownloadMsg reports transfer progress of a tool archive. Total is zero when
// the size is unknown.
type DownloadMsg struct {
	Name  string
	Done  int64
	Total int64
}

// WorkDoneMsg signals that the run has finished.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}
