package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

const (
	tickInterval = 150 * time.Millisecond
	marqueeGap   = "   "

	stageWidth  = 8
	statusWidth = 8
	detailWidth = 56
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg time.Time

type stageRow struct {
	stage   string
	status  string
	detail  string
	started time.Time
	elapsed time.Duration
}

type download struct {
	name  string
	done  int64
	total int64
}

// ProgressModel renders the run as a stage table with a download bar under
// it while a tool archive is transferring.
type ProgressModel struct {
	title string
	rows  []stageRow
	index map[string]int

	bar      progress.Model
	download *download

	// onInterrupt is called once when the user presses ctrl+c.
	onInterrupt func()

	done        bool
	interrupted bool
	err         error
	tick        int
	now         func() time.Time
}

// NewProgressModel creates a model with one pending row per stage.
func NewProgressModel(title string, stages []string, onInterrupt func()) ProgressModel {
	m := ProgressModel{
		title:       title,
		index:       make(map[string]int, len(stages)),
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(36), progress.WithoutPercentage()),
		onInterrupt: onInterrupt,
		now:         time.Now,
	}
	for _, s := range stages {
		m.index[s] = len(m.rows)
		m.rows = append(m.rows, stageRow{stage: s, status: StatusPending})
	}
	return m
}

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init satisfies the tea.Model interface.
func (m ProgressModel) Init() tea.Cmd {
	return scheduleTick()
}

// Update satisfies the tea.Model interface.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

	case StageMsg:
		m.applyStage(msg)
		return m, nil

	case DownloadMsg:
		if msg.Total > 0 && msg.Done >= msg.Total {
			m.download = nil
			return m, nil
		}
		m.download = &download{name: msg.Name, done: msg.Done, total: msg.Total}
		return m, nil

	case WorkDoneMsg:
		m.done = true
		m.download = nil
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.interrupted {
			m.interrupted = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *ProgressModel) applyStage(msg StageMsg) {
	idx, ok := m.index[msg.Stage]
	if !ok {
		return
	}
	row := &m.rows[idx]
	now := m.now()
	if msg.Status == StatusRunning && row.started.IsZero() {
		row.started = now
	}
	if msg.Status != StatusRunning && !row.started.IsZero() {
		row.elapsed = now.Sub(row.started)
	}
	row.status = msg.Status
	if msg.Detail != "" {
		row.detail = msg.Detail
	}
}

// View satisfies the tea.Model interface.
func (m ProgressModel) View() string {
	if m.done && m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}

	var b strings.Builder
	if m.title != "" {
		b.WriteString(titleStyle.Render(m.title))
		b.WriteString("\n\n")
	}
	b.WriteString(HeaderStyle.Render(pad("STAGE", stageWidth)))
	b.WriteString("  ")
	b.WriteString(HeaderStyle.Render(pad("STATUS", statusWidth)))
	b.WriteString("  ")
	b.WriteString(HeaderStyle.Render("DETAIL"))
	b.WriteByte('\n')

	for _, row := range m.rows {
		detail := row.detail
		if row.elapsed > 0 {
			detail = strings.TrimSpace(detail + " " + faintStyle.Render("("+formatElapsed(row.elapsed)+")"))
		} else if row.status == StatusRunning && !row.started.IsZero() {
			detail = strings.TrimSpace(detail + " " + formatElapsed(m.now().Sub(row.started)))
		}
		if !m.done && len(row.detail) > detailWidth {
			detail = marqueeText(row.detail, detailWidth, m.tick)
		}
		status := row.status
		if status == StatusRunning && !m.done {
			status = spinnerFrames[m.tick%len(spinnerFrames)] + " " + status
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			pad(row.stage, stageWidth),
			StatusStyle(row.status).Render(pad(status, statusWidth)),
			detail)
	}

	if d := m.download; d != nil && !m.done {
		b.WriteByte('\n')
		if d.total > 0 {
			fmt.Fprintf(&b, "%s %s / %s  %s\n",
				m.bar.ViewAs(float64(d.done)/float64(d.total)),
				humanize.Bytes(uint64(d.done)), humanize.Bytes(uint64(d.total)),
				faintStyle.Render(TruncateWithEllipsis(d.name, 40)))
		} else {
			fmt.Fprintf(&b, "%s downloaded  %s\n", humanize.Bytes(uint64(d.done)), faintStyle.Render(d.name))
		}
	}

	if !m.done {
		finished, total := m.progressCounts()
		if m.interrupted {
			b.WriteString("\n" + faintStyle.Render("interrupting; waiting for the current step to stop...") + "\n")
		} else {
			fmt.Fprintf(&b, "\n%s stage %d/%d  %s\n", spinnerFrames[m.tick%len(spinnerFrames)], finished, total, faintStyle.Render("[ctrl+c] cancel"))
		}
	}
	return b.String()
}

// progressCounts returns how many stages left pending or running.
func (m ProgressModel) progressCounts() (int, int) {
	finished := 0
	for _, row := range m.rows {
		switch row.status {
		case StatusDone, StatusSkipped, StatusFailed:
			finished++
		}
	}
	return finished, len(m.rows)
}

// Done returns whether the model has finished (work done or error).
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m ProgressModel) Err() error {
	return m.err
}

func pad(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// marqueeText scrolls a window of width over text, one character per tick.
func marqueeText(text string, width, tick int) string {
	text = strings.TrimSpace(text)
	if width <= 0 {
		return ""
	}
	if len(text) <= width {
		return text
	}
	cycle := text + marqueeGap
	offset := tick % len(cycle)
	var out strings.Builder
	out.Grow(width)
	for i := 0; i < width; i++ {
		out.WriteByte(cycle[(offset+i)%len(cycle)])
	}
	return out.String()
}

// TruncateWithEllipsis shortens value to max bytes, ending in "..." when cut.
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
