package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"dotalias/internal/pipeline"
)

const downloadThrottle = 100 * time.Millisecond

// Reporter forwards pipeline events and download progress to a running
// program. It satisfies pipeline.Observer and tools.ProgressSink.
type Reporter struct {
	send func(tea.Msg)

	mu   sync.Mutex
	last map[string]time.Time
}

// NewReporter wraps a send function, usually tea.Program.Send.
func NewReporter(send func(tea.Msg)) *Reporter {
	return &Reporter{send: send, last: map[string]time.Time{}}
}

// Observe implements pipeline.Observer.
func (r *Reporter) Observe(e pipeline.Event) {
	msg := StageMsg{Stage: string(e.Stage), Detail: e.Detail}
	switch e.Kind {
	case pipeline.EventStarted:
		msg.Status = StatusRunning
	case pipeline.EventFinished:
		msg.Status = StatusDone
	case pipeline.EventSkipped:
		msg.Status = StatusSkipped
	case pipeline.EventFailed:
		msg.Status = StatusFailed
		if e.Err != nil {
			msg.Detail = e.Err.Error()
		}
	}
	r.send(msg)
}

// Progress implements tools.ProgressSink, dropping updates that arrive
// faster than the screen refreshes.
func (r *Reporter) Progress(name string, done, total int64) {
	final := total > 0 && done >= total
	r.mu.Lock()
	now := time.Now()
	if !final && now.Sub(r.last[name]) < downloadThrottle {
		r.mu.Unlock()
		return
	}
	r.last[name] = now
	r.mu.Unlock()
	r.send(DownloadMsg{Name: name, Done: done, Total: total})
}

// PlainReporter writes one line per stage event, for pipes and CI logs.
type PlainReporter struct {
	w io.Writer

	mu      sync.Mutex
	quarter map[string]int64
}

// NewPlainReporter returns a reporter printing to w.
func NewPlainReporter(w io.Writer) *PlainReporter {
	return &PlainReporter{w: w, quarter: map[string]int64{}}
}

// Observe implements pipeline.Observer.
func (p *PlainReporter) Observe(e pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Kind {
	case pipeline.EventStarted:
		fmt.Fprintf(p.w, "[%s] started\n", e.Stage)
	case pipeline.EventFinished:
		fmt.Fprintf(p.w, "[%s] done: %s\n", e.Stage, e.Detail)
	case pipeline.EventSkipped:
		fmt.Fprintf(p.w, "[%s] skipped: %s\n", e.Stage, e.Detail)
	case pipeline.EventFailed:
		fmt.Fprintf(p.w, "[%s] failed: %v\n", e.Stage, e.Err)
	}
}

// Progress implements tools.ProgressSink, printing at every quarter of a
// known size and on completion.
func (p *PlainReporter) Progress(name string, done, total int64) {
	if total <= 0 {
		return
	}
	q := done * 4 / total
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.quarter[name]; ok && q <= prev {
		return
	}
	p.quarter[name] = q
	fmt.Fprintf(p.w, "  downloading %s: %s / %s\n", name, humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)))
}
