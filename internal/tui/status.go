package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusWriter keeps a single spinning status line up to date. Commands that
// do one long thing, like installing a tool, use it instead of the stage
// table. It also accepts download progress.
type StatusWriter struct {
	w          io.Writer
	mu         sync.Mutex
	message    string
	transfer   string
	phaseStart time.Time
	done       chan struct{}
	stopped    bool
}

// NewStatusWriter starts a background spinner that redraws every 100ms.
func NewStatusWriter(w io.Writer) *StatusWriter {
	sw := &StatusWriter{
		w:          w,
		phaseStart: time.Now(),
		done:       make(chan struct{}),
	}
	go sw.loop()
	return sw
}

// Update changes the status message and restarts the elapsed timer.
func (sw *StatusWriter) Update(msg string) {
	sw.mu.Lock()
	sw.message = msg
	sw.transfer = ""
	sw.phaseStart = time.Now()
	sw.mu.Unlock()
}

// Progress implements tools.ProgressSink.
func (sw *StatusWriter) Progress(name string, done, total int64) {
	text := humanize.Bytes(uint64(done))
	if total > 0 {
		text += " / " + humanize.Bytes(uint64(total))
	}
	sw.mu.Lock()
	sw.transfer = name + " " + text
	sw.mu.Unlock()
}

// Stop clears the status line and stops the spinner.
func (sw *StatusWriter) Stop() {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	sw.mu.Unlock()
	close(sw.done)
	fmt.Fprintf(sw.w, "\r\033[K")
}

func (sw *StatusWriter) loop() {
	tick := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.mu.Lock()
			line := sw.message
			if sw.transfer != "" {
				line += ": " + sw.transfer
			}
			start := sw.phaseStart
			sw.mu.Unlock()

			fmt.Fprintf(sw.w, "\r\033[K%s %s (%s)", spinnerFrames[tick%len(spinnerFrames)], line, formatElapsed(time.Since(start)))
			tick++
		}
	}
}
