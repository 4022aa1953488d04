package tui

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork starts the program, runs work in a goroutine and blocks until
// both the program and the work have finished. The work's error is returned
// in preference to a rendering error.
func RunWithWork(out io.Writer, model ProgressModel, work func(send func(tea.Msg)) error) error {
	p := tea.NewProgram(model, tea.WithOutput(out))

	result := make(chan error, 1)
	go func() {
		// Let the event loop draw its first frame.
		time.Sleep(50 * time.Millisecond)
		err := work(p.Send)
		p.Send(WorkDoneMsg{})
		result <- err
	}()

	_, runErr := p.Run()
	if err := <-result; err != nil {
		return err
	}
	return runErr
}
