package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteTranscript stores invocations under dir for postmortem inspection and
// returns the file path. Transcripts are never read back.
func WriteTranscript(dir, name string, invs []Invocation) (string, error) {
	if dir == "" || len(invs) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare transcript dir: %w", err)
	}
	filename := fmt.Sprintf("%s-%s.log", sanitize(name), time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(FormatInvocations(invs)), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "transcript"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
