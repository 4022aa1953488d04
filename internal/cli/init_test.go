package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotalias/internal/config"
)

func TestResolveInitPath(t *testing.T) {
	cwd, _ := os.Getwd()

	t.Run("default uses cwd", func(t *testing.T) {
		got, err := resolveInitPath(nil)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(cwd, config.DefaultFileName); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("directory gets default name", func(t *testing.T) {
		dir := t.TempDir()
		got, err := resolveInitPath([]string{dir})
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, config.DefaultFileName); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("file path kept", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "mine.json")
		got, err := resolveInitPath([]string{want})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})
}

func TestInitCommandWritesLoadableSample(t *testing.T) {
	prevForce, prevJSON := initForce, outputJSON
	defer func() { initForce, outputJSON = prevForce, prevJSON }()
	initForce, outputJSON = false, false

	dir := t.TempDir()
	cmd := newInitCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("init returned error: %v", err)
	}
	path := filepath.Join(dir, config.DefaultFileName)
	if !strings.Contains(out.String(), "Created "+path) {
		t.Fatalf("unexpected output %q", out.String())
	}
	m, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample does not load: %v", err)
	}
	if m.Path != "dota_lv" || len(m.Heroes) != 2 {
		t.Fatalf("unexpected sample %+v", m)
	}

	cmd = newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for existing file without --force")
	}

	cmd = newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--force", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}
