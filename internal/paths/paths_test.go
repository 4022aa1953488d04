package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrefersFlag(t *testing.T) {
	flagDir := t.TempDir()
	t.Setenv(HomeEnv, t.TempDir())

	p, err := Resolve(flagDir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Home != flagDir {
		t.Fatalf("expected home %s, got %s", flagDir, p.Home)
	}
	if p.ToolsDir != filepath.Join(flagDir, "tools") {
		t.Fatalf("unexpected tools dir %s", p.ToolsDir)
	}
}

func TestResolveUsesEnv(t *testing.T) {
	envDir := t.TempDir()
	t.Setenv(HomeEnv, envDir)

	p, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Home != envDir {
		t.Fatalf("expected home %s, got %s", envDir, p.Home)
	}
	if p.DeploymentsDir != filepath.Join(envDir, "deployments") {
		t.Fatalf("unexpected deployments dir %s", p.DeploymentsDir)
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	ws := NewWorkspace(t.TempDir(), "abc")
	if err := ws.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, dir := range []string{ws.Downloads, ws.Extract, ws.Content, ws.Build, ws.Scratch} {
		ok, err := DirExists(dir)
		if err != nil || !ok {
			t.Fatalf("expected %s to exist (err=%v)", dir, err)
		}
	}

	want := filepath.Join(ws.Content, "scripts", "npc", "npc_heroes.txt")
	if got := ws.ContentPath("scripts/npc/npc_heroes.txt"); got != want {
		t.Fatalf("content path = %s, want %s", got, want)
	}

	if err := ws.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
}

func TestRemoveRefusesForeignDirectory(t *testing.T) {
	work := t.TempDir()
	keep := filepath.Join(filepath.Dir(work), filepath.Base(work)+"-deployments")
	if err := os.MkdirAll(keep, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(keep) })

	ws := Workspace{Root: keep}
	if err := ws.Remove(); err == nil {
		t.Fatalf("expected refusal for %s", keep)
	}
	if ok, _ := DirExists(keep); !ok {
		t.Fatalf("%s was removed", keep)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := FileExists(file); !ok {
		t.Fatalf("expected file to exist")
	}
	if ok, _ := FileExists(dir); ok {
		t.Fatalf("directory must not count as file")
	}
	if ok, _ := FileExists(filepath.Join(dir, "missing")); ok {
		t.Fatalf("missing file reported as existing")
	}
}
