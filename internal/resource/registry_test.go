package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func writeTemp(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// TestRegistryReleaseDeletesFile verifies a released handle loses its backing file.
func TestRegistryReleaseDeletesFile(t *testing.T) {
	r := NewRegistry(quietLogger())
	p := writeTemp(t, t.TempDir(), "out.jpg")

	tok := r.Register(p)
	if !tok.Valid() {
		t.Fatal("expected a valid token")
	}
	if got, ok := r.Path(tok); !ok || got != p {
		t.Fatalf("Path() = %q, %v", got, ok)
	}

	r.Release(tok)
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file still present after release: %v", err)
	}
	if r.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", r.Outstanding())
	}
}

// TestRegistryReleaseIsIdempotent checks repeated releases are harmless but counted.
func TestRegistryReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry(quietLogger())
	p := writeTemp(t, t.TempDir(), "preview.jpg")

	var hookCalls int
	r.OnRelease(func(Token, string) { hookCalls++ })

	tok := r.Register(p)
	r.Release(tok)
	r.Release(tok)
	r.Release(Token(0))
	r.Release(Token(999))

	if hookCalls != 1 {
		t.Fatalf("release hook called %d times, want 1", hookCalls)
	}
	stats := r.Stats()
	if stats.Released != 1 || stats.DoubleReleases != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// TestRegistryReleaseAll verifies teardown leaves no outstanding handles.
func TestRegistryReleaseAll(t *testing.T) {
	r := NewRegistry(quietLogger())
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		r.Register(writeTemp(t, dir, name))
	}

	if n := r.ReleaseAll(); n != 3 {
		t.Fatalf("ReleaseAll() = %d, want 3", n)
	}
	if r.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", r.Outstanding())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}

// TestWorkspaceNewFile checks reserved names are unique and carry the extension.
func TestWorkspaceNewFile(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	a, err := ws.NewFile("output", ".jpg")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	b, err := ws.NewFile("output", "jpg")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct paths")
	}
	if filepath.Ext(a) != ".jpg" {
		t.Fatalf("ext = %q, want .jpg", filepath.Ext(a))
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatal("workspace still present")
	}
}
