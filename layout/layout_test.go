package layout

import (
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l := New("/var/lib/craftdock")

	if got := l.DataDir("alpha"); got != filepath.Join("/var/lib/craftdock", "servers", "alpha", "data") {
		t.Errorf("DataDir = %q", got)
	}
	if got := l.BackupDir("alpha"); got != filepath.Join("/var/lib/craftdock", "backups", "alpha") {
		t.Errorf("BackupDir = %q", got)
	}
	if got := l.RegistryPath(); got != filepath.Join("/var/lib/craftdock", "registry.db") {
		t.Errorf("RegistryPath = %q", got)
	}
}

func TestLayoutIsPure(t *testing.T) {
	l := New("/root")
	if l.DataDir("a") != l.DataDir("a") {
		t.Error("DataDir is not deterministic")
	}
	if l.DataDir("a") == l.DataDir("b") {
		t.Error("different names must map to different directories")
	}
}
