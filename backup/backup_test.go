package backup

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backupDir := filepath.Join(root, "backups")

	writeFile(t, filepath.Join(dataDir, "server.properties"), "motd=hello")
	writeFile(t, filepath.Join(dataDir, "world", "level.dat"), "world data")
	writeFile(t, filepath.Join(dataDir, "world", "region", "r.0.0.mca"), "chunks")

	m := NewManager(nil)
	var progressCalls int
	info, err := m.Create(context.Background(), dataDir, backupDir, func(cur, total int, path string) {
		progressCalls++
		if cur < 1 || cur > total {
			t.Errorf("progress %d/%d out of range", cur, total)
		}
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if progressCalls != 3 {
		t.Errorf("progress called %d times, want 3", progressCalls)
	}
	if !strings.HasSuffix(info.Name, ".zip") {
		t.Errorf("backup name = %q", info.Name)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d", info.SizeBytes)
	}

	// Mutate the live data, then restore.
	writeFile(t, filepath.Join(dataDir, "server.properties"), "motd=changed")
	writeFile(t, filepath.Join(dataDir, "junk.tmp"), "should vanish")

	if err := m.Restore(context.Background(), dataDir, backupDir, info.Name, nil); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dataDir, "server.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "motd=hello" {
		t.Errorf("restored content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "junk.tmp")); !os.IsNotExist(err) {
		t.Error("restore must clear files not present in the archive")
	}
	if _, err := os.Stat(filepath.Join(dataDir, "world", "region", "r.0.0.mca")); err != nil {
		t.Error("nested file missing after restore")
	}
}

func TestRestoreRejectsZipSlip(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backupDir := filepath.Join(root, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Hand-craft an archive with an escaping entry.
	evil := filepath.Join(backupDir, "evil.zip")
	f, err := os.Create(evil)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../escaped.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("gotcha"))
	zw.Close()
	f.Close()

	m := NewManager(nil)
	if err := m.Restore(context.Background(), dataDir, backupDir, "evil.zip", nil); err == nil {
		t.Fatal("Restore must reject entries escaping the data directory")
	}
	if _, err := os.Stat(filepath.Join(root, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry was written outside the data directory")
	}
}

func TestListNewestFirst(t *testing.T) {
	root := t.TempDir()
	backupDir := filepath.Join(root, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		t.Fatal(err)
	}

	old := filepath.Join(backupDir, "20240101_000000.zip")
	mid := filepath.Join(backupDir, "20250101_000000.zip")
	recent := filepath.Join(backupDir, "20260101_000000.zip")
	for i, path := range []string{old, mid, recent} {
		if err := os.WriteFile(path, []byte("zip"), 0o644); err != nil {
			t.Fatal(err)
		}
		mtime := time.Now().Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	// A non-zip file must be skipped.
	if err := os.WriteFile(filepath.Join(backupDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(nil)
	infos, err := m.List(backupDir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i].CreatedAt.After(infos[i-1].CreatedAt) {
			t.Errorf("List not sorted newest first: %v", infos)
		}
	}
}

func TestListMissingDirectory(t *testing.T) {
	m := NewManager(nil)
	infos, err := m.List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List on missing directory failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("List = %v, want empty", infos)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	root := t.TempDir()
	backupDir := filepath.Join(root, "backups")
	path := filepath.Join(backupDir, "20260101_000000.zip")
	writeFile(t, path, "zip")

	m := NewManager(nil)
	if err := m.Delete(context.Background(), backupDir, "20260101_000000.zip"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("backup file still present")
	}
	if err := m.Delete(context.Background(), backupDir, "20260101_000000.zip"); err != nil {
		t.Errorf("Delete of absent backup = %v, want nil", err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
