// Package backup creates and restores zip archives of an instance's
// data directory.
package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const backupTimeFormat = "20060102_150405"

// Progress reports the file currently being archived or extracted.
type Progress func(current, total int, path string)

type Info struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type Manager struct {
	mirror *S3Mirror
}

func NewManager(mirror *S3Mirror) *Manager {
	return &Manager{mirror: mirror}
}

// Create archives dataDir into backupDir and returns the archive name.
// The data directory is expected to be quiescent while this runs.
func (m *Manager) Create(ctx context.Context, dataDir, backupDir string, progress Progress) (Info, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	var files []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to scan data directory: %w", err)
	}

	// The uuid suffix keeps two backups taken within the same second
	// from landing on the same file.
	name := fmt.Sprintf("%s_%s.zip", time.Now().Format(backupTimeFormat), uuid.NewString()[:8])
	dest := filepath.Join(backupDir, name)

	out, err := os.Create(dest)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			out.Close()
			os.Remove(dest)
			return Info{}, err
		}

		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			zw.Close()
			out.Close()
			os.Remove(dest)
			return Info{}, err
		}
		if progress != nil {
			progress(i+1, len(files), rel)
		}

		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			zw.Close()
			out.Close()
			os.Remove(dest)
			return Info{}, fmt.Errorf("failed to archive %s: %w", rel, err)
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dest)
		return Info{}, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return Info{}, fmt.Errorf("failed to close archive: %w", err)
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: name, SizeBytes: stat.Size(), CreatedAt: stat.ModTime()}

	if m.mirror != nil {
		if err := m.mirror.Upload(ctx, dest, filepath.Base(backupDir)+"/"+name); err != nil {
			return info, fmt.Errorf("backup created but offsite upload failed: %w", err)
		}
	}
	return info, nil
}

func addFile(zw *zip.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(stat)
	if err != nil {
		return err
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Restore clears dataDir and extracts the named archive into it.
func (m *Manager) Restore(ctx context.Context, dataDir, backupDir, name string, progress Progress) error {
	src := filepath.Join(backupDir, filepath.Base(name))

	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open backup %s: %w", name, err)
	}
	defer zr.Close()

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("failed to clear data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate data directory: %w", err)
	}

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, len(zr.File), f.Name)
		}
		if err := extractFile(f, dataDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dataDir string) error {
	dest := filepath.Join(dataDir, filepath.FromSlash(f.Name))

	// Reject entries that escape the data directory.
	if rel, err := filepath.Rel(dataDir, dest); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("archive entry escapes target directory")
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// List returns backups in backupDir, newest first.
func (m *Manager) List(backupDir string) ([]Info, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		stat, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:      e.Name(),
			SizeBytes: stat.Size(),
			CreatedAt: stat.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

func (m *Manager) Delete(ctx context.Context, backupDir, name string) error {
	path := filepath.Join(backupDir, filepath.Base(name))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete backup %s: %w", name, err)
	}

	if m.mirror != nil {
		if err := m.mirror.Delete(ctx, filepath.Base(backupDir)+"/"+name); err != nil {
			return fmt.Errorf("deleted locally but offsite delete failed: %w", err)
		}
	}
	return nil
}

// FormatBytes renders a size in a human readable form.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
