// Package layout maps instance names onto the on-disk directory structure.
// All paths are a pure function of the data root and the instance name.
package layout

import "path/filepath"

type Layout struct {
	root string
}

func New(root string) Layout {
	return Layout{root: root}
}

func (l Layout) Root() string {
	return l.root
}

// InstanceDir is the per-instance directory holding data and metadata.
func (l Layout) InstanceDir(name string) string {
	return filepath.Join(l.root, "servers", name)
}

// DataDir is the directory bind-mounted as /data in the container. It
// survives instance deletion; only an explicit Replace resolution or a
// destructive cleanup removes it.
func (l Layout) DataDir(name string) string {
	return filepath.Join(l.InstanceDir(name), "data")
}

// BackupDir holds the timestamped zip archives for one instance.
func (l Layout) BackupDir(name string) string {
	return filepath.Join(l.root, "backups", name)
}

// RegistryPath is the bolt database file backing the instance registry.
func (l Layout) RegistryPath() string {
	return filepath.Join(l.root, "registry.db")
}
