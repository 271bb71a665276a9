package service

import (
	"time"

	"github.com/yamori310/craftdock/backup"
	"github.com/yamori310/craftdock/catalog"
	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/ping"
	"github.com/yamori310/craftdock/runtime"
)

// Messages posted by background tasks onto the coordinator channel. Each
// carries enough identity to be matched back to the intent that spawned
// it; the control loop discards any that no longer match current state.

type detectResult struct {
	Name     string
	Conflict *domain.NameConflict
	Err      error
}

type resolveResult struct {
	Name   string
	Action domain.Resolution
	Err    error
}

type pullProgress struct {
	Name string
	Line string
}

type startResult struct {
	Name        string
	ContainerID string
	Err         error
}

type probeResult struct {
	Name   string
	Seq    int
	Status *ping.Status
	Err    error
}

type stopResult struct {
	Name string
	Err  error
}

type deleteResult struct {
	Name        string
	ContainerID string
	Err         error
}

type backupProgress struct {
	Name    string
	Current int
	Total   int
	Path    string
}

type backupResult struct {
	Name string
	Info backup.Info
	Err  error
}

type restoreResult struct {
	Name   string
	Backup string
	Err    error
}

type backupDeleteResult struct {
	Name   string
	Backup string
	Err    error
}

type commandResult struct {
	Name     string
	Command  string
	Response string
	Console  console
	Dead     bool
	Err      error
	At       time.Time
}

type searchResult struct {
	RequestID uint64
	Source    string
	Query     string
	Packs     []catalog.PackDescriptor
	Err       error
}

type versionsResult struct {
	RequestID uint64
	PackID    string
	Versions  []catalog.VersionDescriptor
	Err       error
}

type inspectResult struct {
	Name   string
	Status runtime.Status
	Err    error
}
