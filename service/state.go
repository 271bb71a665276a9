package service

import (
	"time"

	"github.com/yamori310/craftdock/catalog"
	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/ping"
)

// conflictPhase tracks a pending create through detection and resolution.
type conflictPhase string

const (
	conflictChecking  conflictPhase = "checking"
	conflictAwaiting  conflictPhase = "awaiting_resolution"
	conflictResolving conflictPhase = "resolving"
	// conflictFailed is the terminal phase for a create whose detection
	// or registry write failed. It stays visible until dismissed or
	// superseded by a fresh create for the same name.
	conflictFailed conflictPhase = "failed"
)

// pendingConflict is the orchestrator-side lifetime of one NameConflict,
// keyed by proposed name. At most one exists per name at a time.
type pendingConflict struct {
	Phase    conflictPhase
	Proposed *domain.InstanceConfig
	Conflict *domain.NameConflict
	Action   domain.Resolution
	Detail   string
}

type ConsoleEntry struct {
	Command  string    `json:"command"`
	Response string    `json:"response"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// instanceState is the control-loop-owned view of one instance. Mutated
// only while applying intents and task results.
type instanceState struct {
	cfg    *domain.InstanceConfig
	state  domain.State
	detail string
	status *ping.Status

	// probeSeq distinguishes probe generations so a late result from a
	// cancelled probe cannot touch a newer start cycle.
	probeSeq    int
	probeCancel func()

	// busyOp names a non-lifecycle operation in flight (backup, restore,
	// delete); lifecycle phases are carried by state itself.
	busyOp string

	inspecting bool

	consoleBusy bool
	console     console
	history     []ConsoleEntry
}

func (s *instanceState) busy() bool {
	return s.state.Transitional() || s.busyOp != ""
}

// InstanceView is the read model served to the API layer.
type InstanceView struct {
	Config *domain.InstanceConfig `json:"config"`
	State  domain.State           `json:"state"`
	Detail string                 `json:"detail,omitempty"`
	Status *ping.Status           `json:"status,omitempty"`
}

// ConflictView exposes a pending conflict to the API layer.
type ConflictView struct {
	Name     string               `json:"name"`
	Phase    conflictPhase        `json:"phase"`
	Conflict *domain.NameConflict `json:"conflict,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// CatalogView is the orchestrator-held catalog browsing state. Results
// carry the request id current at dispatch time; anything older is
// discarded on arrival.
type CatalogView struct {
	RequestID uint64                      `json:"request_id"`
	Source    string                      `json:"source,omitempty"`
	Query     string                      `json:"query,omitempty"`
	Packs     []catalog.PackDescriptor    `json:"packs,omitempty"`
	Selected  string                      `json:"selected,omitempty"`
	Versions  []catalog.VersionDescriptor `json:"versions,omitempty"`
	Loading   bool                        `json:"loading"`
	Error     string                      `json:"error,omitempty"`
}
