package domain

// NameConflict records which of the three independent state stores already
// hold state for a proposed instance name. It is ephemeral: produced by one
// detection pass, consumed by exactly one resolution action.
type NameConflict struct {
	Name string `json:"name"`

	RegistryEntryExists bool `json:"registry_entry_exists"`
	RuntimeEntryExists  bool `json:"runtime_entry_exists"`
	DataDirExists       bool `json:"data_dir_exists"`

	// ContainerID is the runtime handle when RuntimeEntryExists.
	ContainerID string `json:"container_id,omitempty"`

	// Proposed is the configuration whose creation triggered the check.
	Proposed *InstanceConfig `json:"proposed"`
}

// Detected reports whether any store holds state for the name. When false
// the caller proceeds directly to creation.
func (c *NameConflict) Detected() bool {
	return c.RegistryEntryExists || c.RuntimeEntryExists || c.DataDirExists
}

// Resolution is a user decision on a detected NameConflict.
type Resolution string

const (
	// ResolutionRename discards the conflict and returns control to the
	// proposer with the name left editable. No store is touched.
	ResolutionRename Resolution = "rename"
	// ResolutionReplace removes registry entry, runtime entity, and data
	// directory, then proceeds to creation.
	ResolutionReplace Resolution = "replace"
	// ResolutionReuse removes registry entry and runtime entity but keeps
	// the data directory, then proceeds to creation over the old data.
	ResolutionReuse Resolution = "reuse"
	// ResolutionCancel discards the conflict with no side effects.
	ResolutionCancel Resolution = "cancel"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRename, ResolutionReplace, ResolutionReuse, ResolutionCancel:
		return true
	}
	return false
}
