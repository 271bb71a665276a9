// Package conflict reconciles the three independent stores that can hold
// state for an instance name: the registry, the container runtime, and the
// filesystem. Detection is read-only; resolution actions are idempotent and
// individually safe to skip when their target is already absent.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/layout"
)

// Registry is the subset of the instance repository consulted here.
type Registry interface {
	FindByName(ctx context.Context, name string) (*domain.InstanceConfig, error)
	Delete(ctx context.Context, name string) error
}

// Runtime is the subset of the container runtime consulted here.
type Runtime interface {
	FindByName(ctx context.Context, instance string) (id string, found bool, err error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

type Detector struct {
	registry Registry
	runtime  Runtime
	layout   layout.Layout
}

func NewDetector(registry Registry, runtime Runtime, l layout.Layout) *Detector {
	return &Detector{registry: registry, runtime: runtime, layout: l}
}

// Detect independently checks all three stores for the proposed name. An
// unreachable runtime is treated as "assume absent": creation must not be
// blocked by a daemon outage the other two stores know nothing about.
func (d *Detector) Detect(ctx context.Context, proposed *domain.InstanceConfig) (*domain.NameConflict, error) {
	c := &domain.NameConflict{
		Name:     proposed.Name,
		Proposed: proposed,
	}

	_, err := d.registry.FindByName(ctx, proposed.Name)
	switch {
	case err == nil:
		c.RegistryEntryExists = true
	case errors.Is(err, domain.ErrInstanceNotFound):
		// absent
	default:
		return nil, fmt.Errorf("registry check failed: %w", err)
	}

	id, found, err := d.runtime.FindByName(ctx, proposed.Name)
	if err != nil {
		slog.Warn("runtime unreachable during conflict check, assuming absent",
			slog.String("name", proposed.Name), slog.Any("error", err))
	} else if found {
		c.RuntimeEntryExists = true
		c.ContainerID = id
	}

	if _, err := os.Stat(d.layout.DataDir(proposed.Name)); err == nil {
		c.DataDirExists = true
	}

	return c, nil
}

// Resolve applies a Replace or Reuse action to the stores. Rename and Cancel
// have no side effects and are handled entirely by the caller discarding the
// pending conflict.
//
// Teardown order matters: the registry entry goes first, so a crash mid-way
// never leaves a registry entry pointing at a runtime entity that resolution
// already considered gone.
func (d *Detector) Resolve(ctx context.Context, c *domain.NameConflict, action domain.Resolution) error {
	switch action {
	case domain.ResolutionRename, domain.ResolutionCancel:
		return nil
	case domain.ResolutionReplace, domain.ResolutionReuse:
	default:
		return fmt.Errorf("unknown resolution action %q", action)
	}

	if err := d.registry.Delete(ctx, c.Name); err != nil && !errors.Is(err, domain.ErrInstanceNotFound) {
		return fmt.Errorf("failed to remove registry entry: %w", err)
	}

	// Re-check the runtime rather than trusting the handle captured at
	// detection time; it may have been removed out of band since.
	id, found, err := d.runtime.FindByName(ctx, c.Name)
	if err == nil && found {
		if err := d.runtime.Stop(ctx, id); err != nil {
			return fmt.Errorf("failed to stop container: %w", err)
		}
		if err := d.runtime.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	if action == domain.ResolutionReplace {
		if err := os.RemoveAll(d.layout.DataDir(c.Name)); err != nil {
			return fmt.Errorf("failed to remove data directory: %w", err)
		}
	}

	return nil
}
