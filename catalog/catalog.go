// Package catalog provides search clients for the public modpack indexes.
// Lookups are pure, possibly-failing remote calls; their failures are
// reported, never fatal.
package catalog

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("catalog not available")

// PackDescriptor is one installable package returned by a search.
type PackDescriptor struct {
	Source      string `json:"source"`
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Downloads   int64  `json:"downloads"`
	IconURL     string `json:"icon_url,omitempty"`
}

// VersionDescriptor is one installable version of a package.
type VersionDescriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	GameVersions []string `json:"game_versions"`
	Loaders      []string `json:"loaders,omitempty"`
	Published    string   `json:"published"`
}

// Client is the shape both index clients share.
type Client interface {
	Search(ctx context.Context, query string) ([]PackDescriptor, error)
	ListVersions(ctx context.Context, packID string) ([]VersionDescriptor, error)
}
