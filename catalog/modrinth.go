package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const modrinthBaseURL = "https://api.modrinth.com/v2"

type ModrinthClient struct {
	baseURL string
	http    *http.Client
}

func NewModrinthClient() *ModrinthClient {
	return &ModrinthClient{
		baseURL: modrinthBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type mrSearchResponse struct {
	Hits []struct {
		ProjectID   string `json:"project_id"`
		Slug        string `json:"slug"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Downloads   int64  `json:"downloads"`
		IconURL     string `json:"icon_url"`
	} `json:"hits"`
}

type mrVersion struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	VersionNumber string   `json:"version_number"`
	GameVersions  []string `json:"game_versions"`
	Loaders       []string `json:"loaders"`
	DatePublished string   `json:"date_published"`
}

func (c *ModrinthClient) Search(ctx context.Context, query string) ([]PackDescriptor, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("facets", `[["project_type:modpack"]]`)
	q.Set("limit", "25")

	var resp mrSearchResponse
	if err := c.get(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	packs := make([]PackDescriptor, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		packs = append(packs, PackDescriptor{
			Source:      "modrinth",
			ID:          h.ProjectID,
			Slug:        h.Slug,
			Name:        h.Title,
			Description: h.Description,
			Downloads:   h.Downloads,
			IconURL:     h.IconURL,
		})
	}
	return packs, nil
}

func (c *ModrinthClient) ListVersions(ctx context.Context, packID string) ([]VersionDescriptor, error) {
	var raw []mrVersion
	if err := c.get(ctx, "/project/"+url.PathEscape(packID)+"/version", &raw); err != nil {
		return nil, err
	}

	versions := make([]VersionDescriptor, 0, len(raw))
	for _, v := range raw {
		name := v.Name
		if name == "" {
			name = v.VersionNumber
		}
		versions = append(versions, VersionDescriptor{
			ID:           v.ID,
			Name:         name,
			GameVersions: v.GameVersions,
			Loaders:      v.Loaders,
			Published:    v.DatePublished,
		})
	}
	return versions, nil
}

func (c *ModrinthClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("modrinth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("modrinth returned %s", strconv.Itoa(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode modrinth response: %w", err)
	}
	return nil
}
