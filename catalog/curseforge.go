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

const (
	curseforgeBaseURL = "https://api.curseforge.com/v1"

	cfGameMinecraft  = 432
	cfClassModpacks  = 4471
	cfSortPopularity = 2
)

type CurseForgeClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewCurseForgeClient(apiKey string) *CurseForgeClient {
	return &CurseForgeClient{
		baseURL: curseforgeBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type cfSearchResponse struct {
	Data []struct {
		ID            int64  `json:"id"`
		Slug          string `json:"slug"`
		Name          string `json:"name"`
		Summary       string `json:"summary"`
		DownloadCount int64  `json:"downloadCount"`
		Logo          struct {
			ThumbnailURL string `json:"thumbnailUrl"`
		} `json:"logo"`
	} `json:"data"`
}

type cfFilesResponse struct {
	Data []struct {
		ID           int64    `json:"id"`
		DisplayName  string   `json:"displayName"`
		FileDate     string   `json:"fileDate"`
		GameVersions []string `json:"gameVersions"`
	} `json:"data"`
}

func (c *CurseForgeClient) Search(ctx context.Context, query string) ([]PackDescriptor, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("curseforge: %w: no API key configured", ErrUnavailable)
	}

	q := url.Values{}
	q.Set("gameId", strconv.Itoa(cfGameMinecraft))
	q.Set("classId", strconv.Itoa(cfClassModpacks))
	q.Set("searchFilter", query)
	q.Set("sortField", strconv.Itoa(cfSortPopularity))
	q.Set("sortOrder", "desc")
	q.Set("pageSize", "25")

	var resp cfSearchResponse
	if err := c.get(ctx, "/mods/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	packs := make([]PackDescriptor, 0, len(resp.Data))
	for _, m := range resp.Data {
		packs = append(packs, PackDescriptor{
			Source:      "curseforge",
			ID:          strconv.FormatInt(m.ID, 10),
			Slug:        m.Slug,
			Name:        m.Name,
			Description: m.Summary,
			Downloads:   m.DownloadCount,
			IconURL:     m.Logo.ThumbnailURL,
		})
	}
	return packs, nil
}

func (c *CurseForgeClient) ListVersions(ctx context.Context, packID string) ([]VersionDescriptor, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("curseforge: %w: no API key configured", ErrUnavailable)
	}

	var resp cfFilesResponse
	if err := c.get(ctx, "/mods/"+url.PathEscape(packID)+"/files?pageSize=50", &resp); err != nil {
		return nil, err
	}

	versions := make([]VersionDescriptor, 0, len(resp.Data))
	for _, f := range resp.Data {
		versions = append(versions, VersionDescriptor{
			ID:           strconv.FormatInt(f.ID, 10),
			Name:         f.DisplayName,
			GameVersions: f.GameVersions,
			Published:    f.FileDate,
		})
	}
	return versions, nil
}

func (c *CurseForgeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("curseforge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("curseforge returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode curseforge response: %w", err)
	}
	return nil
}
