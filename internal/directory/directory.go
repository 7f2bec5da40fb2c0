// Package directory talks to the external "who-blocks-me" directory
// service (ClearSky) that enumerates which accounts block a given
// handle/DID — something the network itself doesn't expose to the
// blocked party.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/symmetric-sync/blocksync/internal/atperr"
)

const defaultBaseURL = "https://api.clearsky.services/api/v1/anon"

// BlockerRecord is one entry in a "who blocks this account" page.
type BlockerRecord struct {
	DID         string
	BlockedDate string
}

// Directory is the HTTP client for the total-count and paginated
// blocklist endpoints. It owns no rate limiting itself — callers run it
// through a governor.Governor the same way they do for network calls.
type Directory struct {
	baseURL string
	client  *http.Client
}

// New builds a Directory client. An empty baseURL uses the default
// public ClearSky endpoint.
func New(baseURL string) *Directory {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Directory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// TotalBlockedByCount returns how many accounts block handleOrDID.
func (d *Directory) TotalBlockedByCount(ctx context.Context, handleOrDID string) (int, error) {
	var out struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := d.get(ctx, fmt.Sprintf("/single-blocklist/total/%s", url.PathEscape(handleOrDID)), &out); err != nil {
		return 0, err
	}
	return out.Data.Count, nil
}

// FetchBlockedByPage returns one page (1-indexed) of accounts blocking
// handleOrDID, each record validated to carry both a did and a
// blocked_date before being returned — malformed records are dropped
// rather than failing the whole page.
func (d *Directory) FetchBlockedByPage(ctx context.Context, handleOrDID string, page int) ([]BlockerRecord, error) {
	path := fmt.Sprintf("/single-blocklist/%s", url.PathEscape(handleOrDID))
	if page > 1 {
		path = fmt.Sprintf("%s/%d", path, page)
	}

	var out struct {
		Data struct {
			Blocklist []struct {
				DID         string `json:"did"`
				BlockedDate string `json:"blocked_date"`
			} `json:"blocklist"`
		} `json:"data"`
	}
	if err := d.get(ctx, path, &out); err != nil {
		return nil, err
	}

	records := make([]BlockerRecord, 0, len(out.Data.Blocklist))
	for _, b := range out.Data.Blocklist {
		if b.DID == "" || b.BlockedDate == "" {
			continue
		}
		records = append(records, BlockerRecord{DID: b.DID, BlockedDate: b.BlockedDate})
	}
	return records, nil
}

// Ping checks that the directory service is reachable, for the
// readiness probe. It only checks transport connectivity, not response
// shape, since a reachability check shouldn't fail on an unrelated
// schema change upstream.
func (d *Directory) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build directory ping request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return atperr.Wrap(atperr.Transient, fmt.Errorf("directory ping: %w", err))
	}
	defer resp.Body.Close()
	return nil
}

func (d *Directory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return atperr.Wrap(atperr.Transient, fmt.Errorf("directory request %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := atperr.ClassifyHTTP(resp.StatusCode, fmt.Errorf("directory status %s", resp.Status))
		return atperr.Wrap(kind, fmt.Errorf("directory request %s: status %s", path, resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response %s: %w", path, err)
	}
	return nil
}

// ExpectedPageCount mirrors ClearSky's 100-records-per-page contract.
func ExpectedPageCount(total int) int {
	const perPage = 100
	if total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
