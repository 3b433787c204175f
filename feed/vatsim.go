// Package feed implements the two read-only external collaborators the
// engine depends on: the VATSIM live network data feed and the member
// directory (existence, rating/division metadata, and ATC session
// history). Both wire formats are otherwise out of scope per spec.md §1 —
// only the handful of fields the engine actually reads are modelled here.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vatpac-currency/watchtower/fetch"
)

// Controller is the subset of the live feed's per-controller record the
// presence tracker and audit engine need.
type Controller struct {
	CID       string
	Callsign  string
	Frequency string
	Name      string
}

type vatsimDataResponse struct {
	Controllers []vatsimController `json:"controllers"`
}

type vatsimController struct {
	CID       json.Number `json:"cid"`
	Callsign  string      `json:"callsign"`
	Frequency string      `json:"frequency"`
	Name      string      `json:"name"`
}

// VATSIMClient fetches the current set of online controllers.
type VATSIMClient struct {
	baseURL string
	fetcher *fetch.Fetcher
}

// NewVATSIMClient builds a client against baseURL (VATSIM_DATA_URL).
func NewVATSIMClient(baseURL string, fetcher *fetch.Fetcher) *VATSIMClient {
	return &VATSIMClient{baseURL: baseURL, fetcher: fetcher}
}

// Online returns the currently online controllers keyed by canonical CID,
// with ATIS callsigns (suffix "_ATIS") excluded per spec.md §6.
func (c *VATSIMClient) Online(ctx context.Context) (map[string]Controller, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: building vatsim request: %w", err)
	}

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed vatsimDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("feed: decoding vatsim data: %w", err)
	}

	out := make(map[string]Controller, len(parsed.Controllers))
	for _, raw := range parsed.Controllers {
		if strings.HasSuffix(raw.Callsign, "_ATIS") {
			continue
		}
		cidStr := raw.CID.String()
		out[cidStr] = Controller{
			CID:       cidStr,
			Callsign:  raw.Callsign,
			Frequency: raw.Frequency,
			Name:      raw.Name,
		}
	}
	return out, nil
}
