package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/laps.report/internal/httputil"
	"github.com/banshee-data/laps.report/internal/race"
)

// Client talks to a running station over its HTTP API.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the station at baseURL. A nil c uses
// http.DefaultClient.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}
}

func (c *Client) do(ctx context.Context, method, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if err := httputil.DoJSON(c.http, req, v); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// Session returns the station's race status.
func (c *Client) Session(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/session", &st)
	return st, err
}

// Standings returns the live standings of every category.
func (c *Client) Standings(ctx context.Context) ([]race.CategoryStandings, error) {
	var cats []race.CategoryStandings
	err := c.do(ctx, http.MethodGet, "/api/standings", &cats)
	return cats, err
}

// CategoryStandings returns the live standings of one category.
func (c *Client) CategoryStandings(ctx context.Context, category string) ([]race.Standing, error) {
	var standings []race.Standing
	err := c.do(ctx, http.MethodGet, "/api/standings/"+url.PathEscape(category), &standings)
	return standings, err
}

// Stop presses the station's stop control once and returns the total number
// of presses. Two presses inside the stop window finish the race.
func (c *Client) Stop(ctx context.Context) (int64, error) {
	var resp struct {
		Presses int64 `json:"presses"`
	}
	err := c.do(ctx, http.MethodPost, "/api/session/stop", &resp)
	return resp.Presses, err
}
