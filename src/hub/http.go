package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxBodySize caps hub responses.
const maxBodySize = 4 << 20

// errNotFound is returned by getJSON for 404 responses.
var errNotFound = errors.New("not found")

// httpClient is a thin wrapper for JSON API calls against the hub.
type httpClient struct {
	base    string // base URL (e.g., "https://hub.zenml.io/api/v1")
	headers map[string]string
	client  *http.Client
}

// getJSON GETs base+path with query and decodes the JSON response into result.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	hc := c.client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("reading response from GET %s: %w", u, err)
	}
	if len(body) > maxBodySize {
		return fmt.Errorf("GET %s: response exceeds %d bytes", u, maxBodySize)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", u, errNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: %d %s", u, resp.StatusCode, truncateBody(body, 512))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decoding response from GET %s: %w", u, err)
		}
	}
	return nil
}

func truncateBody(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
