// Package hub looks up plugins on the plugin hub.
package hub

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sofmeright/stowage/src/build"
	"github.com/sofmeright/stowage/src/log"
)

// TokenEnv holds the hub API token.
const TokenEnv = "STOWAGE_HUB_TOKEN"

const statusAvailable = "available"

// pluginResponse is one entry of the hub's plugin listing.
type pluginResponse struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Author       string   `json:"author"`
	Status       string   `json:"status"`
	IndexURL     string   `json:"index_url"`
	PackageName  string   `json:"package_name"`
	Requirements []string `json:"requirements"`
}

// Client is a hub API client. It implements build.PluginClient.
type Client struct {
	http httpClient
}

// NewClient creates a client for the hub at baseURL. The token is read from
// STOWAGE_HUB_TOKEN when set.
func NewClient(baseURL string) *Client {
	headers := map[string]string{}
	if token := os.Getenv(TokenEnv); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &Client{http: httpClient{
		base:    strings.TrimSuffix(baseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}}
}

// GetPlugin returns the first plugin matching name, version and author.
// Empty version and author match any. It returns nil, nil when the hub has
// no matching plugin or the plugin is not available for installation.
func (c *Client) GetPlugin(ctx context.Context, name, version, author string) (*build.Plugin, error) {
	q := url.Values{"name": {name}}
	if version != "" {
		q.Set("version", version)
	}
	if author != "" {
		q.Set("username", author)
	}

	var plugins []pluginResponse
	if err := c.http.getJSON(ctx, "/plugins", q, &plugins); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(plugins) == 0 {
		return nil, nil
	}

	p := plugins[0]
	if p.Status != "" && p.Status != statusAvailable {
		log.Entry(ctx).Debugf("hub plugin %s is %s", build.PluginDisplayName(name, version, author), p.Status)
		return nil, nil
	}
	return &build.Plugin{
		IndexURL:     p.IndexURL,
		PackageName:  p.PackageName,
		Requirements: p.Requirements,
	}, nil
}
