// Package catalog talks to the external media catalog (a TMDB-style API)
// for discovery and related-item queries.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client is the capability surface the aggregator and watchlist need.
type Client interface {
	// Discover returns the first page of items matching one attribute value.
	Discover(ctx context.Context, kind DiscoverKind, value string) ([]Item, error)
	// Related returns items similar or recommended relative to a seed item.
	Related(ctx context.Context, mediaID int, relation string) ([]Item, error)
	// Info returns the full catalog record for one item.
	Info(ctx context.Context, mediaID int) (Item, error)
	// Ping verifies the catalog is reachable and the token is accepted.
	Ping(ctx context.Context) error
}

// HTTPClient implements Client against the catalog's REST API.
type HTTPClient struct {
	base   string
	token  string
	domain string // "movie" or "tv", selects the media path segment
	http   *http.Client
	log    zerolog.Logger
}

// NewHTTPClient builds a catalog client. domain selects the media path
// segment of every request ("movie" or "tv").
func NewHTTPClient(base, token, domain string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		base:   base,
		token:  token,
		domain: domain,
		http:   &http.Client{Timeout: 15 * time.Second},
		log:    logger.With().Str("component", "catalog").Logger(),
	}
}

func (c *HTTPClient) Discover(ctx context.Context, kind DiscoverKind, value string) ([]Item, error) {
	params := url.Values{}
	params.Set("sort_by", "vote_average.desc")
	params.Set("vote_count.gte", "1000")
	params.Set("with_original_language", "en")
	params.Set("page", "1")
	switch kind {
	case DiscoverDirector:
		params.Set("with_crew", value)
	case DiscoverGenre:
		params.Set("with_genres", value)
	case DiscoverNetwork:
		params.Set("with_networks", value)
	default:
		params.Set("with_keywords", value)
	}

	var pg page
	u := fmt.Sprintf("%s/discover/%s?%s", c.base, c.domain, params.Encode())
	if err := c.getJSON(ctx, u, &pg); err != nil {
		return nil, fmt.Errorf("discover %s=%s: %w", kind, value, err)
	}
	return pg.Results, nil
}

func (c *HTTPClient) Related(ctx context.Context, mediaID int, relation string) ([]Item, error) {
	var pg page
	u := fmt.Sprintf("%s/%s/%d/%s", c.base, c.domain, mediaID, relation)
	if err := c.getJSON(ctx, u, &pg); err != nil {
		return nil, fmt.Errorf("related %s for %d: %w", relation, mediaID, err)
	}
	return pg.Results, nil
}

func (c *HTTPClient) Info(ctx context.Context, mediaID int) (Item, error) {
	var item Item
	u := fmt.Sprintf("%s/%s/%d", c.base, c.domain, mediaID)
	if err := c.getJSON(ctx, u, &item); err != nil {
		return Item{}, fmt.Errorf("info for %d: %w", mediaID, err)
	}
	return item, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/account", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("unexpected catalog response")
		return fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
