// Package stash is the wire client for the host application's GraphQL
// API. It adds the plumbing the automation engine depends on: request
// timeouts, coalescing of identical concurrent reads, and a short-TTL
// cache for the scene fetch that backs status detection.
package stash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrEndpointMissing = errors.New("stash endpoint is not configured")
	ErrAPIError        = errors.New("stash API error")
	ErrSceneNotFound   = errors.New("scene not found")
)

// Config holds client settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration // default: 10s
	CacheTTL time.Duration // scene read cache TTL, default: 5s
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Second
	}
}

// Client executes queries and mutations against the GraphQL endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger

	// inflight coalesces concurrent identical reads into one call.
	mu       sync.Mutex
	inflight map[string]*call

	cache *Cache
}

// call is a coalesced in-flight request. Waiters block on done.
type call struct {
	done chan struct{}
	data json.RawMessage
	err  error
}

// NewClient creates a stash client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	cfg.defaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With().Str("component", "stash").Logger(),
		inflight:   make(map[string]*call),
		cache:      NewCache(CacheConfig{TTL: cfg.CacheTTL}),
	}
}

// IsConfigured returns true if the endpoint is set.
func (c *Client) IsConfigured() bool {
	return c.cfg.Endpoint != ""
}

// graphQLError is one entry of the response "errors" array.
type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Query executes a read operation. Identical concurrent queries are
// coalesced into a single network call.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	key := cacheKey(query, variables)

	c.mu.Lock()
	if inf, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inf.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if inf.err != nil {
			return inf.err
		}
		return json.Unmarshal(inf.data, out)
	}
	inf := &call{done: make(chan struct{})}
	c.inflight[key] = inf
	c.mu.Unlock()

	data, err := c.do(ctx, query, variables)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	inf.data, inf.err = data, err
	close(inf.done)

	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Mutate executes a mutation. Mutations are never coalesced or cached.
func (c *Client) Mutate(ctx context.Context, mutation string, variables map[string]any, out any) error {
	data, err := c.do(ctx, mutation, variables)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// do POSTs {query, variables} and returns the raw "data" payload.
func (c *Client) do(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if !c.IsConfigured() {
		return nil, ErrEndpointMissing
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("ApiKey", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrAPIError, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, len(gql.Errors))
		for i, e := range gql.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrAPIError, strings.Join(msgs, "; "))
	}

	return gql.Data, nil
}

// InvalidateScene drops the cached read for one scene. The orchestrator
// calls this right after any save/organize mutation.
func (c *Client) InvalidateScene(sceneID string) {
	c.cache.Delete("scene:" + sceneID)
}

// InvalidateAll clears the read cache.
func (c *Client) InvalidateAll() {
	c.cache.Clear()
}

// cacheKey builds a stable key from the operation text and variables.
func cacheKey(query string, variables map[string]any) string {
	h := sha256.New()
	h.Write([]byte(query))
	if variables != nil {
		raw, _ := json.Marshal(variables)
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
