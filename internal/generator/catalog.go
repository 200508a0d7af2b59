// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	catalogSourceURL        = "https://raw.githubusercontent.com/charmbracelet/crush/main/internal/agent/hyper/provider.json"
	catalogRefreshInterval  = 6 * time.Hour
	catalogFetchTimeout     = 15 * time.Second
	catalogDefaultCtxWindow = 128000
	catalogDefaultMaxTokens = 4096
	catalogMaxResponseBytes = 2 << 20
)

// catalogModelInfo holds the metadata for a single model as read from the
// remote provider.json file.
type catalogModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ContextWindow    int    `json:"context_window"`
	DefaultMaxTokens int    `json:"default_max_tokens"`
}

// catalogProviderJSON mirrors the top-level structure of the provider.json
// so it can be unmarshalled directly.
type catalogProviderJSON struct {
	Models []catalogModelInfo `json:"models"`
}

// Catalog caches model metadata (context windows, default output budgets)
// fetched from Crush's provider.json, refreshing in the background every 6
// hours. The Cache uses it to clamp requested max-token budgets; unknown
// models fall back to safe defaults, so the Catalog never blocks a run.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]catalogModelInfo
	cancel context.CancelFunc
}

// NewCatalog creates an empty catalog. Call Start to populate it and begin
// periodic refresh.
func NewCatalog() *Catalog {
	return &Catalog{
		models: make(map[string]catalogModelInfo),
	}
}

// Start performs the initial fetch and spawns a background goroutine that
// refreshes every 6 hours.
func (c *Catalog) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.fetch()

	go func() {
		ticker := time.NewTicker(catalogRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.fetch()
			}
		}
	}()
}

// Stop cancels the background refresh goroutine.
func (c *Catalog) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// ContextWindow returns the context window size (in tokens) for the given
// model ID, or 128000 if the model is not found.
func (c *Catalog) ContextWindow(modelID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.models[modelID]; ok && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return catalogDefaultCtxWindow
}

// DefaultMaxTokens returns the default max output tokens for the given model
// ID, or 4096 if the model is not found.
func (c *Catalog) DefaultMaxTokens(modelID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.models[modelID]; ok && info.DefaultMaxTokens > 0 {
		return info.DefaultMaxTokens
	}
	return catalogDefaultMaxTokens
}

// ClampMaxTokens bounds a requested output budget by the model's default max
// tokens. A nil catalog or a non-positive request returns the request
// unchanged so callers can use it unconditionally.
func (c *Catalog) ClampMaxTokens(modelID string, requested int) int {
	if c == nil || requested <= 0 {
		return requested
	}
	if limit := c.DefaultMaxTokens(modelID); requested > limit {
		return limit
	}
	return requested
}

// fetch downloads the provider.json, parses it, and atomically replaces the
// in-memory model map. Errors are logged and silently ignored so the catalog
// keeps serving stale data rather than failing.
func (c *Catalog) fetch() {
	ctx, cancel := context.WithTimeout(context.Background(), catalogFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalogSourceURL, nil)
	if err != nil {
		slog.Warn("Catalog: failed to create request", "error", err)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("Catalog: fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Catalog: unexpected status", "status", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, catalogMaxResponseBytes))
	if err != nil {
		slog.Warn("Catalog: read failed", "error", err)
		return
	}

	var provider catalogProviderJSON
	if err := json.Unmarshal(body, &provider); err != nil {
		slog.Warn("Catalog: parse failed", "error", err)
		return
	}

	models := make(map[string]catalogModelInfo, len(provider.Models))
	for _, m := range provider.Models {
		models[m.ID] = m
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()

	slog.Info(fmt.Sprintf("Catalog: loaded %d models", len(models)))
}
