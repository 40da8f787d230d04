package query

import (
	"context"
	"net/http"
	"sort"
)

// Provider is one model provider in the server catalog.
type Provider struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Models map[string]ModelInfo `json:"models"`
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog is the decoded /config/providers response. Default maps
// provider ID to its default model ID.
type Catalog struct {
	Providers []Provider        `json:"providers"`
	Default   map[string]string `json:"default"`
}

// Agent is one named server-side agent from /agent.
type Agent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mode        string `json:"mode"`
}

// Providers fetches the model catalog.
func (c *Coordinator) Providers(ctx context.Context) (*Catalog, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(ctx, http.MethodGet, "/config/providers", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	var catalog Catalog
	if err := resp.DecodeJSON(&catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Agents fetches the named agents the server exposes.
func (c *Coordinator) Agents(ctx context.Context) ([]Agent, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(ctx, http.MethodGet, "/agent", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	var agents []Agent
	if err := resp.DecodeJSON(&agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ModelIDs flattens the catalog into sorted provider/model strings,
// the form accepted by Options.Model.
func (c *Catalog) ModelIDs() []string {
	var ids []string
	for _, p := range c.Providers {
		for modelID := range p.Models {
			ids = append(ids, p.ID+"/"+modelID)
		}
	}
	sort.Strings(ids)
	return ids
}
