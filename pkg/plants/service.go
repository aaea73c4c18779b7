// Package plants exposes Horizon plant metadata: the plant inventory
// flattened into wide records, plus element and datasource listings.
package plants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plantsight/gpm-horizon-client/pkg/cache"
	"github.com/plantsight/gpm-horizon-client/pkg/transport"
)

// DefaultMetadataTTL bounds how long plant metadata is served from cache.
// Metadata changes rarely; measurement data is never cached.
const DefaultMetadataTTL = 15 * time.Minute

// Transport is the request surface the service needs.
type Transport interface {
	Get(ctx context.Context, path string, params url.Values, headers http.Header) (*transport.Response, error)
}

// Config holds the service configuration.
type Config struct {
	// Cache enables read-through caching of metadata responses when set.
	Cache *cache.Manager

	// CacheTTL is the metadata cache lifetime. Zero means DefaultMetadataTTL.
	CacheTTL time.Duration
}

// Service reads plant metadata over the Horizon transport.
type Service struct {
	transport Transport
	cache     *cache.Manager
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewService creates a metadata service. cfg.Cache may be nil, in which
// case every call goes to the API.
func NewService(tp Transport, cfg Config) (*Service, error) {
	if tp == nil {
		return nil, fmt.Errorf("transport is required")
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}

	return &Service{
		transport: tp,
		cache:     cfg.Cache,
		ttl:       ttl,
		logger:    log.With().Str("component", "gpm-plants").Logger(),
	}, nil
}

// Parameter is one vendor key/value property attached to a plant.
type Parameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

type plantRecord struct {
	ID           json.Number `json:"Id"`
	Name         string      `json:"Name"`
	ElementCount json.Number `json:"ElementCount"`
	UniqueID     string      `json:"UniqueID"`
	Parameters   []Parameter `json:"Parameters"`
}

// Plants fetches the plant inventory and flattens each plant's
// Parameters key/value list into one wide record: the fixed columns
// Id, Name, ElementCount and UniqueID plus one column per property.
// A property sharing a fixed column's name overwrites it.
func (s *Service) Plants(ctx context.Context) ([]map[string]any, error) {
	body, err := s.fetch(ctx, "/Plant", nil)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var records []plantRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode plant list: %w", err)
	}

	wide := make([]map[string]any, len(records))
	for i, p := range records {
		record := map[string]any{
			"Id":           p.ID,
			"Name":         p.Name,
			"ElementCount": p.ElementCount,
			"UniqueID":     p.UniqueID,
		}
		for _, param := range p.Parameters {
			record[param.Key] = param.Value
		}
		wide[i] = record
	}

	s.logger.Debug().Int("plants", len(wide)).Msg("Fetched plant inventory")
	return wide, nil
}

// Elements returns the raw element list of a plant.
func (s *Service) Elements(ctx context.Context, plantID int) (json.RawMessage, error) {
	return s.fetch(ctx, fmt.Sprintf("/Plant/%d/Element", plantID), nil)
}

// Datasources returns the raw datasource (tag) list of one element.
func (s *Service) Datasources(ctx context.Context, plantID, elementID int) (json.RawMessage, error) {
	return s.fetch(ctx, fmt.Sprintf("/Plant/%d/Element/%d/Datasource", plantID, elementID), nil)
}

// fetch is the read-through path: cache first when configured, then the
// API, storing successful bodies back under the endpoint key.
func (s *Service) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	key := cache.CacheKey{Endpoint: path, Params: params}

	if s.cache != nil {
		entry, err := s.cache.Get(ctx, key)
		if err == nil {
			return entry.Data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			// Degraded cache must not block metadata reads
			s.logger.Warn().Err(err).Str("endpoint", path).Msg("Metadata cache read failed")
		}
	}

	resp, err := s.transport.Get(ctx, path, params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cache.NewEntry(resp.Body, s.ttl)); err != nil {
			s.logger.Warn().Err(err).Str("endpoint", path).Msg("Metadata cache write failed")
		}
	}

	return resp.Body, nil
}
