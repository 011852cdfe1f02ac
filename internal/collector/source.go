package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"signalengine/internal/model"
)

// FuncSource adapts a function to model.ObservationSource.
type FuncSource func(ctx context.Context, assetID string) (model.Observation, error)

// Fetch calls f.
func (f FuncSource) Fetch(ctx context.Context, assetID string) (model.Observation, error) {
	return f(ctx, assetID)
}

// HTTPSource polls GET <base>/<assetID>, which answers with the asset's
// latest observation record:
//
//	{"timestamp":"...","price":0.0012,"volume":530,"buy_count":14,"sell_count":3}
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource validates base. A nil client uses http.DefaultClient; the
// collector's FetchTimeout bounds each request.
func NewHTTPSource(base string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("collector: poll url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("collector: poll url %q must be http or https", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: strings.TrimRight(base, "/"), client: client}, nil
}

// Fetch implements model.ObservationSource.
func (s *HTTPSource) Fetch(ctx context.Context, assetID string) (model.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/"+url.PathEscape(assetID), nil)
	if err != nil {
		return model.Observation{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return model.Observation{}, fmt.Errorf("poll %s: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return model.Observation{}, fmt.Errorf("poll %s: status %d", assetID, resp.StatusCode)
	}
	var rec model.ObservationRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rec); err != nil {
		return model.Observation{}, fmt.Errorf("poll %s: decode: %w", assetID, err)
	}
	return rec.Observation(assetID)
}
