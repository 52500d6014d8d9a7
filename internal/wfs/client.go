// Package wfs resolves Collecto stop records from a WFS feature service.
package wfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrStopNotFound signals that no feature matched the requested stop code.
// Distinct from transport errors, which wrap their cause instead.
var ErrStopNotFound = errors.New("stop not found")

// StopAttributes is the typed view of one stop feature's properties. String
// fields default to "" when the property is absent or null; GID is nil when
// the record carries no internal identifier.
type StopAttributes struct {
	CodeStop  string
	NameFR    string
	NameNL    string
	HouseNr   string
	RoadFR    string
	RoadNL    string
	MuFR      string
	MuNL      string
	GID       *int64
	ImageStop string
}

// Client queries a WFS endpoint for the full stop collection and filters
// client-side; the service offers no per-code query.
type Client struct {
	BaseURL  string
	TypeName string
	SRSName  string
	HTTP     *http.Client
}

// NewClient returns a Client with the given request timeout.
func NewClient(baseURL, typeName, srsName string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  baseURL,
		TypeName: typeName,
		SRSName:  srsName,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type featureCollection struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

// ResolveStop fetches the stop collection and returns the first feature whose
// trimmed code_stop equals the trimmed requested code (case-sensitive).
func (c *Client) ResolveStop(ctx context.Context, code string) (StopAttributes, error) {
	q := url.Values{}
	q.Set("service", "wfs")
	q.Set("version", "1.1.0")
	q.Set("request", "GetFeature")
	q.Set("typeName", c.TypeName)
	q.Set("outputFormat", "json")
	q.Set("srsName", c.SRSName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return StopAttributes{}, fmt.Errorf("wfs: build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return StopAttributes{}, fmt.Errorf("wfs: query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StopAttributes{}, fmt.Errorf("wfs: unexpected status %s", resp.Status)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return StopAttributes{}, fmt.Errorf("wfs: decode response: %w", err)
	}

	want := strings.TrimSpace(code)
	for _, f := range fc.Features {
		attrs := attributesFrom(f.Properties)
		if strings.TrimSpace(attrs.CodeStop) == want {
			return attrs, nil
		}
	}
	return StopAttributes{}, ErrStopNotFound
}

// attributesFrom maps raw GeoJSON properties onto the typed record. All
// defaulting happens here so downstream code never deals with missing keys.
func attributesFrom(props map[string]any) StopAttributes {
	return StopAttributes{
		CodeStop:  stringProp(props, "code_stop"),
		NameFR:    stringProp(props, "name_fr"),
		NameNL:    stringProp(props, "name_nl"),
		HouseNr:   stringProp(props, "housenr"),
		RoadFR:    stringProp(props, "road_fr"),
		RoadNL:    stringProp(props, "road_nl"),
		MuFR:      stringProp(props, "mu_fr"),
		MuNL:      stringProp(props, "mu_nl"),
		GID:       intProp(props, "gid"),
		ImageStop: stringProp(props, "image_stop"),
	}
}

// stringProp stringifies the property value. Feature services are loose about
// types; house numbers and codes occasionally arrive as JSON numbers.
func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intProp(props map[string]any, key string) *int64 {
	switch v := props[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return &n
		}
	}
	return nil
}
