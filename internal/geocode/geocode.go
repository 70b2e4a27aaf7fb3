// Package geocode resolves free-form addresses to coordinates through a
// Nominatim-compatible search endpoint, caching results in SQLite forever.
package geocode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/funkyfirehose/relay/internal/models"
)

// ErrNotFound is returned when the upstream service has no match for an address.
var ErrNotFound = errors.New("geocode: address not found")

const userAgent = "funky-firehose-relay/1.0"

// Cache looks addresses up in the geocodes table before asking upstream.
type Cache struct {
	db         *sql.DB
	endpoint   string
	httpClient *http.Client
}

// nominatimResult mirrors one element of a Nominatim search response.
// Coordinates arrive as strings.
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// New creates a Cache over db (with the geocodes table migrated) that
// queries endpoint on a miss.
func New(db *sql.DB, endpoint string) *Cache {
	return &Cache{
		db:       db,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Normalize trims, collapses inner whitespace and lowercases an address so
// trivially different spellings share one cache row.
func Normalize(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Lookup returns the coordinates for address, from the cache when possible.
func (c *Cache) Lookup(ctx context.Context, address string) (models.Coordinates, error) {
	key := Normalize(address)
	if key == "" {
		return models.Coordinates{}, ErrNotFound
	}

	var coords models.Coordinates
	err := c.db.QueryRowContext(ctx,
		`SELECT lat, lon FROM geocodes WHERE address = ?`, key).Scan(&coords.Lat, &coords.Lon)
	if err == nil {
		return coords, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Coordinates{}, fmt.Errorf("read geocode cache: %w", err)
	}

	coords, err = c.fetch(ctx, key)
	if err != nil {
		return models.Coordinates{}, err
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO geocodes (address, lat, lon) VALUES (?, ?, ?) ON CONFLICT(address) DO NOTHING`,
		key, coords.Lat, coords.Lon); err != nil {
		return models.Coordinates{}, fmt.Errorf("write geocode cache: %w", err)
	}
	return coords, nil
}

func (c *Cache) fetch(ctx context.Context, address string) (models.Coordinates, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")

	reqURL := c.endpoint
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Coordinates{}, fmt.Errorf("geocode request returned %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return models.Coordinates{}, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return models.Coordinates{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

// Enrich adds a "location" member to msg when it is a JSON object with a
// string "address" member. Anything else is returned untouched with a nil error.
func (c *Cache) Enrich(ctx context.Context, msg models.Message) (models.Message, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg, &obj); err != nil || obj == nil {
		return msg, nil
	}

	var address string
	if raw, ok := obj["address"]; !ok || json.Unmarshal(raw, &address) != nil {
		return msg, nil
	}

	coords, err := c.Lookup(ctx, address)
	if err != nil {
		return msg, err
	}

	loc, err := json.Marshal(coords)
	if err != nil {
		return msg, err
	}
	obj["location"] = loc

	enriched, err := json.Marshal(obj)
	if err != nil {
		return msg, err
	}
	return models.Message(enriched), nil
}
