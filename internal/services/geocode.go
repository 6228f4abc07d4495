package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/models"
)

const (
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	defaultPhotonBaseURL    = "https://photon.komoot.io"
	geocodeUserAgent        = "tripallied-backend/1.0"
)

// GeocodeService resolves addresses through Nominatim and serves
// autocomplete suggestions through Photon. Responses are memoized in
// Redis because both providers rate limit aggressively.
type GeocodeService struct {
	nominatimBase string
	photonBase    string
	httpClient    *http.Client
	cache         *GeocodeCache
}

func NewGeocodeService(cache *GeocodeCache) *GeocodeService {
	nominatimBase := os.Getenv("NOMINATIM_BASE_URL")
	if nominatimBase == "" {
		nominatimBase = defaultNominatimBaseURL
	}
	photonBase := os.Getenv("PHOTON_BASE_URL")
	if photonBase == "" {
		photonBase = defaultPhotonBaseURL
	}
	return &GeocodeService{
		nominatimBase: nominatimBase,
		photonBase:    photonBase,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		cache:         cache,
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		County        string `json:"county"`
		StateDistrict string `json:"state_district"`
	} `json:"address"`
}

func (r *nominatimResult) city() string {
	for _, candidate := range []string{r.Address.City, r.Address.Town, r.Address.Village, r.Address.County, r.Address.StateDistrict} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (r *nominatimResult) place() (*dispatch.GeocodedPlace, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %v", r.Lat, err)
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %v", r.Lon, err)
	}
	return &dispatch.GeocodedPlace{
		Location: models.Location{Address: r.DisplayName, Lat: lat, Lng: lng},
		City:     r.city(),
	}, nil
}

// Forward resolves a free-text address to coordinates. A non-empty
// city hint is appended to narrow ambiguous queries.
func (s *GeocodeService) Forward(ctx context.Context, address, cityHint string) (*dispatch.GeocodedPlace, error) {
	query := strings.TrimSpace(address)
	if query == "" {
		return nil, fmt.Errorf("empty address")
	}
	if cityHint != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(cityHint)) {
		query = query + ", " + cityHint
	}

	cacheKey := "fwd:" + strings.ToLower(query)
	var cached dispatch.GeocodedPlace
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	var results []nominatimResult
	if err := s.getJSON(ctx, s.nominatimBase+"/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for %q", query)
	}
	place, err := results[0].place()
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKey, place)
	return place, nil
}

// Reverse resolves coordinates to an address and city.
func (s *GeocodeService) Reverse(ctx context.Context, lat, lng float64) (*dispatch.GeocodedPlace, error) {
	cacheKey := fmt.Sprintf("rev:%.5f:%.5f", lat, lng)
	var cached dispatch.GeocodedPlace
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("format", "json")
	params.Set("addressdetails", "1")

	var result nominatimResult
	if err := s.getJSON(ctx, s.nominatimBase+"/reverse?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	if result.Lat == "" {
		// Reverse lookups over open water return an empty object.
		return &dispatch.GeocodedPlace{Location: models.Location{Lat: lat, Lng: lng}}, nil
	}
	place, err := result.place()
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, cacheKey, place)
	return place, nil
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Label string  `json:"label"`
	City  string  `json:"city"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type photonResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Name   string `json:"name"`
			City   string `json:"city"`
			State  string `json:"state"`
			Street string `json:"street"`
		} `json:"properties"`
	} `json:"features"`
}

// Suggest returns up to limit autocomplete candidates for a partial
// address. A non-empty city hint narrows ambiguous queries the same way
// Forward does. The limit is clamped to [1,10]; anything unset or
// nonsensical falls back to 5.
func (s *GeocodeService) Suggest(ctx context.Context, query, cityHint string, limit int) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if cityHint != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(cityHint)) {
		query = query + ", " + cityHint
	}
	if limit < 1 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("sug:%d:%s", limit, strings.ToLower(query))
	var cached []Suggestion
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var response photonResponse
	if err := s.getJSON(ctx, s.photonBase+"/api?"+params.Encode(), &response); err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(response.Features))
	for _, feature := range response.Features {
		if len(feature.Geometry.Coordinates) < 2 {
			continue
		}
		props := feature.Properties
		labelParts := []string{}
		for _, part := range []string{props.Name, props.Street, props.City, props.State} {
			if part != "" {
				labelParts = append(labelParts, part)
			}
		}
		suggestions = append(suggestions, Suggestion{
			Label: strings.Join(labelParts, ", "),
			City:  props.City,
			Lat:   feature.Geometry.Coordinates[1],
			Lng:   feature.Geometry.Coordinates[0],
		})
	}

	s.cacheSet(ctx, cacheKey, suggestions)
	return suggestions, nil
}

func (s *GeocodeService) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	// Nominatim's usage policy requires an identifying agent.
	req.Header.Set("User-Agent", geocodeUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocode provider returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *GeocodeService) cacheGet(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, out)
	if err != nil {
		log.Printf("geocode cache read failed for %s: %v", key, err)
		return false
	}
	return hit
}

func (s *GeocodeService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		log.Printf("geocode cache write failed for %s: %v", key, err)
	}
}
