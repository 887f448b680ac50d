package geocoding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"storefront-delivery/internal/models"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://maps.googleapis.com"

// GoogleOptions configures the Google Maps Geocoding client.
type GoogleOptions struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// GoogleClient calls the Google Maps Geocoding API. Requests are throttled
// client-side to stay under the provider quota.
type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

func NewGoogleClient(opts GoogleOptions) *GoogleClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &GoogleClient{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		limiter:    rate.NewLimiter(limit, opts.Burst),
	}
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode returns the first match for query, or nil when Google reports
// ZERO_RESULTS.
func (g *GoogleClient) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	params := url.Values{}
	params.Set("address", query)
	out, err := g.call(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Geocode: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	loc := out.Results[0].Geometry.Location
	c := models.Coordinate{Latitude: loc.Lat, Longitude: loc.Lng}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("Geocode: %w", err)
	}
	return &c, nil
}

// ReverseGeocode maps the first result's address components onto an Address.
func (g *GoogleClient) ReverseGeocode(ctx context.Context, c models.Coordinate) (*models.Address, error) {
	params := url.Values{}
	params.Set("latlng", c.String())
	out, err := g.call(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("ReverseGeocode: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}

	addr := &models.Address{}
	for _, comp := range out.Results[0].AddressComponents {
		for _, typ := range comp.Types {
			switch typ {
			case "route":
				addr.Street = comp.LongName
			case "street_number":
				addr.Number = comp.LongName
			case "sublocality", "sublocality_level_1", "neighborhood":
				if addr.Neighborhood == "" {
					addr.Neighborhood = comp.LongName
				}
			case "locality", "administrative_area_level_2":
				if addr.City == "" {
					addr.City = comp.LongName
				}
			case "postal_code":
				addr.PostalCode = comp.LongName
			}
		}
	}
	return addr, nil
}

// call runs one request against the geocode endpoint. ZERO_RESULTS is a
// normal answer; every other non-OK status is an error.
func (g *GoogleClient) call(ctx context.Context, params url.Values) (*googleResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("key", g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/maps/api/geocode/json?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode endpoint status %d", resp.StatusCode)
	}

	var out googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "OK", "ZERO_RESULTS":
		return &out, nil
	}
	return nil, fmt.Errorf("geocode status %s: %s", out.Status, out.ErrorMessage)
}
