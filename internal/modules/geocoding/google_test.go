package geocoding

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"storefront-delivery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTripFunc stubs the Google endpoint.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(status int, body string, seen *[]*http.Request) *GoogleClient {
	g := NewGoogleClient(GoogleOptions{BaseURL: "https://maps.test", APIKey: "test"})
	g.httpClient = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if seen != nil {
				*seen = append(*seen, req)
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     http.Header{},
			}, nil
		}),
	}
	return g
}

func TestQuery(t *testing.T) {
	t.Parallel()

	a := models.Address{
		Street:       "  Rua   Augusta ",
		Number:       "1500",
		Complement:   "apto 12",
		Neighborhood: "Consolação",
		City:         "São Paulo",
		PostalCode:   "01304-001",
	}
	assert.Equal(t, "Rua Augusta 1500, Consolação, São Paulo, 01304-001", Query(a))
	assert.Equal(t, "Main St 1, Springfield", Query(models.Address{Street: "Main St", Number: "1", City: "Springfield"}))
	assert.Equal(t, normalizeKey("main st 1,  SPRINGFIELD"), normalizeKey("Main St 1, Springfield"))
}

func TestGeocode(t *testing.T) {
	t.Parallel()

	var seen []*http.Request
	body := `{"status":"OK","results":[{"geometry":{"location":{"lat":-23.5558,"lng":-46.6623}}}]}`
	g := newTestClient(http.StatusOK, body, &seen)

	c, err := g.Geocode(context.Background(), "Rua Augusta 1500, São Paulo")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.Coordinate{Latitude: -23.5558, Longitude: -46.6623}, *c)

	require.Len(t, seen, 1)
	assert.Equal(t, "/maps/api/geocode/json", seen[0].URL.Path)
	assert.Equal(t, "Rua Augusta 1500, São Paulo", seen[0].URL.Query().Get("address"))
	assert.Equal(t, "test", seen[0].URL.Query().Get("key"))
}

func TestGeocodeZeroResultsIsNotAnError(t *testing.T) {
	t.Parallel()

	g := newTestClient(http.StatusOK, `{"status":"ZERO_RESULTS","results":[]}`, nil)
	c, err := g.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestGeocodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"quota", http.StatusOK, `{"status":"OVER_QUERY_LIMIT","error_message":"slow down"}`},
		{"http error", http.StatusBadGateway, `oops`},
		{"bad json", http.StatusOK, `{"status":`},
		{"invalid location", http.StatusOK, `{"status":"OK","results":[{"geometry":{"location":{"lat":123,"lng":0}}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestClient(tt.status, tt.body, nil)
			c, err := g.Geocode(context.Background(), "x")
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestReverseGeocode(t *testing.T) {
	t.Parallel()

	var seen []*http.Request
	body := `{"status":"OK","results":[{"address_components":[
		{"long_name":"1500","types":["street_number"]},
		{"long_name":"Rua Augusta","types":["route"]},
		{"long_name":"Consolação","types":["sublocality_level_1","sublocality","political"]},
		{"long_name":"São Paulo","types":["administrative_area_level_2","political"]},
		{"long_name":"01304-001","types":["postal_code"]}
	]}]}`
	g := newTestClient(http.StatusOK, body, &seen)

	addr, err := g.ReverseGeocode(context.Background(), models.Coordinate{Latitude: -23.5558, Longitude: -46.6623})
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, models.Address{
		Street:       "Rua Augusta",
		Number:       "1500",
		Neighborhood: "Consolação",
		City:         "São Paulo",
		PostalCode:   "01304-001",
	}, *addr)
	assert.Equal(t, "-23.555800,-46.662300", seen[0].URL.Query().Get("latlng"))
}
