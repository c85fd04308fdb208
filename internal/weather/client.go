// Package weather reads current conditions for a coordinate from an Open-Meteo
// compatible forecast endpoint.
package weather

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

	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the public Open-Meteo forecast API.
	DefaultEndpoint = "https://api.open-meteo.com/v1/forecast"
	// LuxPerWattPerSquareMeter approximates daylight illuminance from shortwave radiation.
	LuxPerWattPerSquareMeter = 110

	currentFields  = "temperature_2m,relative_humidity_2m,shortwave_radiation"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrNoCurrentData is returned when the response carries no current block.
	ErrNoCurrentData = errors.New("weather: no current data")
	// ErrInvalidCoordinates rejects latitudes or longitudes outside their ranges.
	ErrInvalidCoordinates = errors.New("weather: invalid coordinates")
)

// Reading is the current weather at one location. Absent values are nil.
type Reading struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	LightLux    *int     `json:"light_lux"`
}

// Config describes the dependencies of a Client.
type Config struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches readings from the forecast endpoint.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.Endpoint)
	if raw == "" {
		raw = DefaultEndpoint
	}
	endpoint, err := url.Parse(raw)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("weather: invalid endpoint %q", cfg.Endpoint)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, logger: logger}, nil
}

type forecastResponse struct {
	Current *struct {
		Temperature        *float64 `json:"temperature_2m"`
		RelativeHumidity   *float64 `json:"relative_humidity_2m"`
		ShortwaveRadiation *float64 `json:"shortwave_radiation"`
	} `json:"current"`
}

// Current returns the conditions at latitude and longitude.
func (c *Client) Current(ctx context.Context, latitude, longitude float64) (Reading, error) {
	if math.IsNaN(latitude) || math.IsNaN(longitude) || math.Abs(latitude) > 90 || math.Abs(longitude) > 180 {
		return Reading{}, ErrInvalidCoordinates
	}
	endpoint := *c.endpoint
	query := endpoint.Query()
	query.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	query.Set("current", currentFields)
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Reading{}, err
	}
	request.Header.Set("Accept", "application/json")
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("weather request failed", zap.Error(err))
		return Reading{}, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("weather: status %d", response.StatusCode)
	}

	var payload forecastResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("weather: decode: %w", err)
	}
	if payload.Current == nil {
		return Reading{}, ErrNoCurrentData
	}
	return Reading{
		Temperature: payload.Current.Temperature,
		Humidity:    payload.Current.RelativeHumidity,
		LightLux:    LightLux(payload.Current.ShortwaveRadiation),
	}, nil
}

// LightLux converts shortwave radiation in W/m² to lux. Negative or missing values
// yield nil.
func LightLux(shortwave *float64) *int {
	if shortwave == nil || *shortwave < 0 || math.IsNaN(*shortwave) {
		return nil
	}
	lux := int(math.Round(*shortwave * LuxPerWattPerSquareMeter))
	return &lux
}
