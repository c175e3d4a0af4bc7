// Package lookup fetches the informational side-data (weather, news) that
// weather/news directives are resolved with. Lookup errors are returned to
// the caller, which absorbs them; a failed lookup never fails a turn.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/raphaelgruber/nova/internal/metrics"
)

// WeatherReport is the structured payload attached to a weather result.
type WeatherReport struct {
	City        string `json:"city"`
	Temperature string `json:"temperature"`
	FeelsLike   string `json:"feelsLike"`
	Description string `json:"description"`
	Humidity    string `json:"humidity"`
	WindSpeed   string `json:"windSpeed"`
	WindDir     string `json:"windDir"`
}

// Summary renders the report as the human-readable sentence shown to users.
func (r WeatherReport) Summary() string {
	return fmt.Sprintf("Weather in %s: %s°C, %s, Humidity: %s%%, Wind: %s km/h",
		r.City, r.Temperature, r.Description, r.Humidity, r.WindSpeed)
}

// WeatherClient queries the wttr.in JSON API.
type WeatherClient struct {
	baseURL    string
	httpClient *http.Client
	collector  *metrics.Collector
}

// NewWeatherClient creates a weather client. baseURL defaults to wttr.in.
func NewWeatherClient(baseURL string, collector *metrics.Collector) *WeatherClient {
	if baseURL == "" {
		baseURL = "https://wttr.in"
	}
	return &WeatherClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		collector:  collector,
	}
}

// wttrResponse is the subset of the wttr.in j1 format we read. All values
// arrive as strings.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		WindSpeed   string `json:"windspeedKmph"`
		WindDir     string `json:"winddir16Point"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

// Get fetches current conditions for a city.
func (c *WeatherClient) Get(ctx context.Context, city string) (*WeatherReport, error) {
	start := time.Now()
	report, err := c.get(ctx, city)
	record(c.collector, metrics.OpWeatherLookup, start, err != nil)
	return report, err
}

// record is nil-safe; lookup clients may run without a collector.
func record(c *metrics.Collector, op string, start time.Time, failed bool) {
	if c == nil {
		return
	}
	if failed {
		c.RecordFailure(op, time.Since(start))
		return
	}
	c.RecordTiming(op, time.Since(start))
}

func (c *WeatherClient) get(ctx context.Context, city string) (*WeatherReport, error) {
	endpoint := fmt.Sprintf("%s/%s?format=j1", c.baseURL, url.PathEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API status %d", resp.StatusCode)
	}

	var data wttrResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}
	if len(data.CurrentCondition) == 0 {
		return nil, fmt.Errorf("no weather data for %s", city)
	}

	current := data.CurrentCondition[0]
	description := "Unknown"
	if len(current.WeatherDesc) > 0 {
		description = current.WeatherDesc[0].Value
	}

	return &WeatherReport{
		City:        city,
		Temperature: current.TempC,
		FeelsLike:   current.FeelsLikeC,
		Description: description,
		Humidity:    current.Humidity,
		WindSpeed:   current.WindSpeed,
		WindDir:     current.WindDir,
	}, nil
}
