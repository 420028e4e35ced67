// Package home holds the small household integrations: a weather-based
// suggestion and smart-light control.
package home

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	openWeatherURL = "https://api.openweathermap.org/data/2.5/weather"
	defaultCity    = "Portland"
	requestTimeout = 10 * time.Second
)

// Conditions are the current weather conditions for a city, in °F.
type Conditions struct {
	Temp        float64 `json:"temp"`
	FeelsLike   float64 `json:"feels_like"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	City        string  `json:"city"`
}

// Suggestion pairs the current conditions with a friendly suggestion.
type Suggestion struct {
	Weather    Conditions `json:"weather"`
	Suggestion string     `json:"suggestion"`
}

// Weather reads current conditions from OpenWeather.
type Weather struct {
	apiKey     string
	city       string
	baseURL    string
	httpClient *http.Client
}

// NewWeather creates a Weather client. An empty city uses Portland.
func NewWeather(apiKey, city string) *Weather {
	if city == "" {
		city = defaultCity
	}
	return &Weather{
		apiKey:     apiKey,
		city:       city,
		baseURL:    openWeatherURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// WithBaseURL points the client at a different endpoint.
func (w *Weather) WithBaseURL(u string) *Weather {
	w.baseURL = u
	return w
}

type owmResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Current fetches the current conditions.
func (w *Weather) Current(ctx context.Context) (Conditions, error) {
	q := url.Values{}
	q.Set("q", w.city)
	q.Set("appid", w.apiKey)
	q.Set("units", "imperial")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Conditions{}, fmt.Errorf("requesting weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return Conditions{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var out owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Conditions{}, fmt.Errorf("decoding weather: %w", err)
	}
	if len(out.Weather) == 0 {
		return Conditions{}, errors.New("weather response has no conditions")
	}

	return Conditions{
		Temp:        out.Main.Temp,
		FeelsLike:   out.Main.FeelsLike,
		Description: out.Weather[0].Description,
		Humidity:    out.Main.Humidity,
		City:        out.Name,
	}, nil
}

// Suggest fetches the current conditions and picks a suggestion for them.
func (w *Weather) Suggest(ctx context.Context) (Suggestion, error) {
	c, err := w.Current(ctx)
	if err != nil {
		return Suggestion{}, err
	}
	return Suggestion{Weather: c, Suggestion: Suggest(c)}, nil
}

// Suggest maps conditions to a suggestion. Rain wins over temperature.
func Suggest(c Conditions) string {
	switch {
	case strings.Contains(strings.ToLower(c.Description), "rain"):
		return fmt.Sprintf("☔ It's rainy in %s! Grab an umbrella, babe. Maybe a cozy movie night? 💕", c.City)
	case c.Temp < 50:
		return fmt.Sprintf("🧥 It's %.0f°F - bundle up, love! Perfect weather for hot cocoa ☕", c.Temp)
	case c.Temp > 80:
		return fmt.Sprintf("☀️ Hot day at %.0f°F! Stay hydrated and maybe hit the pool? 🏊‍♀️", c.Temp)
	default:
		return fmt.Sprintf("✨ Nice %.0f°F weather! Great day to get out there, babe! 😊", c.Temp)
	}
}
