// Package weather fetches the Open-Meteo forecast for the dashboard and
// caches the last snapshot on disk.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

const (
	hourlySlots = 12
	dailySlots  = 7
	localLayout = "2006-01-02T15:04"
)

type forecastResponse struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	Current          struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
	Hourly struct {
		Time        []string  `json:"time"`
		Temperature []float64 `json:"temperature_2m"`
		WeatherCode []int     `json:"weather_code"`
	} `json:"hourly"`
	Daily struct {
		Time        []string  `json:"time"`
		WeatherCode []int     `json:"weather_code"`
		Max         []float64 `json:"temperature_2m_max"`
		Min         []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Client fetches forecasts for one location.
type Client struct {
	http *http.Client
	cfg  config.Weather
}

// NewClient returns an Open-Meteo client. A nil hc uses a 15 s timeout client.
func NewClient(hc *http.Client, cfg config.Weather) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{http: hc, cfg: cfg}
}

// Fetch returns the current forecast snapshot.
func (c *Client) Fetch(ctx context.Context, now time.Time) (*models.WeatherSnapshot, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	q.Set("hourly", "temperature_2m,weather_code")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, models.StatusError(resp.StatusCode, "open-meteo")
	}
	var fr forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, models.NetworkError(fmt.Errorf("decode forecast: %w", err))
	}
	return buildSnapshot(&fr, c.cfg.Location, now)
}

func buildSnapshot(fr *forecastResponse, location string, now time.Time) (*models.WeatherSnapshot, error) {
	if len(fr.Hourly.Time) == 0 || len(fr.Daily.Time) == 0 {
		return nil, fmt.Errorf("open-meteo: %w", models.ErrEmpty)
	}
	loc := time.FixedZone("", fr.UTCOffsetSeconds)
	cur := Describe(fr.Current.WeatherCode)

	snap := &models.WeatherSnapshot{
		Location:    location,
		CurrentTemp: round(fr.Current.Temperature),
		Condition:   cur.Text,
		Icon:        cur.Icon,
		Humidity:    round(fr.Current.Humidity),
		WindSpeed:   fmt.Sprintf("%d km/h", round(fr.Current.WindSpeed)),
		Hourly:      []models.HourlyForecast{},
		Daily:       []models.DailyForecast{},
		FetchedAt:   now,
	}

	next := -1
	for i, ts := range fr.Hourly.Time {
		t, err := time.ParseInLocation(localLayout, ts, loc)
		if err != nil {
			return nil, fmt.Errorf("open-meteo: hourly time %q: %w", ts, err)
		}
		if t.After(now) {
			next = i
			break
		}
	}
	if next >= 0 {
		for i := next; i < len(fr.Hourly.Time) && i < next+hourlySlots; i++ {
			if i >= len(fr.Hourly.Temperature) || i >= len(fr.Hourly.WeatherCode) {
				break
			}
			t, _ := time.ParseInLocation(localLayout, fr.Hourly.Time[i], loc)
			snap.Hourly = append(snap.Hourly, models.HourlyForecast{
				Time: t,
				Temp: round(fr.Hourly.Temperature[i]),
				Icon: Describe(fr.Hourly.WeatherCode[i]).Icon,
			})
		}
	}

	for i := 0; i < len(fr.Daily.Time) && i < dailySlots; i++ {
		if i >= len(fr.Daily.WeatherCode) || i >= len(fr.Daily.Max) || i >= len(fr.Daily.Min) {
			break
		}
		d, err := time.ParseInLocation("2006-01-02", fr.Daily.Time[i], loc)
		if err != nil {
			return nil, fmt.Errorf("open-meteo: daily time %q: %w", fr.Daily.Time[i], err)
		}
		info := Describe(fr.Daily.WeatherCode[i])
		snap.Daily = append(snap.Daily, models.DailyForecast{
			Date:      fr.Daily.Time[i],
			Day:       d.Weekday().String(),
			Low:       round(fr.Daily.Min[i]),
			High:      round(fr.Daily.Max[i]),
			Condition: info.Text,
			Icon:      info.Icon,
		})
	}
	return snap, nil
}

// round matches JavaScript's Math.round: halves go towards +Inf.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
