package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server contains listen and static file configuration.
type Server struct {
	Addr   string `toml:"addr"`
	WebDir string `toml:"web_dir"`
	MDNS   bool   `toml:"mdns"`
}

// Polling contains the widget poll intervals in seconds.
type Polling struct {
	CalendarSeconds int `toml:"calendar_seconds"`
	WeatherSeconds  int `toml:"weather_seconds"`
	EnergySeconds   int `toml:"energy_seconds"`
	MusicSeconds    int `toml:"music_seconds"`
	PollenSeconds   int `toml:"pollen_seconds"`
}

// NodeRED contains the local Node-RED bridge configuration.
type NodeRED struct {
	BaseURL            string  `toml:"base_url"`
	InsecureSkipVerify bool    `toml:"insecure_skip_verify"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	Burst              int     `toml:"burst"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
}

// Weather contains the Open-Meteo location.
type Weather struct {
	BaseURL   string  `toml:"base_url"`
	Location  string  `toml:"location"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// Google contains the OAuth client used for Calendar and Photos.
type Google struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	CalendarID   string `toml:"calendar_id"`
	CalendarDays int    `toml:"calendar_days"`
}

// Gemini contains the voice assistant session configuration.
type Gemini struct {
	Endpoint          string `toml:"endpoint"`
	Model             string `toml:"model"`
	Voice             string `toml:"voice"`
	SystemInstruction string `toml:"system_instruction"`
	SendPolicy        string `toml:"send_policy"`
	SendQueueFrames   int    `toml:"send_queue_frames"`
}

// Photos contains slideshow configuration.
type Photos struct {
	SlideSeconds        int `toml:"slide_seconds"`
	PickerPollSeconds   int `toml:"picker_poll_seconds"`
	MaxDimension        int `toml:"max_dimension"`
	DownloadConcurrency int `toml:"download_concurrency"`
	BackupKeepDays      int `toml:"backup_keep_days"`
}

// Config is the static hub configuration loaded from hub.toml.
type Config struct {
	Server  Server  `toml:"server"`
	Polling Polling `toml:"polling"`
	NodeRED NodeRED `toml:"nodered"`
	Weather Weather `toml:"weather"`
	Google  Google  `toml:"google"`
	Gemini  Gemini  `toml:"gemini"`
	Photos  Photos  `toml:"photos"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: Server{
			Addr: ":8080",
			MDNS: true,
		},
		Polling: Polling{
			CalendarSeconds: 300,
			WeatherSeconds:  900,
			EnergySeconds:   2,
			MusicSeconds:    5,
			PollenSeconds:   1800,
		},
		NodeRED: NodeRED{
			BaseURL:           "https://127.0.0.1:1881",
			RequestsPerSecond: 10,
			Burst:             5,
			TimeoutSeconds:    10,
		},
		Weather: Weather{
			BaseURL:   "https://api.open-meteo.com/v1/forecast",
			Location:  "Herenthout",
			Latitude:  51.1378,
			Longitude: 4.7570,
		},
		Google: Google{
			CalendarID:   "primary",
			CalendarDays: 30,
		},
		Gemini: Gemini{
			Endpoint:          "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:             "models/gemini-2.5-flash-native-audio-preview-12-2025",
			Voice:             "Puck",
			SystemInstruction: "You are the hub assistant of a smart home dashboard. Keep answers short.",
			SendPolicy:        "drop-oldest",
			SendQueueFrames:   16,
		},
		Photos: Photos{
			SlideSeconds:        30,
			PickerPollSeconds:   3,
			MaxDimension:        2560,
			DownloadConcurrency: 4,
			BackupKeepDays:      90,
		},
	}
}

// Load reads a TOML configuration file on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.NodeRED.BaseURL = strings.TrimRight(strings.TrimSpace(c.NodeRED.BaseURL), "/")
	c.Gemini.SendPolicy = strings.ToLower(strings.TrimSpace(c.Gemini.SendPolicy))
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	intervals := map[string]int{
		"polling.calendar_seconds":   c.Polling.CalendarSeconds,
		"polling.weather_seconds":    c.Polling.WeatherSeconds,
		"polling.energy_seconds":     c.Polling.EnergySeconds,
		"polling.music_seconds":      c.Polling.MusicSeconds,
		"polling.pollen_seconds":     c.Polling.PollenSeconds,
		"photos.slide_seconds":       c.Photos.SlideSeconds,
		"photos.picker_poll_seconds": c.Photos.PickerPollSeconds,
	}
	for name, v := range intervals {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.NodeRED.BaseURL == "" {
		return errors.New("nodered.base_url is required")
	}
	if c.NodeRED.RequestsPerSecond <= 0 {
		return errors.New("nodered.requests_per_second must be positive")
	}
	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 {
		return fmt.Errorf("weather.latitude out of range: %v", c.Weather.Latitude)
	}
	if c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		return fmt.Errorf("weather.longitude out of range: %v", c.Weather.Longitude)
	}
	switch c.Gemini.SendPolicy {
	case "drop-oldest", "block", "unbounded":
	default:
		return fmt.Errorf("gemini.send_policy must be drop-oldest, block or unbounded, got %q", c.Gemini.SendPolicy)
	}
	if c.Photos.DownloadConcurrency <= 0 {
		return errors.New("photos.download_concurrency must be positive")
	}
	return nil
}

// Seconds converts an interval field to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
