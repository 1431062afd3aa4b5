// Package models defines the data structures shared across the hub: the
// dashboard state published to clients, persisted settings and errors.
package models

import "time"

// WidgetStatus is embedded in every polled widget section. A failed fetch
// keeps the previous data and only updates Error/ErrorKind.
type WidgetStatus struct {
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"` // "network" | "auth" | "empty"
}

// LogEntry is one line of a widget's operation log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"msg"`
	Level   string    `json:"type"` // "info" | "error" | "success"
}

// Log levels for LogEntry.
const (
	LogInfo    = "info"
	LogError   = "error"
	LogSuccess = "success"
)

// MaxLogEntries caps every operation log.
const MaxLogEntries = 100

// AppendLog appends an entry and keeps at most MaxLogEntries.
func AppendLog(logs []LogEntry, level, msg string) []LogEntry {
	logs = append(logs, LogEntry{Time: time.Now(), Message: msg, Level: level})
	if len(logs) > MaxLogEntries {
		logs = append([]LogEntry(nil), logs[len(logs)-MaxLogEntries:]...)
	}
	return logs
}

// Info is the system information section.
type Info struct {
	Version   string    `json:"version"`
	Hostname  string    `json:"hostname"`
	Offline   bool      `json:"offline"`
	StartedAt time.Time `json:"started_at"`
}

// Session describes the Google sign-in of the dashboard owner.
type Session struct {
	SignedIn bool   `json:"signed_in"`
	Scopes   string `json:"scopes,omitempty"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// AgendaItem is one calendar event.
type AgendaItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	IsAllDay    bool      `json:"is_all_day"`
	HTMLLink    string    `json:"html_link,omitempty"`
	// Raw YYYY-MM-DD dates for all-day events; AllDayEnd is exclusive.
	AllDayStart string `json:"all_day_start,omitempty"`
	AllDayEnd   string `json:"all_day_end,omitempty"`
	IsWaste     bool   `json:"is_waste,omitempty"`
	IsMeal      bool   `json:"is_meal,omitempty"`
}

// CalendarState is the agenda section.
type CalendarState struct {
	WidgetStatus
	Items []AgendaItem `json:"items"`
}

// HourlyForecast is one hourly weather slot.
type HourlyForecast struct {
	Time time.Time `json:"time"`
	Temp int       `json:"temp"`
	Icon string    `json:"icon"`
}

// DailyForecast is one daily weather slot.
type DailyForecast struct {
	Date      string `json:"date"`
	Day       string `json:"day"`
	Low       int    `json:"low"`
	High      int    `json:"high"`
	Condition string `json:"condition"`
	Icon      string `json:"icon"`
}

// WeatherSnapshot is one complete forecast.
type WeatherSnapshot struct {
	Location    string           `json:"location"`
	CurrentTemp int              `json:"current_temp"`
	Condition   string           `json:"condition"`
	Icon        string           `json:"icon"`
	Humidity    int              `json:"humidity"`
	WindSpeed   string           `json:"wind_speed"`
	Hourly      []HourlyForecast `json:"hourly"`
	Daily       []DailyForecast  `json:"daily"`
	FetchedAt   time.Time        `json:"fetched_at"`
}

// WeatherState is the weather section.
type WeatherState struct {
	WidgetStatus
	Current *WeatherSnapshot `json:"current,omitempty"`
}

// EnergySnapshot is one reading of the house energy telemetry.
type EnergySnapshot struct {
	HouseLoad          float64   `json:"house_load"`
	EVPower            float64   `json:"ev_power"`
	EVChargedToday     float64   `json:"ev_charged_today"`
	EVChargedMonth     float64   `json:"ev_charged_month"`
	EVTotalCounter     float64   `json:"ev_total_counter"`
	EVStatus           string    `json:"ev_status"`
	SolarTotal         float64   `json:"solar_total"`
	SolarAC            float64   `json:"solar_ac"`
	SolarDC            float64   `json:"solar_dc"`
	SolarDCDay         float64   `json:"solar_dc_day"`
	SolarACDay         float64   `json:"solar_ac_day"`
	SolarTotalDay      float64   `json:"solar_total_day"`
	GridTotal          float64   `json:"grid_total"`
	GridSetpoint       float64   `json:"grid_setpoint"`
	DCPower            float64   `json:"dc_power"`
	SOC                float64   `json:"soc"`
	BatteryStatus      string    `json:"battery_status"`
	BatteryPower       float64   `json:"battery_power"`
	BatteryCharging    bool      `json:"battery_charging"`
	ForecastPrediction float64   `json:"forecast_prediction"`
	ForecastSummary    string    `json:"forecast_summary"`
	Timestamp          time.Time `json:"timestamp"`
}

// EnergyState is the energy section.
type EnergyState struct {
	WidgetStatus
	Current *EnergySnapshot `json:"current,omitempty"`
}

// Playback is the now-playing state reported by one music source.
type Playback struct {
	Authenticated bool   `json:"authenticated"`
	IsPlaying     bool   `json:"is_playing"`
	Track         string `json:"track,omitempty"`
	Artist        string `json:"artist,omitempty"`
	Album         string `json:"album,omitempty"`
	AlbumArt      string `json:"album_art,omitempty"`
	Device        string `json:"device,omitempty"`
	Position      int64  `json:"position"`
	Duration      int64  `json:"duration"`
	Volume        int    `json:"volume"`
	Error         string `json:"error,omitempty"`
}

// Music source names.
const (
	MusicSpotify = "spotify"
	MusicSonos   = "sonos"
)

// MusicState is the music section.
type MusicState struct {
	WidgetStatus
	Active  string    `json:"active"`
	Spotify *Playback `json:"spotify,omitempty"`
	Sonos   *Playback `json:"sonos,omitempty"`
}

// PollenState is the pollen forecast section.
type PollenState struct {
	WidgetStatus
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
}

// PhotoSlide is one slideshow entry as seen by clients.
type PhotoSlide struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	BlobURL  string `json:"blob_url"`
}

// PhotosState is the slideshow section.
type PhotosState struct {
	Count     int         `json:"count"`
	Current   *PhotoSlide `json:"current,omitempty"`
	Index     int         `json:"index"`
	Picking   bool        `json:"picking"`
	PickerURI string      `json:"picker_uri,omitempty"`
	Log       []LogEntry  `json:"log"`
}

// AssistantState is the voice-assistant section.
type AssistantState struct {
	Starting    bool   `json:"starting"`
	Active      bool   `json:"active"`
	Speaking    bool   `json:"speaking"`
	NeedsKey    bool   `json:"needs_key"`
	HasKey      bool   `json:"has_key"`
	AudioClient bool   `json:"audio_client"`
	// DroppedFrames counts capture frames the send queue discarded in
	// the current session.
	DroppedFrames int64      `json:"dropped_frames"`
	Error         string     `json:"error,omitempty"`
	Transcript    string     `json:"transcript,omitempty"`
	Log           []LogEntry `json:"log"`
}

// Timer statuses.
const (
	TimerIdle     = "idle"
	TimerRunning  = "running"
	TimerFinished = "finished"
)

// TimerState is the kitchen timer section.
type TimerState struct {
	Status   string `json:"status"`
	Duration int    `json:"duration"`
	Left     int    `json:"left"`
}

// View names for the main panel.
const (
	ViewAgenda = "agenda"
	ViewPhotos = "photos"
)

// DisplaySettings are the non-secret settings visible to clients.
type DisplaySettings struct {
	Timezone string `json:"timezone"`
	MainView string `json:"main_view"`
}

// State is the complete dashboard state returned by GET /api and pushed over SSE.
type State struct {
	Info      Info            `json:"info"`
	Session   Session         `json:"session"`
	Settings  DisplaySettings `json:"settings"`
	Calendar  CalendarState   `json:"calendar"`
	Weather   WeatherState    `json:"weather"`
	Energy    EnergyState     `json:"energy"`
	Music     MusicState      `json:"music"`
	Pollen    PollenState     `json:"pollen"`
	Photos    PhotosState     `json:"photos"`
	Assistant AssistantState  `json:"assistant"`
	Timer     TimerState      `json:"timer"`
}

// DeepCopy returns a deep copy of the state.
func (s State) DeepCopy() State {
	next := s

	next.Calendar.Items = make([]AgendaItem, len(s.Calendar.Items))
	copy(next.Calendar.Items, s.Calendar.Items)

	if s.Weather.Current != nil {
		w := *s.Weather.Current
		w.Hourly = append([]HourlyForecast(nil), s.Weather.Current.Hourly...)
		w.Daily = append([]DailyForecast(nil), s.Weather.Current.Daily...)
		next.Weather.Current = &w
	}
	if s.Energy.Current != nil {
		e := *s.Energy.Current
		next.Energy.Current = &e
	}
	if s.Music.Spotify != nil {
		p := *s.Music.Spotify
		next.Music.Spotify = &p
	}
	if s.Music.Sonos != nil {
		p := *s.Music.Sonos
		next.Music.Sonos = &p
	}
	if s.Photos.Current != nil {
		c := *s.Photos.Current
		next.Photos.Current = &c
	}
	next.Photos.Log = make([]LogEntry, len(s.Photos.Log))
	copy(next.Photos.Log, s.Photos.Log)
	next.Assistant.Log = make([]LogEntry, len(s.Assistant.Log))
	copy(next.Assistant.Log, s.Assistant.Log)

	return next
}
