package models

// SettingsUpdate is the PATCH body for /api/settings.
type SettingsUpdate struct {
	Timezone *string `json:"timezone,omitempty"`
	MainView *string `json:"main_view,omitempty"`
}

// MealRequest adds a meal to the calendar. Date is YYYY-MM-DD.
type MealRequest struct {
	Date string `json:"date"`
	Dish string `json:"dish"`
}

// MealOptions is the dish list of the meal planner.
type MealOptions struct {
	Prefix string   `json:"prefix"`
	Dishes []string `json:"dishes"`
}

// VolumeRequest sets a music source volume (0-100).
type VolumeRequest struct {
	Volume int `json:"volume"`
}

// TimerRequest starts the kitchen timer.
type TimerRequest struct {
	Seconds int `json:"seconds"`
}

// TimerPresets are the one-tap durations offered by the timer.
type TimerPresets struct {
	Minutes    []int `json:"minutes"`
	MaxSeconds int   `json:"max_seconds"`
}

// KeyRequest stores the voice assistant API key.
type KeyRequest struct {
	APIKey string `json:"api_key"`
}

// PickerResponse is returned when a photo picker session starts.
type PickerResponse struct {
	SessionID string `json:"session_id"`
	PickerURI string `json:"picker_uri"`
}
