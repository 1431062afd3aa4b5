// Package calendar keeps the dashboard agenda in sync with Google Calendar
// and implements the meal planner on top of it.
package calendar

import (
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

const dateLayout = "2006-01-02"

// DefaultColor is used for events without a known colour id.
const DefaultColor = "#10b981"

// colorMap maps Google Calendar event colour ids to hex colours.
var colorMap = map[string]string{
	"1":  "#7986cb",
	"2":  "#33b679",
	"3":  "#8e24aa",
	"4":  "#e67c73",
	"5":  "#f6bf26",
	"6":  "#f4511e",
	"7":  "#039be5",
	"8":  "#616161",
	"9":  "#3f51b5",
	"10": "#0b8043",
	"11": "#d50000",
}

// ColorFor returns the hex colour for a Google colour id.
func ColorFor(colorID string) string {
	if c, ok := colorMap[colorID]; ok {
		return c
	}
	return DefaultColor
}

// MealOptions are the dishes offered by the meal planner.
var MealOptions = []string{
	"Pizza", "Friet", "Taco", "Wrap",
	"Spaghetti", "Spinazie Spek", "Kip Rijst", "Croque", "Sushi", "Visburger", "Soep",
}

// MealPrefix starts the title of every meal event.
const MealPrefix = "Eten"

var wasteTitles = map[string]bool{"PMD": true, "RA": true, "P/K": true, "GLA": true}

// IsWaste reports whether title names a waste collection.
func IsWaste(title string) bool {
	return wasteTitles[strings.ToUpper(strings.TrimSpace(title))]
}

// IsMeal reports whether title is a meal planner entry.
func IsMeal(title string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(title)), strings.ToLower(MealPrefix))
}

// EventsForDay returns the items that fall on day in loc.
// All-day events use their raw dates with an exclusive end. Timed events
// cover every day from their start through the instant before their end.
func EventsForDay(items []models.AgendaItem, day time.Time, loc *time.Location) []models.AgendaItem {
	dayStr := day.In(loc).Format(dateLayout)
	out := []models.AgendaItem{}
	for _, it := range items {
		if it.IsAllDay && it.AllDayStart != "" && it.AllDayEnd != "" {
			if dayStr >= it.AllDayStart && dayStr < it.AllDayEnd {
				out = append(out, it)
			}
			continue
		}
		startDay := it.Start.In(loc).Format(dateLayout)
		endDay := it.End.Add(-time.Nanosecond).In(loc).Format(dateLayout)
		if it.End.Equal(it.Start) {
			endDay = startDay
		}
		if dayStr >= startDay && dayStr <= endDay {
			out = append(out, it)
		}
	}
	return out
}

// DayAgenda is one day of a week view.
type DayAgenda struct {
	Date  string              `json:"date"`
	Items []models.AgendaItem `json:"items"`
}

// Week returns seven consecutive days starting at start with their events.
func Week(items []models.AgendaItem, start time.Time, loc *time.Location) []DayAgenda {
	start = startOfDay(start, loc)
	days := make([]DayAgenda, 0, 7)
	for i := 0; i < 7; i++ {
		d := start.AddDate(0, 0, i)
		days = append(days, DayAgenda{
			Date:  d.Format(dateLayout),
			Items: EventsForDay(items, d, loc),
		})
	}
	return days
}

// WeekOption is one entry of the week picker.
type WeekOption struct {
	Start string `json:"start"`
	Label string `json:"label"`
}

// WeekOptions returns the Monday-aligned weeks starting with the current
// week. Labels read "dd/mm - dd/mm".
func WeekOptions(now time.Time, loc *time.Location, n int) []WeekOption {
	mon := MondayOf(now, loc)
	opts := make([]WeekOption, 0, n)
	for i := 0; i < n; i++ {
		start := mon.AddDate(0, 0, 7*i)
		end := start.AddDate(0, 0, 6)
		opts = append(opts, WeekOption{
			Start: start.Format(dateLayout),
			Label: start.Format("02/01") + " - " + end.Format("02/01"),
		})
	}
	return opts
}

// MondayOf returns local midnight of the Monday of t's week.
func MondayOf(t time.Time, loc *time.Location) time.Time {
	d := startOfDay(t, loc)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
}
