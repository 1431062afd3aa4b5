package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// DefaultBaseURL is the Google Calendar v3 API root.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Doer sends authorized requests. *google.Client and *http.Client implement it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one Google calendar.
type Client struct {
	http       Doer
	baseURL    string
	calendarID string
}

// NewClient returns a client for calendarID ("primary" when empty).
func NewClient(doer Doer, baseURL, calendarID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{http: doer, baseURL: baseURL, calendarID: calendarID}
}

type eventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

type event struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	ColorID     string    `json:"colorId,omitempty"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
}

type eventList struct {
	Items         []event `json:"items"`
	NextPageToken string  `json:"nextPageToken"`
}

func (c *Client) eventsURL() string {
	return c.baseURL + "/calendars/" + url.PathEscape(c.calendarID) + "/events"
}

// ListEvents returns the single events between from and to ordered by start.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time, loc *time.Location) ([]models.AgendaItem, error) {
	items := []models.AgendaItem{}
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", from.UTC().Format(time.RFC3339))
		q.Set("timeMax", to.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page eventList
		if err := c.do(ctx, http.MethodGet, c.eventsURL()+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, ev := range page.Items {
			it, err := toItem(ev, loc)
			if err != nil {
				slog.Warn("calendar: skipping event with unreadable time", "id", ev.ID, "err", err)
				continue
			}
			items = append(items, it)
		}
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

// InsertAllDay creates an all-day event on date (YYYY-MM-DD) and returns its id.
func (c *Client) InsertAllDay(ctx context.Context, date time.Time, title string) (string, error) {
	body := event{
		Summary: title,
		Start:   eventTime{Date: date.Format(dateLayout)},
		End:     eventTime{Date: date.AddDate(0, 0, 1).Format(dateLayout)},
	}
	var created event
	if err := c.do(ctx, http.MethodPost, c.eventsURL(), body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Delete removes the event with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.eventsURL()+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var fe *models.FetchError
		if errors.As(err, &fe) {
			return err
		}
		return models.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return models.StatusError(resp.StatusCode, "calendar")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NetworkError(fmt.Errorf("decode calendar response: %w", err))
	}
	return nil
}

func toItem(ev event, loc *time.Location) (models.AgendaItem, error) {
	it := models.AgendaItem{
		ID:          ev.ID,
		Title:       ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Color:       ColorFor(ev.ColorID),
		HTMLLink:    ev.HTMLLink,
	}
	if it.Title == "" {
		it.Title = "(no title)"
	}

	if ev.Start.DateTime == "" {
		it.IsAllDay = true
		it.AllDayStart = ev.Start.Date
		it.AllDayEnd = ev.End.Date
		start, err := time.ParseInLocation(dateLayout, ev.Start.Date, loc)
		if err != nil {
			return it, err
		}
		end, err := time.ParseInLocation(dateLayout, ev.End.Date, loc)
		if err != nil {
			return it, err
		}
		it.Start, it.End = start, end
	} else {
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return it, err
		}
		end, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			return it, err
		}
		it.Start, it.End = start, end
	}

	it.IsWaste = IsWaste(it.Title)
	it.IsMeal = IsMeal(it.Title)
	return it, nil
}
