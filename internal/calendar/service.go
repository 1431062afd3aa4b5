package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/google"
	"github.com/hearthlabs/homehub/internal/models"
)

// Hub is the part of the state owner the calendar writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
	State() models.State
	Logout() models.State
	Location() *time.Location
	SetProfile(name, picture string)
}

// ProfileFetcher returns the signed-in user's profile.
type ProfileFetcher interface {
	UserInfo(ctx context.Context) (*google.Profile, error)
}

// Service polls the agenda and runs the meal planner.
type Service struct {
	client  *Client
	profile ProfileFetcher
	hub     Hub
	days    int
	now     func() time.Time
}

// NewService creates the calendar widget. days is the look-ahead window.
func NewService(client *Client, profile ProfileFetcher, hub Hub, days int) *Service {
	if days <= 0 {
		days = 30
	}
	return &Service{client: client, profile: profile, hub: hub, days: days, now: time.Now}
}

// Fetch refreshes the agenda: local midnight today through days ahead.
// An authentication failure signs the dashboard out.
func (s *Service) Fetch(ctx context.Context) error {
	if !s.hub.State().Session.SignedIn {
		return nil
	}
	loc := s.hub.Location()
	now := s.now()
	from := startOfDay(now, loc)
	to := from.AddDate(0, 0, s.days)

	if s.profile != nil && s.hub.State().Session.Name == "" {
		p, err := s.profile.UserInfo(ctx)
		if err != nil {
			return s.fail(err)
		}
		s.hub.SetProfile(p.Name, p.Picture)
	}

	items, err := s.client.ListEvents(ctx, from, to, loc)
	if err != nil {
		return s.fail(err)
	}
	s.hub.Update(func(st *models.State) {
		st.Calendar.Items = items
		st.Calendar.Succeed(now)
	})
	return nil
}

func (s *Service) fail(err error) error {
	if models.IsAuth(err) {
		slog.Warn("calendar: authentication failed, signing out", "err", err)
		s.hub.Logout()
		return err
	}
	s.hub.Update(func(st *models.State) {
		st.Calendar.Fail(err)
	})
	return err
}

// AddMeal plans dish on date (YYYY-MM-DD) as an all-day "Eten <dish>" event.
func (s *Service) AddMeal(ctx context.Context, req models.MealRequest) (string, error) {
	dish := strings.TrimSpace(req.Dish)
	if dish == "" {
		return "", models.ErrBadRequest("dish is required")
	}
	date, err := ParseDate(req.Date, s.hub.Location())
	if err != nil {
		return "", models.ErrBadRequest("date must be YYYY-MM-DD")
	}

	id, err := s.client.InsertAllDay(ctx, date, MealPrefix+" "+dish)
	if err != nil {
		return "", s.fail(fmt.Errorf("add meal: %w", err))
	}
	slog.Info("calendar: meal planned", "date", req.Date, "dish", dish)
	s.refresh(ctx)
	return id, nil
}

// DeleteMeal removes a planned meal by event id.
func (s *Service) DeleteMeal(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.ErrBadRequest("event id is required")
	}
	if err := s.client.Delete(ctx, id); err != nil {
		var fe *models.FetchError
		if errors.As(err, &fe) && fe.Status == 404 {
			return models.ErrNotFound("event " + id + " not found")
		}
		return s.fail(fmt.Errorf("delete meal: %w", err))
	}
	slog.Info("calendar: meal removed", "id", id)
	s.refresh(ctx)
	return nil
}

func (s *Service) refresh(ctx context.Context) {
	if err := s.Fetch(ctx); err != nil {
		slog.Warn("calendar: refresh after change failed", "err", err)
	}
}

// Day returns the agenda items on date (YYYY-MM-DD, default today).
func (s *Service) Day(date string) ([]models.AgendaItem, error) {
	loc := s.hub.Location()
	day := s.now()
	if date != "" {
		d, err := ParseDate(date, loc)
		if err != nil {
			return nil, models.ErrBadRequest("date must be YYYY-MM-DD")
		}
		day = d
	}
	return EventsForDay(s.hub.State().Calendar.Items, day, loc), nil
}

// Week returns seven days of agenda starting at start (YYYY-MM-DD). An
// empty start gives the rolling week from today.
func (s *Service) Week(start string) ([]DayAgenda, error) {
	loc := s.hub.Location()
	from := s.now()
	if start != "" {
		d, err := ParseDate(start, loc)
		if err != nil {
			return nil, models.ErrBadRequest("start must be YYYY-MM-DD")
		}
		from = d
	}
	return Week(s.hub.State().Calendar.Items, from, loc), nil
}

// WeekOptions lists the rolling week followed by the next twelve Monday weeks.
func (s *Service) WeekOptions() []WeekOption {
	opts := []WeekOption{{Start: "", Label: "Next 7 days"}}
	return append(opts, WeekOptions(s.now(), s.hub.Location(), 12)...)
}
