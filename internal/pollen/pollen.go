// Package pollen proxies the pollen forecast scraped by the Node-RED
// bridge, sanitizes it for embedding and derives a markdown rendition.
package pollen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hearthlabs/homehub/internal/models"
)

// Path is the Node-RED endpoint returning the extracted forecast HTML.
const Path = "/pollen"

// SourceURL is the public page the forecast is scraped from.
const SourceURL = "https://www.meteo.be/nl/weer/verwachtingen/stuifmeelallergie-en-hooikoorts"

// Bridge fetches raw bodies from Node-RED.
type Bridge interface {
	Get(ctx context.Context, path string) (int, []byte, error)
}

// Hub is the part of the state owner the pollen widget writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
}

// Service is the pollen widget.
type Service struct {
	bridge    Bridge
	hub       Hub
	policy    *bluemonday.Policy
	converter *converter.Converter
	now       func() time.Time
}

// NewService creates the widget.
func NewService(bridge Bridge, hub Hub) *Service {
	return &Service{
		bridge: bridge,
		hub:    hub,
		policy: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now: time.Now,
	}
}

// Fetch refreshes the forecast.
func (s *Service) Fetch(ctx context.Context) error {
	html, text, err := s.fetch(ctx)
	if err != nil {
		s.hub.Update(func(st *models.State) {
			st.Pollen.Fail(err)
		})
		return err
	}
	now := s.now()
	s.hub.Update(func(st *models.State) {
		st.Pollen.HTML = html
		st.Pollen.Text = text
		st.Pollen.Succeed(now)
	})
	return nil
}

func (s *Service) fetch(ctx context.Context) (string, string, error) {
	status, body, err := s.bridge.Get(ctx, Path)
	if err != nil {
		return "", "", err
	}
	if status < 200 || status > 299 {
		return "", "", models.StatusError(status, "pollen")
	}
	return s.Render(string(body))
}

// Render sanitizes raw HTML and converts it to markdown.
func (s *Service) Render(raw string) (string, string, error) {
	clean := strings.TrimSpace(s.policy.Sanitize(raw))
	if clean == "" {
		return "", "", fmt.Errorf("pollen: %w", models.ErrEmpty)
	}
	md, err := s.converter.ConvertString(clean, converter.WithDomain(SourceURL))
	if err != nil {
		return "", "", fmt.Errorf("pollen: convert: %w", err)
	}
	return clean, strings.TrimSpace(md), nil
}
