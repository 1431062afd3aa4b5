// Package google wires the hub's Google sign-in: the OAuth2 code flow, a
// token source that persists refreshed tokens, and the user profile.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

// Scopes requested at sign-in.
var Scopes = []string{
	"openid",
	"profile",
	"email",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/photospicker.mediaitems.readonly",
}

// UserInfoURL is the OpenID Connect profile endpoint.
const UserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

const stateTTL = 10 * time.Minute

// ErrSignedOut is returned when a Google call is made without a token.
var ErrSignedOut = &models.FetchError{Kind: models.KindAuth, Err: errors.New("not signed in to Google")}

// TokenStore persists the Google token. The hub implements it.
type TokenStore interface {
	Token() *models.OAuthToken
	SetToken(tok *models.OAuthToken)
}

// Client holds the OAuth2 configuration and hands out authenticated HTTP clients.
type Client struct {
	cfg         *oauth2.Config
	store       TokenStore
	userInfoURL string

	mu     sync.Mutex
	states map[string]time.Time
}

// NewClient returns a client for the configured Google OAuth application.
func NewClient(c config.Google, store TokenStore) *Client {
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		store:       store,
		userInfoURL: UserInfoURL,
		states:      make(map[string]time.Time),
	}
}

// WithEndpoint overrides the OAuth and profile endpoints. Used by tests.
func (c *Client) WithEndpoint(ep oauth2.Endpoint, userInfoURL string) *Client {
	c.cfg.Endpoint = ep
	c.userInfoURL = userInfoURL
	return c
}

// Configured reports whether a client id is set.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != ""
}

// AuthCodeURL starts the sign-in flow and returns the consent page URL.
func (c *Client) AuthCodeURL() string {
	state := uuid.New().String()
	c.mu.Lock()
	now := time.Now()
	for s, exp := range c.states {
		if now.After(exp) {
			delete(c.states, s)
		}
	}
	c.states[state] = now.Add(stateTTL)
	c.mu.Unlock()
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes the sign-in flow and stores the token.
func (c *Client) Exchange(ctx context.Context, state, code string) error {
	c.mu.Lock()
	exp, ok := c.states[state]
	delete(c.states, state)
	c.mu.Unlock()
	if !ok || time.Now().After(exp) {
		return models.ErrBadRequest("invalid or expired sign-in state")
	}

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange: %w", err)
	}
	c.store.SetToken(fromOAuth2(tok))
	return nil
}

// HTTPClient returns a client that authorizes requests with the stored
// token and refreshes it when it expires.
func (c *Client) HTTPClient(ctx context.Context) (*http.Client, error) {
	stored := c.store.Token()
	if stored == nil {
		return nil, ErrSignedOut
	}
	src := &persistingSource{
		base:  c.cfg.TokenSource(ctx, toOAuth2(stored)),
		store: c.store,
		last:  stored.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(toOAuth2(stored), src)), nil
}

// Profile is the signed-in user's public profile.
type Profile struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

// UserInfo fetches the signed-in user's profile.
func (c *Client) UserInfo(ctx context.Context) (*Profile, error) {
	hc, err := c.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, models.StatusError(resp.StatusCode, "userinfo")
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &p, nil
}

// classifyTransport maps a token refresh failure to an auth error and
// everything else to a network error.
func classifyTransport(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &models.FetchError{Kind: models.KindAuth, Err: err}
	}
	return models.NetworkError(err)
}

// Do sends req with an authorized client and classifies transport errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	hc, err := c.HTTPClient(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	return resp, nil
}

type persistingSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()
	if changed {
		next := fromOAuth2(tok)
		if next.RefreshToken == "" {
			if prev := p.store.Token(); prev != nil {
				next.RefreshToken = prev.RefreshToken
			}
		}
		p.store.SetToken(next)
	}
	return tok, nil
}

func toOAuth2(t *models.OAuthToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func fromOAuth2(t *oauth2.Token) *models.OAuthToken {
	scopes, _ := t.Extra("scope").(string)
	return &models.OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
		Scopes:       strings.TrimSpace(scopes),
	}
}
