package auth

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

const (
	// SessionCookieName carries the access key of a logged in browser.
	SessionCookieName = "hub-session"
	apiKeyQueryParam  = "api-key"
	apiKeyHeader      = "X-Api-Key"
	sessionMaxAge     = 400 * 24 * time.Hour
)

type userKey struct{}

// UserFromContext returns the user name set by Middleware. Open mode
// requests carry no user.
func UserFromContext(ctx context.Context) string {
	name, _ := ctx.Value(userKey{}).(string)
	return name
}

// Middleware enforces authentication unless the hub is in open mode.
// The key is taken from the session cookie, the X-Api-Key header or the
// api-key query parameter. API requests get a 401, pages a login redirect.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		for _, key := range requestKeys(r) {
			if name, ok := s.Lookup(key); ok {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, name)))
				return
			}
		}

		if strings.HasPrefix(r.URL.Path, "/api") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(models.ErrUnauthorized)
			return
		}
		loginURL := "/auth/login?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, loginURL, http.StatusFound)
	})
}

func requestKeys(r *http.Request) []string {
	var keys []string
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		keys = append(keys, cookie.Value)
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		keys = append(keys, key)
	}
	if key := r.URL.Query().Get(apiKeyQueryParam); key != "" {
		keys = append(keys, key)
	}
	return keys
}

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Home Hub Login</title><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body>
<h2>Home Hub</h2>
{{if .Failed}}<p>Unknown access key.</p>{{end}}
<form method="POST" action="/auth/login">
  <input type="hidden" name="next" value="{{.Next}}">
  <label>Access key: <input type="password" name="key" autofocus></label>
  <button type="submit">Login</button>
</form>
</body>
</html>`))

// LoginPage renders the access key form.
func (s *Service) LoginPage(w http.ResponseWriter, r *http.Request) {
	renderLogin(w, http.StatusOK, safeNext(r.URL.Query().Get("next")), false)
}

// LoginPost checks the submitted key, sets the session cookie and
// redirects to the requested page.
func (s *Service) LoginPost(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.FormValue("next"))
	if s.IsOpenMode() {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	name, ok := s.Lookup(r.FormValue("key"))
	if !ok {
		slog.Warn("auth: rejected login", "remote", r.RemoteAddr)
		renderLogin(w, http.StatusUnauthorized, next, true)
		return
	}
	slog.Info("auth: login", "user", name)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    r.FormValue("key"),
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, next, http.StatusFound)
}

// Logout expires the session cookie.
func Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func renderLogin(w http.ResponseWriter, status int, next string, failed bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = loginTmpl.Execute(w, struct {
		Next   string
		Failed bool
	}{next, failed})
}

// safeNext keeps redirects on this host.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
