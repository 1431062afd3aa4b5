package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hearthlabs/homehub/internal/auth"
)

func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "homehub-auth-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeUsersJSON(t *testing.T, dir string, users map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(users)
	if err != nil {
		t.Fatalf("json.Marshal users: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "users.json"), data, 0644); err != nil {
		t.Fatalf("WriteFile users.json: %v", err)
	}
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// --- Open mode ---

func hasKey(svc *auth.Service, key string) bool {
	_, ok := svc.Lookup(key)
	return ok
}

func TestService_OpenMode(t *testing.T) {
	svc, err := auth.NewService(newTempDir(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.IsOpenMode() {
		t.Error("IsOpenMode() = false, want true when no users.json")
	}
	if hasKey(svc, "") || hasKey(svc, "any-key") {
		t.Error("key accepted with no users")
	}
}

func TestMiddleware_OpenMode_PassesThrough(t *testing.T) {
	svc, err := auth.NewService("")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	called := false
	rr := httptest.NewRecorder()
	svc.Middleware(okHandler(&called)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calendar/day", nil))

	if !called || rr.Code != http.StatusOK {
		t.Errorf("open mode blocked request: called=%v code=%d", called, rr.Code)
	}
}

func TestService_KeysWithoutValueStayOpen(t *testing.T) {
	dir := newTempDir(t)
	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": ""},
	})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.IsOpenMode() {
		t.Error("user without a key should not close the hub")
	}
}

// --- Secured mode ---

func newSecuredService(t *testing.T, accessKey string) *auth.Service {
	t.Helper()
	dir := newTempDir(t)
	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": accessKey, "admin": true},
		"tablet":  map[string]interface{}{"access_key": "tablet-key"},
	})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestService_Lookup(t *testing.T) {
	svc := newSecuredService(t, "correct-key")

	if svc.IsOpenMode() {
		t.Error("IsOpenMode() = true with keys configured")
	}
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"correct-key", "kitchen", true},
		{"tablet-key", "tablet", true},
		{"wrong-key", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		name, ok := svc.Lookup(tt.key)
		if name != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.key, name, ok, tt.want, tt.ok)
		}
	}
}

func TestMiddleware_SecuredMode_Credentials(t *testing.T) {
	const key = "secret-key"
	svc := newSecuredService(t, key)

	tests := []struct {
		name  string
		build func() *http.Request
	}{
		{"query param", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api?api-key="+key, nil)
		}},
		{"header", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api", nil)
			r.Header.Set("X-Api-Key", key)
			return r
		}},
		{"cookie", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api", nil)
			r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: key})
			return r
		}},
		{"stale cookie but valid header", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api", nil)
			r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "old"})
			r.Header.Set("X-Api-Key", key)
			return r
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user string
			handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user = auth.UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, tt.build())
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			if user != "kitchen" {
				t.Errorf("user = %q, want kitchen", user)
			}
		})
	}
}

func TestMiddleware_SecuredMode_APIRejects(t *testing.T) {
	svc := newSecuredService(t, "correct-key")

	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/day", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "wrong-key"})
	rr := httptest.NewRecorder()
	svc.Middleware(okHandler(&called)).ServeHTTP(rr, req)

	if called {
		t.Error("middleware called next handler despite wrong key")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "UNAUTHORIZED" {
		t.Errorf("error = %v, want UNAUTHORIZED", body["error"])
	}
}

func TestMiddleware_SecuredMode_PageRedirects(t *testing.T) {
	svc := newSecuredService(t, "some-key")

	called := false
	rr := httptest.NewRecorder()
	svc.Middleware(okHandler(&called)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/photos?x=1", nil))

	if called {
		t.Error("middleware called next handler despite no credentials")
	}
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	want := "/auth/login?next=" + url.QueryEscape("/photos?x=1")
	if loc := rr.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

// --- Login ---

func postLogin(svc *auth.Service, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	svc.LoginPost(rr, req)
	return rr
}

func TestLoginPost_SetsCookie(t *testing.T) {
	svc := newSecuredService(t, "login-key")

	rr := postLogin(svc, url.Values{"key": {"login-key"}, "next": {"/photos"}})
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/photos" {
		t.Errorf("Location = %q, want /photos", loc)
	}
	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value != "login-key" || !session.HttpOnly {
		t.Errorf("session cookie = %+v", session)
	}
}

func TestLoginPost_WrongKey(t *testing.T) {
	svc := newSecuredService(t, "login-key")

	rr := postLogin(svc, url.Values{"key": {"nope"}})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Error("cookie set for a wrong key")
	}
}

func TestLoginPost_OffsiteNextIgnored(t *testing.T) {
	svc := newSecuredService(t, "login-key")

	for _, next := range []string{"https://evil.example", "//evil.example", "photos"} {
		rr := postLogin(svc, url.Values{"key": {"login-key"}, "next": {next}})
		if loc := rr.Header().Get("Location"); loc != "/" {
			t.Errorf("next %q: Location = %q, want /", next, loc)
		}
	}
}

func TestLoginPage_EscapesNext(t *testing.T) {
	svc := newSecuredService(t, "k")
	rr := httptest.NewRecorder()
	svc.LoginPage(rr, httptest.NewRequest(http.MethodGet, "/auth/login?next="+url.QueryEscape(`/"><script>`), nil))
	if strings.Contains(rr.Body.String(), "<script>") {
		t.Error("login page did not escape next")
	}
}

func TestLogout_ExpiresCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	auth.Logout(rr)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("cookies = %+v, want one expired session cookie", cookies)
	}
}

// --- Reload ---

func TestService_Reload(t *testing.T) {
	dir := newTempDir(t)
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": "reload-test-key"},
	})
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if svc.IsOpenMode() {
		t.Error("expected secured mode after reload")
	}
	if !hasKey(svc, "reload-test-key") {
		t.Error("key not accepted after reload")
	}
}

func TestService_WatchPicksUpChanges(t *testing.T) {
	dir := newTempDir(t)
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": "watched-key"},
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hasKey(svc, "watched-key") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("users.json change was not picked up")
}

func TestService_CorruptUsersFile(t *testing.T) {
	dir := newTempDir(t)
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("{nope"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := auth.NewService(dir); err == nil {
		t.Error("NewService() error = nil for corrupt users.json")
	}
}

func TestService_MissingConfigDir_NoError(t *testing.T) {
	nonExistent := filepath.Join(newTempDir(t), "does-not-exist")

	svc, err := auth.NewService(nonExistent)
	if err != nil {
		t.Fatalf("NewService with non-existent dir: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.IsOpenMode() {
		t.Error("expected open mode for non-existent config dir")
	}
}

func TestService_CorruptReloadKeepsKeys(t *testing.T) {
	dir := newTempDir(t)
	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": "kept-key"},
	})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("{half"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := svc.Reload(); err == nil {
		t.Error("Reload() error = nil for corrupt users.json")
	}
	if !hasKey(svc, "kept-key") {
		t.Error("previous key dropped after failed reload")
	}
}

func TestService_RemovedFileOpensHub(t *testing.T) {
	dir := newTempDir(t)
	writeUsersJSON(t, dir, map[string]interface{}{
		"kitchen": map[string]interface{}{"access_key": "gone-key"},
	})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	svc.Close() // double close is safe

	if err := os.Remove(filepath.Join(dir, "users.json")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !svc.IsOpenMode() {
		t.Error("expected open mode once users.json is gone")
	}
}
