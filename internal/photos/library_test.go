package photos_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
	"github.com/hearthlabs/homehub/internal/photos"
)

type fakeHub struct {
	mu    sync.Mutex
	state models.State
}

func newFakeHub() *fakeHub {
	return &fakeHub{state: models.DefaultState(models.DefaultSettings())}
}

func (h *fakeHub) Update(fn func(*models.State)) models.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	return h.state.DeepCopy()
}

func (h *fakeHub) State() models.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.DeepCopy()
}

func testConfig() config.Photos {
	cfg := config.Default().Photos
	cfg.PickerPollSeconds = 1
	cfg.MaxDimension = 100
	return cfg
}

// pickerServer fakes the Picker API and the media download host.
type pickerServer struct {
	*httptest.Server
	mu      sync.Mutex
	polls   int
	deleted bool
	image   []byte
}

func newPickerServer(t *testing.T) *pickerServer {
	t.Helper()
	ps := &pickerServer{image: testPNG(t, 200, 100)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "s1", "pickerUri": "https://photos.google.com/picker/s1"})
	})
	mux.HandleFunc("GET /sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.polls++
		set := ps.polls >= 2
		ps.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"id": "s1", "mediaItemsSet": set})
	})
	mux.HandleFunc("DELETE /sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.deleted = true
		ps.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("GET /mediaItems", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") != "s1" {
			http.Error(w, "bad session", http.StatusBadRequest)
			return
		}
		base := ps.URL + "/img/"
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"mediaItems": []map[string]any{
					{"id": "p1", "mediaFile": map[string]any{"baseUrl": base + "one", "filename": "one.png"}},
					{"id": "p2", "mediaFile": map[string]any{"baseUrl": base + "tiny", "filename": "tiny.png"}},
				},
				"nextPageToken": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"mediaItems": []map[string]any{
				{"id": "p3", "baseUrl": base + "two"},
			},
		})
	})
	mux.HandleFunc("GET /img/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") == "tiny" {
			w.Write([]byte("short"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(ps.image)
	})
	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func newLibrary(t *testing.T, baseURL string) (*photos.Library, *fakeHub) {
	t.Helper()
	hub := newFakeHub()
	var picker *photos.PickerClient
	if baseURL != "" {
		picker = photos.NewPickerClient(http.DefaultClient, baseURL)
	}
	lib := photos.NewLibrary(mustOpen(t, ""), picker, hub, testConfig())
	if err := lib.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return lib, hub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPickerFlow(t *testing.T) {
	srv := newPickerServer(t)
	lib, hub := newLibrary(t, srv.URL)
	ctx := context.Background()

	resp, err := lib.StartPicker(ctx)
	if err != nil {
		t.Fatalf("StartPicker: %v", err)
	}
	if resp.SessionID != "s1" || !strings.Contains(resp.PickerURI, "picker/s1") {
		t.Errorf("StartPicker = %+v", resp)
	}
	if st := hub.State(); !st.Photos.Picking || st.Photos.PickerURI == "" {
		t.Errorf("state while picking = %+v", st.Photos)
	}
	if _, err := lib.StartPicker(ctx); !errors.Is(err, photos.ErrPickerBusy) {
		t.Errorf("second StartPicker error = %v, want ErrPickerBusy", err)
	}

	waitFor(t, "picker to finish", func() bool { return !lib.Picking() })

	st := hub.State()
	if st.Photos.Picking || st.Photos.PickerURI != "" {
		t.Errorf("picker state not cleared: %+v", st.Photos)
	}
	if st.Photos.Count != 2 {
		t.Fatalf("Count = %d, want 2 (tiny body skipped)", st.Photos.Count)
	}
	slides := lib.Slides()
	if slides[0].ID != "p1" || slides[1].ID != "p3" {
		t.Errorf("slides = %+v, want p1 then p3", slides)
	}
	if slides[1].Filename != "Foto" {
		t.Errorf("filename fallback = %q, want Foto", slides[1].Filename)
	}

	var sawFailure bool
	for _, e := range st.Photos.Log {
		if e.Level == models.LogError && strings.Contains(e.Message, "tiny.png") {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("failed download was not logged")
	}

	// downscaled to the configured bound
	mt, data, err := lib.Blob(ctx, lib.Session(), "p1")
	if err != nil {
		t.Fatalf("Blob: %v", err)
	}
	if mt != "image/jpeg" || len(data) == 0 {
		t.Errorf("Blob mime = %q len %d", mt, len(data))
	}

	srv.mu.Lock()
	deleted := srv.deleted
	srv.mu.Unlock()
	if !deleted {
		t.Error("picker session was not deleted")
	}
}

func TestStartPicker_NotConfigured(t *testing.T) {
	lib, _ := newLibrary(t, "")
	if _, err := lib.StartPicker(context.Background()); err == nil {
		t.Fatal("StartPicker without picker: error = nil")
	}
}

func TestCancelPicker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"s9","pickerUri":"https://photos.google.com/picker/s9"}`))
	})
	mux.HandleFunc("GET /sessions/s9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"s9","mediaItemsSet":false}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	lib, hub := newLibrary(t, srv.URL)
	if _, err := lib.StartPicker(context.Background()); err != nil {
		t.Fatalf("StartPicker: %v", err)
	}
	lib.CancelPicker()
	waitFor(t, "picker to stop", func() bool { return !lib.Picking() })
	if hub.State().Photos.Picking {
		t.Error("state still picking after cancel")
	}
}

func TestBlob_UnknownSession(t *testing.T) {
	lib, _ := newLibrary(t, "")
	if _, _, err := lib.Blob(context.Background(), "previous-process", "p1"); !errors.Is(err, photos.ErrNotFound) {
		t.Errorf("Blob error = %v, want ErrNotFound", err)
	}
	if !strings.HasPrefix(lib.BlobURL("p1"), photos.BlobPrefix+lib.Session()+"/") {
		t.Errorf("BlobURL = %q", lib.BlobURL("p1"))
	}
}

func backupJSON(t *testing.T, n int) []byte {
	t.Helper()
	b := photos.Backup{Version: 1, Timestamp: time.Now()}
	for i := 0; i < n; i++ {
		b.Photos = append(b.Photos, photos.BackupPhoto{
			ID:       string(rune('a' + i)),
			Filename: "photo.png",
			BlobData: photos.EncodeDataURL("image/png", []byte("pixels")),
		})
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return data
}

func TestBackupRestoreAndSlideshow(t *testing.T) {
	lib, hub := newLibrary(t, "")
	ctx := context.Background()

	n, err := lib.Restore(ctx, bytes.NewReader(backupJSON(t, 3)))
	if err != nil || n != 3 {
		t.Fatalf("Restore = %d, %v; want 3", n, err)
	}
	st := hub.State()
	if st.Photos.Count != 3 || st.Photos.Current == nil || st.Photos.Current.ID != "a" {
		t.Fatalf("photos state = %+v", st.Photos)
	}

	lib.Next()
	lib.Next()
	if got := hub.State().Photos.Current.ID; got != "c" {
		t.Errorf("after two advances current = %q, want c", got)
	}
	lib.Next()
	if got := hub.State().Photos.Index; got != 0 {
		t.Errorf("slideshow did not wrap, index = %d", got)
	}

	var buf bytes.Buffer
	count, err := lib.WriteBackup(ctx, &buf)
	if err != nil || count != 3 {
		t.Fatalf("WriteBackup = %d, %v", count, err)
	}
	if strings.Contains(buf.String(), "blobUrl") || strings.Contains(buf.String(), photos.BlobPrefix) {
		t.Error("backup contains blob URLs")
	}
	var b map[string]any
	if err := json.Unmarshal(buf.Bytes(), &b); err != nil {
		t.Fatalf("backup is not JSON: %v", err)
	}
	if b["version"] != float64(1) {
		t.Errorf("version = %v, want 1", b["version"])
	}

	if err := lib.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if st := hub.State(); st.Photos.Count != 0 || st.Photos.Current != nil {
		t.Errorf("after Clear photos = %+v", st.Photos)
	}

	if n, err := lib.Restore(ctx, &buf); err != nil || n != 3 {
		t.Fatalf("Restore of own backup = %d, %v", n, err)
	}
}

func TestRestore_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing photos", `{"version":1}`},
		{"photos not an array", `{"version":1,"photos":{"id":"a"}}`},
		{"null photos", `{"photos":null}`},
		{"not json", `photos`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, hub := newLibrary(t, "")
			ctx := context.Background()
			if _, err := lib.Restore(ctx, bytes.NewReader(backupJSON(t, 1))); err != nil {
				t.Fatalf("seed Restore: %v", err)
			}

			_, err := lib.Restore(ctx, strings.NewReader(tt.body))
			if !errors.Is(err, photos.ErrInvalidBackup) {
				t.Errorf("Restore error = %v, want ErrInvalidBackup", err)
			}
			if hub.State().Photos.Count != 1 {
				t.Error("rejected restore modified the store")
			}
		})
	}
}

func TestBackupFilename(t *testing.T) {
	got := photos.BackupFilename(time.Date(2026, 7, 4, 23, 0, 0, 0, time.UTC))
	if got != "photos-backup-2026-07-04.json" {
		t.Errorf("BackupFilename = %q", got)
	}
}

func TestMediaItem_URIOrder(t *testing.T) {
	tests := []struct {
		name string
		json string
		uri  string
		file string
	}{
		{"media file serving", `{"mediaFile":{"servingUrl":"a","filename":"x.jpg"},"baseUrl":"z"}`, "a", "x.jpg"},
		{"preview", `{"preview":{"servingUrl":"b"},"servingUrl":"c"}`, "b", "Foto"},
		{"nested", `{"mediaItem":{"mediaFile":{"servingUrl":"d","filename":"n.jpg"}}}`, "d", "n.jpg"},
		{"top level serving", `{"servingUrl":"e","baseUrl":"f","filename":"t.jpg"}`, "e", "t.jpg"},
		{"base url", `{"baseUrl":"f"}`, "f", "Foto"},
		{"picker api shape", `{"mediaFile":{"baseUrl":"g"}}`, "g", "Foto"},
		{"nothing", `{}`, "", "Foto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item photos.MediaItem
			if err := json.Unmarshal([]byte(tt.json), &item); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got := item.URI(); got != tt.uri {
				t.Errorf("URI() = %q, want %q", got, tt.uri)
			}
			if got := item.Name(); got != tt.file {
				t.Errorf("Name() = %q, want %q", got, tt.file)
			}
		})
	}
}

func TestDownloadURL(t *testing.T) {
	tests := map[string]string{
		"https://lh3.googleusercontent.com/abc":       "https://lh3.googleusercontent.com/abc=d",
		"https://lh3.googleusercontent.com/abc=w1024": "https://lh3.googleusercontent.com/abc=w1024",
		"https://example.com/photo.jpg":               "https://example.com/photo.jpg",
	}
	for in, want := range tests {
		if got := photos.DownloadURL(in); got != want {
			t.Errorf("DownloadURL(%q) = %q, want %q", in, got, want)
		}
	}
}
