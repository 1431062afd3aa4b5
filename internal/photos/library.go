// Package photos keeps the slideshow: picked Google Photos are downloaded
// once, stored as data URLs in SQLite and served back under blob URLs
// that are only valid for the running process.
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

// BlobPrefix is the route under which photo blobs are served.
const BlobPrefix = "/api/photos/blob/"

// BackupVersion is written into every backup file.
const BackupVersion = 1

// pickerTimeout bounds how long a picker session is polled.
const pickerTimeout = 30 * time.Minute

var (
	// ErrPickerBusy is returned when a picker session is already running.
	ErrPickerBusy = errors.New("a picker session is already running")
	// ErrInvalidBackup is returned for backups without a photos array.
	ErrInvalidBackup = errors.New("invalid backup: photos array missing")
	// ErrNotConfigured is returned by StartPicker without a Google client.
	ErrNotConfigured = errors.New("google photos is not configured")
)

// Hub is the part of the state owner the slideshow writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
}

// Library manages the stored photos, the picker flow and the slideshow.
type Library struct {
	store  *Store
	picker *PickerClient
	hub    Hub
	cfg    config.Photos

	// session makes blob URLs from earlier processes unresolvable.
	session string
	now     func() time.Time

	mu         sync.Mutex
	entries    []Entry
	index      int
	stopPicker context.CancelFunc
	wg         sync.WaitGroup
}

// NewLibrary creates the slideshow over store. picker may be nil when
// Google is not configured.
func NewLibrary(store *Store, picker *PickerClient, hub Hub, cfg config.Photos) *Library {
	return &Library{
		store:   store,
		picker:  picker,
		hub:     hub,
		cfg:     cfg,
		session: uuid.NewString(),
		now:     time.Now,
	}
}

// Session returns the process session embedded in blob URLs.
func (l *Library) Session() string { return l.session }

// BlobURL returns the process-local URL of a photo.
func (l *Library) BlobURL(id string) string {
	return BlobPrefix + l.session + "/" + id
}

// Load reads the photo index from the store and publishes it.
func (l *Library) Load(ctx context.Context) error {
	entries, err := l.store.List(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = entries
	if l.index >= len(entries) {
		l.index = 0
	}
	l.mu.Unlock()
	l.publish()
	return nil
}

// publish writes count and current slide into the state.
func (l *Library) publish() {
	l.mu.Lock()
	count := len(l.entries)
	index := l.index
	var current *models.PhotoSlide
	if count > 0 {
		e := l.entries[index]
		current = &models.PhotoSlide{ID: e.ID, Filename: e.Filename, BlobURL: l.BlobURL(e.ID)}
	}
	l.mu.Unlock()

	l.hub.Update(func(st *models.State) {
		st.Photos.Count = count
		st.Photos.Index = index
		st.Photos.Current = current
	})
}

func (l *Library) log(level, msg string) {
	switch level {
	case models.LogError:
		slog.Warn("photos: " + msg)
	default:
		slog.Debug("photos: " + msg)
	}
	l.hub.Update(func(st *models.State) {
		st.Photos.Log = models.AppendLog(st.Photos.Log, level, msg)
	})
}

// Slides returns every photo in slideshow order.
func (l *Library) Slides() []models.PhotoSlide {
	l.mu.Lock()
	defer l.mu.Unlock()
	slides := make([]models.PhotoSlide, len(l.entries))
	for i, e := range l.entries {
		slides[i] = models.PhotoSlide{ID: e.ID, Filename: e.Filename, BlobURL: l.BlobURL(e.ID)}
	}
	return slides
}

// Next advances the slideshow and wraps around at the end.
func (l *Library) Next() {
	l.mu.Lock()
	if len(l.entries) == 0 {
		l.index = 0
	} else {
		l.index = (l.index + 1) % len(l.entries)
	}
	l.mu.Unlock()
	l.publish()
}

// Run advances the slideshow every SlideSeconds until ctx is done and then
// stops any running picker session.
func (l *Library) Run(ctx context.Context) {
	ticker := time.NewTicker(config.Seconds(l.cfg.SlideSeconds))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.CancelPicker()
			l.wg.Wait()
			return
		case <-ticker.C:
			l.Next()
		}
	}
}

// Blob resolves a blob URL back to image bytes. Unknown sessions and ids
// yield ErrNotFound.
func (l *Library) Blob(ctx context.Context, session, id string) (string, []byte, error) {
	if session != l.session {
		return "", nil, ErrNotFound
	}
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	mimeType, data, err := DecodeDataURL(rec.BlobData)
	if err != nil {
		return "", nil, fmt.Errorf("photo %s: %w", id, err)
	}
	return mimeType, data, nil
}

// StartPicker creates a picker session and polls it in the background
// until the user has picked. Only one session runs at a time.
func (l *Library) StartPicker(ctx context.Context) (*models.PickerResponse, error) {
	if l.picker == nil {
		return nil, ErrNotConfigured
	}
	l.mu.Lock()
	if l.stopPicker != nil {
		l.mu.Unlock()
		return nil, ErrPickerBusy
	}
	pctx, cancel := context.WithTimeout(context.Background(), pickerTimeout)
	l.stopPicker = cancel
	l.mu.Unlock()

	l.log(models.LogInfo, "starting picker session")
	sess, err := l.picker.CreateSession(ctx)
	if err != nil {
		l.finishPicker()
		l.log(models.LogError, "picker session failed: "+err.Error())
		return nil, err
	}

	l.hub.Update(func(st *models.State) {
		st.Photos.Picking = true
		st.Photos.PickerURI = sess.PickerURI
	})
	l.log(models.LogInfo, "picker session "+sess.ID+" created, waiting for selection")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.finishPicker()
		l.pollPicker(pctx, sess.ID)
	}()
	return &models.PickerResponse{SessionID: sess.ID, PickerURI: sess.PickerURI}, nil
}

// CancelPicker stops a running picker session, if any.
func (l *Library) CancelPicker() {
	l.mu.Lock()
	cancel := l.stopPicker
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Picking reports whether a picker session is running.
func (l *Library) Picking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopPicker != nil
}

func (l *Library) finishPicker() {
	l.hub.Update(func(st *models.State) {
		st.Photos.Picking = false
		st.Photos.PickerURI = ""
	})
	l.mu.Lock()
	if l.stopPicker != nil {
		l.stopPicker()
		l.stopPicker = nil
	}
	l.mu.Unlock()
}

func (l *Library) pollPicker(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(config.Seconds(l.cfg.PickerPollSeconds))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				l.log(models.LogError, "picker session expired")
			} else {
				l.log(models.LogInfo, "picker session cancelled")
			}
			return
		case <-ticker.C:
		}

		sess, err := l.picker.GetSession(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.log(models.LogError, "picker status failed: "+err.Error())
			if models.IsAuth(err) {
				return
			}
			continue
		}
		if !sess.MediaItemsSet {
			continue
		}

		l.log(models.LogInfo, "selection received, fetching media items")
		if _, err := l.importSession(ctx, sessionID); err != nil {
			l.log(models.LogError, "import failed: "+err.Error())
		}
		if err := l.picker.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
			slog.Debug("photos: delete picker session failed", "session", sessionID, "err", err)
		}
		return
	}
}

func (l *Library) importSession(ctx context.Context, sessionID string) (int, error) {
	items, err := l.picker.ListMediaItems(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("no media items in session: %w", models.ErrEmpty)
	}
	l.log(models.LogInfo, fmt.Sprintf("%d media items found, downloading", len(items)))
	return l.Import(ctx, items)
}

// Import downloads items concurrently and appends them to the collection.
// Items that fail are logged and skipped. It returns how many were stored.
func (l *Library) Import(ctx context.Context, items []MediaItem) (int, error) {
	limit := l.cfg.DownloadConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	base := l.now()
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			// keep picker order in the slideshow
			rec, err := l.fetch(ctx, item, base.Add(time.Duration(i)*time.Millisecond))
			if err == nil {
				err = l.store.Put(ctx, *rec)
			}
			if err != nil {
				l.log(models.LogError, fmt.Sprintf("download failed for %s: %v", item.Name(), err))
				return
			}
			mu.Lock()
			stored++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := l.Load(ctx); err != nil {
		return stored, err
	}
	if stored == 0 && len(items) > 0 {
		return 0, fmt.Errorf("none of %d items could be stored", len(items))
	}
	l.log(models.LogSuccess, fmt.Sprintf("%d photos stored", stored))
	return stored, ctx.Err()
}

func (l *Library) fetch(ctx context.Context, item MediaItem, created time.Time) (*Record, error) {
	data, mimeType, err := l.picker.Download(ctx, item)
	if err != nil {
		return nil, err
	}
	data, mimeType, err = Downscale(data, mimeType, l.cfg.MaxDimension)
	if err != nil {
		return nil, err
	}
	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Record{
		ID:        id,
		Filename:  item.Name(),
		MimeType:  mimeType,
		BlobData:  EncodeDataURL(mimeType, data),
		CreatedAt: created,
	}, nil
}

// Clear removes every photo.
func (l *Library) Clear(ctx context.Context) error {
	l.log(models.LogInfo, "clearing slideshow")
	if err := l.store.Clear(ctx); err != nil {
		l.log(models.LogError, "clear failed: "+err.Error())
		return err
	}
	l.mu.Lock()
	l.index = 0
	l.mu.Unlock()
	if err := l.Load(ctx); err != nil {
		return err
	}
	l.log(models.LogSuccess, "photo store cleared")
	return nil
}

// BackupPhoto is one photo in a backup file. Blob URLs are never written.
type BackupPhoto struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	BlobData string `json:"blobData"`
}

// Backup is the backup file format.
type Backup struct {
	Version   int           `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Photos    []BackupPhoto `json:"photos"`
}

// BackupFilename returns the download name for a backup taken at t.
func BackupFilename(t time.Time) string {
	return "photos-backup-" + t.UTC().Format("2006-01-02") + ".json"
}

// WriteBackup writes every stored photo to w and returns the count.
func (l *Library) WriteBackup(ctx context.Context, w io.Writer) (int, error) {
	recs, err := l.store.All(ctx)
	if err != nil {
		return 0, err
	}
	b := Backup{Version: BackupVersion, Timestamp: l.now().UTC(), Photos: make([]BackupPhoto, 0, len(recs))}
	for _, rec := range recs {
		b.Photos = append(b.Photos, BackupPhoto{ID: rec.ID, Filename: rec.Filename, BlobData: rec.BlobData})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return 0, fmt.Errorf("write backup: %w", err)
	}
	l.log(models.LogSuccess, fmt.Sprintf("backup of %d photos written", len(recs)))
	return len(recs), nil
}

// Restore replaces the collection with the photos in a backup file.
// A backup without a photos array is rejected and leaves the store as is.
func (l *Library) Restore(ctx context.Context, r io.Reader) (int, error) {
	var raw struct {
		Photos json.RawMessage `json:"photos"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		l.log(models.LogError, "restore failed: "+err.Error())
		return 0, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	var photos []BackupPhoto
	if len(raw.Photos) == 0 || raw.Photos[0] != '[' {
		l.log(models.LogError, "restore failed: invalid backup file")
		return 0, ErrInvalidBackup
	}
	if err := json.Unmarshal(raw.Photos, &photos); err != nil {
		l.log(models.LogError, "restore failed: "+err.Error())
		return 0, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	base := l.now()
	recs := make([]Record, 0, len(photos))
	for i, p := range photos {
		mimeType, _, err := DecodeDataURL(p.BlobData)
		if err != nil {
			l.log(models.LogError, fmt.Sprintf("skipping %s: %v", p.Filename, err))
			continue
		}
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		name := p.Filename
		if name == "" {
			name = "Foto"
		}
		recs = append(recs, Record{
			ID:        id,
			Filename:  name,
			MimeType:  mimeType,
			BlobData:  p.BlobData,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	l.log(models.LogInfo, "restoring backup")
	if err := l.store.ReplaceAll(ctx, recs); err != nil {
		l.log(models.LogError, "restore failed: "+err.Error())
		return 0, err
	}
	l.mu.Lock()
	l.index = 0
	l.mu.Unlock()
	if err := l.Load(ctx); err != nil {
		return len(recs), err
	}
	l.log(models.LogSuccess, fmt.Sprintf("%d photos restored", len(recs)))
	return len(recs), nil
}
