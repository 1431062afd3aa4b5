package photos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hearthlabs/homehub/internal/models"
)

// DefaultPickerURL is the Google Photos Picker API root.
const DefaultPickerURL = "https://photospicker.googleapis.com/v1"

// minImageBytes rejects error pages and empty bodies served with 200.
const minImageBytes = 100

const listPageSize = 100

// Doer sends authorized requests. *google.Client and *http.Client implement it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PickerSession is a Photos Picker session.
type PickerSession struct {
	ID            string `json:"id"`
	PickerURI     string `json:"pickerUri"`
	MediaItemsSet bool   `json:"mediaItemsSet"`
}

// MediaFile is the file part of a picked item.
type MediaFile struct {
	ServingURL string `json:"servingUrl,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// MediaItem is one picked item. The API has shipped several shapes; the
// URI and filename are looked up in all of them.
type MediaItem struct {
	ID         string     `json:"id"`
	MediaFile  *MediaFile `json:"mediaFile,omitempty"`
	Preview    *MediaFile `json:"preview,omitempty"`
	ServingURL string     `json:"servingUrl,omitempty"`
	BaseURL    string     `json:"baseUrl,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	MediaItem  *struct {
		MediaFile *MediaFile `json:"mediaFile,omitempty"`
		Preview   *MediaFile `json:"preview,omitempty"`
	} `json:"mediaItem,omitempty"`
}

func (m MediaItem) files() []*MediaFile {
	files := []*MediaFile{m.MediaFile, m.Preview}
	if m.MediaItem != nil {
		files = append(files, m.MediaItem.MediaFile, m.MediaItem.Preview)
	}
	return files
}

// URI returns the download location of the item, or "".
func (m MediaItem) URI() string {
	for _, f := range m.files() {
		if f != nil && f.ServingURL != "" {
			return f.ServingURL
		}
	}
	if m.ServingURL != "" {
		return m.ServingURL
	}
	if m.BaseURL != "" {
		return m.BaseURL
	}
	if m.MediaFile != nil {
		return m.MediaFile.BaseURL
	}
	return ""
}

// Name returns the filename of the item, or "Foto".
func (m MediaItem) Name() string {
	for _, f := range m.files() {
		if f != nil && f.Filename != "" {
			return f.Filename
		}
	}
	if m.Filename != "" {
		return m.Filename
	}
	return "Foto"
}

// DownloadURL appends the "=d" download directive to bare
// googleusercontent URIs.
func DownloadURL(uri string) string {
	if strings.Contains(uri, "googleusercontent.com") && !strings.Contains(uri, "=") {
		return uri + "=d"
	}
	return uri
}

// PickerClient talks to the Photos Picker API.
type PickerClient struct {
	http    Doer
	baseURL string
}

// NewPickerClient returns a picker client; baseURL defaults to DefaultPickerURL.
func NewPickerClient(doer Doer, baseURL string) *PickerClient {
	if baseURL == "" {
		baseURL = DefaultPickerURL
	}
	return &PickerClient{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// CreateSession starts a new picker session.
func (c *PickerClient) CreateSession(ctx context.Context) (*PickerSession, error) {
	var sess PickerSession
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/sessions", struct{}{}, &sess); err != nil {
		return nil, fmt.Errorf("create picker session: %w", err)
	}
	if sess.ID == "" || sess.PickerURI == "" {
		return nil, fmt.Errorf("create picker session: %w", models.ErrEmpty)
	}
	return &sess, nil
}

// GetSession returns the current status of a session.
func (c *PickerClient) GetSession(ctx context.Context, id string) (*PickerSession, error) {
	var sess PickerSession
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, fmt.Errorf("get picker session: %w", err)
	}
	return &sess, nil
}

// DeleteSession releases a session. Google expires sessions on its own,
// so failures only matter for logging.
func (c *PickerClient) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(id), nil, nil)
}

// ListMediaItems returns every item picked in a session.
func (c *PickerClient) ListMediaItems(ctx context.Context, sessionID string) ([]MediaItem, error) {
	var items []MediaItem
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("sessionId", sessionID)
		q.Set("pageSize", fmt.Sprint(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page struct {
			MediaItems    []MediaItem `json:"mediaItems"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/mediaItems?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("list media items: %w", err)
		}
		items = append(items, page.MediaItems...)
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

// Download fetches the bytes of one item and returns them with their
// media type.
func (c *PickerClient) Download(ctx context.Context, item MediaItem) ([]byte, string, error) {
	uri := item.URI()
	if uri == "" {
		return nil, "", fmt.Errorf("download %s: no URI", item.Name())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DownloadURL(uri), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", item.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", models.StatusError(resp.StatusCode, "download "+item.Name())
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", item.Name(), err)
	}
	if len(data) < minImageBytes {
		return nil, "", fmt.Errorf("download %s: body too small (%d bytes): %w", item.Name(), len(data), models.ErrEmpty)
	}
	return data, mediaType(resp.Header.Get("Content-Type"), item, data), nil
}

func mediaType(header string, item MediaItem, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	for _, f := range item.files() {
		if f != nil && f.MimeType != "" {
			return f.MimeType
		}
	}
	return http.DetectContentType(data)
}

func (c *PickerClient) doJSON(ctx context.Context, method, u string, in, out any) error {
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
		return models.StatusError(resp.StatusCode, "photos picker")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode picker response: %w", err)
	}
	return nil
}
