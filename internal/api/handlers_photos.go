package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthlabs/homehub/internal/photos"
)

// maxRestoreBytes bounds an uploaded backup file.
const maxRestoreBytes = 1 << 30

func (h *Handlers) getSlides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Photos.Slides())
}

func (h *Handlers) nextSlide(w http.ResponseWriter, r *http.Request) {
	h.Photos.Next()
	writeJSON(w, http.StatusOK, h.Hub.State().Photos)
}

// getBlob serves the image behind a blob URL. Blob URLs never change
// within a process, so they are cached by the browser.
func (h *Handlers) getBlob(w http.ResponseWriter, r *http.Request) {
	mimeType, data, err := h.Photos.Blob(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) startPicker(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Photos.StartPicker(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) cancelPicker(w http.ResponseWriter, r *http.Request) {
	h.Photos.CancelPicker()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) clearPhotos(w http.ResponseWriter, r *http.Request) {
	if err := h.Photos.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Hub.State().Photos)
}

// downloadBackup renders the backup fully before sending so a failure
// still produces an error response.
func (h *Handlers) downloadBackup(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := h.Photos.WriteBackup(r.Context(), &buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+photos.BackupFilename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// restoreBackup accepts the backup either as the raw body or as the
// "file" field of a multipart form.
func (h *Handlers) restoreBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRestoreBytes)
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, photos.ErrInvalidBackup)
			return
		}
		defer f.Close()
		body = f
	}
	n, err := h.Photos.Restore(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"restored": n})
}
