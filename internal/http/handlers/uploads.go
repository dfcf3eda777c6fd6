package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexvmeta/internal/storage"
)

type uploadResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Upload stores a multipart "file" in object storage and returns its public URL.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if a.Storage == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "storage is not configured")
		return
	}
	a.limitBody(w, r)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, formFileError(err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	mime := partMIME(header, data)
	name := storage.ObjectName(header.Filename, mime)
	url, err := a.Storage.Upload(r.Context(), name, data, mime)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, uploadResponse{Name: name, URL: url})
}

// DeleteUpload removes a stored object by name.
func (a *App) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	if a.Storage == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "storage is not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "name required")
		return
	}
	if err := a.Storage.Delete(r.Context(), name); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
