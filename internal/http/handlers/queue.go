package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/middleware"
	"nexvmeta/internal/queue"
)

const maxMultipartMemory = 32 << 20

type enqueueItem struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
	ImageURL string `json:"imageUrl"`
}

type enqueueRequest struct {
	Items    []enqueueItem             `json:"items"`
	Settings domain.ConstraintSettings `json:"settings"`
	Locale   string                    `json:"locale"`
}

type queueListResponse struct {
	Items  []domain.QueueItem         `json:"items"`
	Counts map[domain.QueueStatus]int `json:"counts"`
}

func (a *App) queueReady(w http.ResponseWriter) bool {
	if a.Queue == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "queue is not configured")
		return false
	}
	return true
}

// Enqueue accepts multipart "files" with an optional "settings" JSON field, or
// a JSON body of items, and returns the new pending items.
func (a *App) Enqueue(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	a.limitBody(w, r)
	items, settings, locale, err := a.readEnqueue(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.Queue.Enqueue(r.Context(), items, settings, locale)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"items": created})
}

func (a *App) readEnqueue(r *http.Request) ([]queue.NewItem, domain.ConstraintSettings, string, error) {
	locale := middleware.LocaleFromContext(r.Context())
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, domain.ConstraintSettings{}, "", formFileError(err)
		}
		settings, err := parseSettings(r.FormValue("settings"))
		if err != nil {
			return nil, settings, "", err
		}
		if v := middleware.NormalizeLocale(r.FormValue("locale")); v != "" {
			locale = v
		}
		var items []queue.NewItem
		for _, header := range r.MultipartForm.File["files"] {
			f, err := header.Open()
			if err != nil {
				return nil, settings, "", err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, settings, "", err
			}
			items = append(items, queue.NewItem{Filename: header.Filename, Data: data, MIMEType: partMIME(header, data)})
		}
		return items, settings, locale, nil
	}

	var body enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, body.Settings, "", err
		}
		return nil, body.Settings, "", fmt.Errorf("%w: invalid json body", domain.ErrInvalidImage)
	}
	if v := middleware.NormalizeLocale(body.Locale); v != "" {
		locale = v
	}
	items := make([]queue.NewItem, 0, len(body.Items))
	for i, in := range body.Items {
		image, err := imageFromFields(in.Image, in.ImageURL)
		if err != nil {
			return nil, body.Settings, "", fmt.Errorf("item %d: %w", i, err)
		}
		filename := in.Filename
		if filename == "" && image.URL != "" {
			filename = filenameFromURL(image.URL)
		}
		items = append(items, queue.NewItem{Filename: filename, Data: image.Data, MIMEType: image.MIMEType, ImageURL: image.URL})
	}
	return items, body.Settings, locale, nil
}

func (a *App) ListQueue(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	items, err := a.Queue.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	a.json(w, http.StatusOK, queueListResponse{Items: items, Counts: queue.CountByStatus(items)})
}

func (a *App) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	item, err := a.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	item.Data = nil
	a.json(w, http.StatusOK, item)
}

func (a *App) DeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	if err := a.Queue.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	n, err := a.Queue.RetryFailed(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]int{"retried": n})
}

// ExportQueue streams a zip with metadata.csv and one JSON file per finished item.
func (a *App) ExportQueue(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	items, err := a.Queue.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	name := fmt.Sprintf("nexvmeta-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.WriteHeader(http.StatusOK)
	if err := queue.Export(w, items); err != nil {
		a.Logger.Error().Err(err).Msg("queue export failed")
	}
}

// QueueSocket upgrades to a websocket that receives a snapshot on every change.
func (a *App) QueueSocket(w http.ResponseWriter, r *http.Request) {
	if !a.queueReady(w) {
		return
	}
	if a.Hub == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "live updates are not configured")
		return
	}
	items, err := a.Queue.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Hub.ServeWS(w, r, items)
}
