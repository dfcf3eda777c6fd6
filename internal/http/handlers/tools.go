package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/imaging"
)

func (a *App) readImagePart(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", formFileError(err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", domain.ErrInvalidImage)
	}
	return data, header.Filename, nil
}

// RemoveBackground forwards a multipart "image" to the background-removal API
// and streams the cut-out back.
func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	if a.RemoveBG == nil || !a.RemoveBG.Configured() {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "background removal is not configured")
		return
	}
	a.limitBody(w, r)
	data, filename, err := a.readImagePart(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, contentType, err := a.RemoveBG.Remove(r.Context(), data, filename)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeImage(w, out, contentType, outputName(filename, "nobg", contentType))
}

// Upscale enlarges a multipart "image" to the requested "resolution" and
// returns a PNG.
func (a *App) Upscale(w http.ResponseWriter, r *http.Request) {
	a.limitBody(w, r)
	data, filename, err := a.readImagePart(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resolution := r.FormValue("resolution")
	if _, _, err := imaging.ParseResolution(resolution); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := imaging.Upscale(data, resolution)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeImage(w, out, "image/png", outputName(filename, "upscaled", "image/png"))
}

func (a *App) writeImage(w http.ResponseWriter, data []byte, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func outputName(filename, suffix, contentType string) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	ext := ".png"
	if contentType == "image/jpeg" {
		ext = ".jpg"
	}
	return base + "-" + suffix + ext
}
