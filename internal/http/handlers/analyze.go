package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/imaging"
	"nexvmeta/internal/middleware"
)

type analyzeRequest struct {
	Image    string                     `json:"image"`
	ImageURL string                     `json:"imageUrl"`
	Filename string                     `json:"filename"`
	Locale   string                     `json:"locale"`
	Settings *domain.ConstraintSettings `json:"settings"`
}

type metaDTO struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Keywords    []domain.Keyword `json:"keywords"`
	Category    int              `json:"category"`
}

type technicalDTO struct {
	QualityScore int    `json:"quality_score"`
	Notes        string `json:"notes"`
}

type analyzeResponse struct {
	Meta      metaDTO               `json:"meta"`
	Metadata  metaDTO               `json:"metadata"`
	Technical technicalDTO          `json:"technical"`
	Review    *domain.QualityReview `json:"review,omitempty"`
	Prompts   map[string]string     `json:"prompts,omitempty"`
	Safety    *domain.SafetyVerdict `json:"safety,omitempty"`
	ImageURL  string                `json:"imageUrl,omitempty"`
	Provider  string                `json:"provider,omitempty"`
	Model     string                `json:"model,omitempty"`
}

func newAnalyzeResponse(res *domain.AnalysisResult) analyzeResponse {
	keywords := res.Keywords
	if keywords == nil {
		keywords = []domain.Keyword{}
	}
	meta := metaDTO{Title: res.Title, Description: res.Description, Keywords: keywords, Category: res.Category}
	return analyzeResponse{
		Meta:      meta,
		Metadata:  meta,
		Technical: technicalDTO{QualityScore: res.QualityScore, Notes: res.TechnicalNotes},
		Review:    res.Review,
		Prompts:   res.Prompts,
		Safety:    res.Safety,
		ImageURL:  res.ImageURL,
		Provider:  res.Provider,
		Model:     res.Model,
	}
}

// Analyze handles POST /api/analyze with either a JSON body carrying a data
// URL or remote URL, or a multipart form with an "image" file.
func (a *App) Analyze(w http.ResponseWriter, r *http.Request) {
	a.limitBody(w, r)
	req, err := a.readAnalyzeRequest(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newAnalyzeResponse(res))
}

func (a *App) readAnalyzeRequest(r *http.Request) (domain.AnalysisRequest, error) {
	locale := middleware.LocaleFromContext(r.Context())
	if isMultipart(r) {
		file, header, err := r.FormFile("image")
		if err != nil {
			return domain.AnalysisRequest{}, formFileError(err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return domain.AnalysisRequest{}, err
		}
		settings, err := parseSettings(r.FormValue("settings"))
		if err != nil {
			return domain.AnalysisRequest{}, err
		}
		if v := middleware.NormalizeLocale(r.FormValue("locale")); v != "" {
			locale = v
		}
		return domain.AnalysisRequest{
			Image:    domain.ImageRef{Data: data, MIMEType: partMIME(header, data)},
			Filename: header.Filename,
			Settings: settings,
			Locale:   locale,
		}, nil
	}

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return domain.AnalysisRequest{}, err
		}
		return domain.AnalysisRequest{}, fmt.Errorf("%w: invalid json body", domain.ErrInvalidImage)
	}
	image, err := imageFromFields(body.Image, body.ImageURL)
	if err != nil {
		return domain.AnalysisRequest{}, err
	}
	if v := middleware.NormalizeLocale(body.Locale); v != "" {
		locale = v
	}
	var settings domain.ConstraintSettings
	if body.Settings != nil {
		settings = *body.Settings
	}
	filename := body.Filename
	if filename == "" && image.URL != "" {
		filename = filenameFromURL(image.URL)
	}
	return domain.AnalysisRequest{Image: image, Filename: filename, Settings: settings, Locale: locale}, nil
}

// imageFromFields accepts a data URL (or bare base64) or an http(s) URL.
func imageFromFields(dataURL, imageURL string) (domain.ImageRef, error) {
	dataURL = strings.TrimSpace(dataURL)
	imageURL = strings.TrimSpace(imageURL)
	switch {
	case dataURL != "":
		data, mime, err := imaging.DecodeDataURL(dataURL)
		if err != nil {
			return domain.ImageRef{}, err
		}
		return domain.ImageRef{Data: data, MIMEType: mime}, nil
	case imageURL != "":
		u, err := url.Parse(imageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.ImageRef{}, fmt.Errorf("%w: imageUrl must be an http(s) url", domain.ErrInvalidImage)
		}
		return domain.ImageRef{URL: imageURL}, nil
	default:
		return domain.ImageRef{}, fmt.Errorf("%w: image or imageUrl is required", domain.ErrInvalidImage)
	}
}

func parseSettings(raw string) (domain.ConstraintSettings, error) {
	var settings domain.ConstraintSettings
	if strings.TrimSpace(raw) == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return settings, fmt.Errorf("%w: settings must be a JSON object", domain.ErrInvalidImage)
	}
	return settings, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func formFileError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
}

// partMIME prefers the sniffed type over the client-declared one.
func partMIME(header *multipart.FileHeader, data []byte) string {
	if mime := imaging.DetectMIME(data); mime != "" {
		return mime
	}
	if header != nil {
		return header.Header.Get("Content-Type")
	}
	return ""
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
