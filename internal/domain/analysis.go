package domain

import (
	"encoding/json"
	"strings"
)

const (
	DefaultTitleMin       = 5
	DefaultTitleMax       = 70
	DefaultDescriptionMin = 50
	DefaultDescriptionMax = 200
	DefaultKeywordMin     = 25
	DefaultKeywordMax     = 49
	DefaultPlatform       = "Adobe Stock"
)

// ImageRef points at the image under analysis: inline bytes or a remote URL.
type ImageRef struct {
	Data     []byte
	MIMEType string
	URL      string
}

// Inline reports whether the image bytes are held in memory.
func (r ImageRef) Inline() bool { return len(r.Data) > 0 }

// Empty reports whether neither bytes nor a URL are set.
func (r ImageRef) Empty() bool { return len(r.Data) == 0 && strings.TrimSpace(r.URL) == "" }

// ConstraintSettings are the caller-supplied output limits. Only maxima are enforced.
type ConstraintSettings struct {
	TitleMin         int    `json:"titleMin"`
	TitleMax         int    `json:"titleMax"`
	DescriptionMin   int    `json:"descriptionMin"`
	DescriptionMax   int    `json:"descriptionMax"`
	KeywordMin       int    `json:"keywordMin"`
	KeywordMax       int    `json:"keywordMax"`
	TargetPlatform   string `json:"targetPlatform"`
	TargetResolution string `json:"targetResolution,omitempty"`
}

// UnmarshalJSON also accepts the short descMin/descMax and platform spellings.
func (s *ConstraintSettings) UnmarshalJSON(data []byte) error {
	type plain ConstraintSettings
	var aux struct {
		plain
		DescMin  *int   `json:"descMin"`
		DescMax  *int   `json:"descMax"`
		Platform string `json:"platform"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = ConstraintSettings(aux.plain)
	if aux.DescMin != nil && s.DescriptionMin == 0 {
		s.DescriptionMin = *aux.DescMin
	}
	if aux.DescMax != nil && s.DescriptionMax == 0 {
		s.DescriptionMax = *aux.DescMax
	}
	if s.TargetPlatform == "" {
		s.TargetPlatform = aux.Platform
	}
	return nil
}

// WithDefaults fills unset or non-positive values. min <= max is not checked.
func (s ConstraintSettings) WithDefaults() ConstraintSettings {
	if s.TitleMin <= 0 {
		s.TitleMin = DefaultTitleMin
	}
	if s.TitleMax <= 0 {
		s.TitleMax = DefaultTitleMax
	}
	if s.DescriptionMin <= 0 {
		s.DescriptionMin = DefaultDescriptionMin
	}
	if s.DescriptionMax <= 0 {
		s.DescriptionMax = DefaultDescriptionMax
	}
	if s.KeywordMin <= 0 {
		s.KeywordMin = DefaultKeywordMin
	}
	if s.KeywordMax <= 0 {
		s.KeywordMax = DefaultKeywordMax
	}
	s.TargetPlatform = strings.TrimSpace(s.TargetPlatform)
	if s.TargetPlatform == "" {
		s.TargetPlatform = DefaultPlatform
	}
	return s
}

// AnalysisRequest is one image plus its limits.
type AnalysisRequest struct {
	Image    ImageRef
	Filename string
	Settings ConstraintSettings
	Locale   string
}

// Keyword is a tag with an optional 0-100 relevance. Relevance is nil when the model gave none.
type Keyword struct {
	Tag       string `json:"tag"`
	Relevance *int   `json:"relevance,omitempty"`
}

// QualityReview holds the per-axis stock acceptance scores.
type QualityReview struct {
	TotalScore       int    `json:"totalScore"`
	ResolutionScore  int    `json:"resolutionScore"`
	NoiseScore       int    `json:"noiseScore"`
	CompositionScore int    `json:"compositionScore"`
	CommercialScore  int    `json:"commercialScore"`
	Feedback         string `json:"feedback"`
}

// SafetyVerdict is the outcome of the content-safety pass.
type SafetyVerdict struct {
	Safe    bool     `json:"safe"`
	Reasons []string `json:"reasons,omitempty"`
}

// AnalysisResult is the normalized metadata for one image.
type AnalysisResult struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Keywords       []Keyword         `json:"keywords"`
	Category       int               `json:"category"`
	QualityScore   int               `json:"qualityScore"`
	TechnicalNotes string            `json:"technicalNotes"`
	Review         *QualityReview    `json:"review,omitempty"`
	Prompts        map[string]string `json:"prompts,omitempty"`
	Safety         *SafetyVerdict    `json:"safety,omitempty"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	Model          string            `json:"model,omitempty"`
}

// Tags returns the keyword tags in order.
func (r AnalysisResult) Tags() []string {
	tags := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		tags = append(tags, kw.Tag)
	}
	return tags
}
