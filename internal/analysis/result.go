package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"nexvmeta/internal/domain"
)

var errNoMetadata = errors.New("reply has no title, description or keywords")

// flexFloat accepts 87, 0.87 and "87".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = flexFloat(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt is a flexFloat rounded to the nearest integer.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = flexInt(math.Round(float64(v)))
	return nil
}

func scoreFromFloat(v float64) int {
	if v > 0 && v < 1 {
		v *= 100
	}
	return int(math.Round(v))
}

// flexKeywords accepts ["a","b"], [{"tag":"a","relevance":90}] and "a, b".
type flexKeywords []domain.Keyword

func (k *flexKeywords) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, part := range strings.Split(s, ",") {
			*k = append(*k, domain.Keyword{Tag: part})
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if item[0] == '"' {
			var tag string
			if err := json.Unmarshal(item, &tag); err == nil {
				*k = append(*k, domain.Keyword{Tag: tag})
			}
			continue
		}
		var obj struct {
			Tag        string     `json:"tag"`
			Keyword    string     `json:"keyword"`
			Name       string     `json:"name"`
			Relevance  *flexFloat `json:"relevance"`
			Score      *flexFloat `json:"score"`
			Confidence *flexFloat `json:"confidence"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		kw := domain.Keyword{Tag: coalesce(obj.Tag, obj.Keyword, obj.Name)}
		for _, candidate := range []*flexFloat{obj.Relevance, obj.Score, obj.Confidence} {
			if candidate != nil {
				v := scoreFromFloat(float64(*candidate))
				kw.Relevance = &v
				break
			}
		}
		*k = append(*k, kw)
	}
	return nil
}

type metaPayload struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Keywords    flexKeywords `json:"keywords"`
	Category    flexInt      `json:"category"`
}

type technicalPayload struct {
	QualityScore    *flexInt `json:"quality_score"`
	QualityScoreAlt *flexInt `json:"qualityScore"`
	Notes           string   `json:"notes"`
}

type reviewPayload struct {
	TotalScore       flexInt `json:"totalScore"`
	ResolutionScore  flexInt `json:"resolutionScore"`
	NoiseScore       flexInt `json:"noiseScore"`
	CompositionScore flexInt `json:"compositionScore"`
	CommercialScore  flexInt `json:"commercialScore"`
	Feedback         string  `json:"feedback"`
}

type safetyPayload struct {
	Safe    *bool    `json:"safe"`
	IsSafe  *bool    `json:"is_safe"`
	Reasons []string `json:"reasons"`
	Flags   []string `json:"flags"`
}

func (s *safetyPayload) verdict() *domain.SafetyVerdict {
	if s == nil {
		return nil
	}
	safe := true
	switch {
	case s.Safe != nil:
		safe = *s.Safe
	case s.IsSafe != nil:
		safe = *s.IsSafe
	}
	reasons := append(append([]string(nil), s.Reasons...), s.Flags...)
	return &domain.SafetyVerdict{Safe: safe, Reasons: reasons}
}

type modelPayload struct {
	Meta      *metaPayload               `json:"meta"`
	Metadata  *metaPayload               `json:"metadata"`
	Technical *technicalPayload          `json:"technical"`
	Review    *reviewPayload             `json:"review"`
	Prompts   map[string]json.RawMessage `json:"prompts"`
	Safety    *safetyPayload             `json:"safety"`

	metaPayload
}

// decodeResult turns a raw model reply into an AnalysisResult. It returns the
// number of keywords that came without a relevance score.
func decodeResult(raw string) (domain.AnalysisResult, int, error) {
	payload, err := ParseJSON[modelPayload](raw)
	if err != nil {
		return domain.AnalysisResult{}, 0, err
	}
	meta := payload.metaPayload
	switch {
	case payload.Meta != nil:
		meta = *payload.Meta
	case payload.Metadata != nil:
		meta = *payload.Metadata
	}
	result := domain.AnalysisResult{
		Title:       strings.TrimSpace(meta.Title),
		Description: strings.TrimSpace(meta.Description),
		Keywords:    normalizeKeywords(meta.Keywords),
		Category:    int(meta.Category),
		Prompts:     promptStrings(payload.Prompts),
		Safety:      payload.Safety.verdict(),
	}
	if t := payload.Technical; t != nil {
		result.TechnicalNotes = strings.TrimSpace(t.Notes)
		switch {
		case t.QualityScore != nil:
			result.QualityScore = int(*t.QualityScore)
		case t.QualityScoreAlt != nil:
			result.QualityScore = int(*t.QualityScoreAlt)
		}
	}
	if r := payload.Review; r != nil {
		result.Review = &domain.QualityReview{
			TotalScore:       int(r.TotalScore),
			ResolutionScore:  int(r.ResolutionScore),
			NoiseScore:       int(r.NoiseScore),
			CompositionScore: int(r.CompositionScore),
			CommercialScore:  int(r.CommercialScore),
			Feedback:         strings.TrimSpace(r.Feedback),
		}
		if result.QualityScore == 0 {
			result.QualityScore = result.Review.TotalScore
		}
		if result.TechnicalNotes == "" {
			result.TechnicalNotes = result.Review.Feedback
		}
	}
	if result.Title == "" && result.Description == "" && len(result.Keywords) == 0 {
		return domain.AnalysisResult{}, 0, &domain.MalformedResponseError{Raw: raw, Err: errNoMetadata}
	}
	unscored := 0
	for _, kw := range result.Keywords {
		if kw.Relevance == nil {
			unscored++
		}
	}
	return result, unscored, nil
}

func normalizeKeywords(keywords []domain.Keyword) []domain.Keyword {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]domain.Keyword, 0, len(keywords))
	for _, kw := range keywords {
		kw.Tag = strings.TrimSpace(kw.Tag)
		if kw.Tag == "" {
			continue
		}
		key := strings.ToLower(kw.Tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func promptStrings(raw map[string]json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out[name] = s
			}
			continue
		}
		out[name] = strings.TrimSpace(string(value))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
