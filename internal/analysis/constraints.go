package analysis

import "nexvmeta/internal/domain"

// EnforceConstraints clamps a result to the maxima in settings. Title and
// description keep their first N characters, keywords their first KeywordMax
// entries. Results below a minimum are left as they are.
func EnforceConstraints(result domain.AnalysisResult, settings domain.ConstraintSettings) domain.AnalysisResult {
	s := settings.WithDefaults()
	result.Title = truncateRunes(result.Title, s.TitleMax)
	result.Description = truncateRunes(result.Description, s.DescriptionMax)
	keep := len(result.Keywords)
	if keep > s.KeywordMax {
		keep = s.KeywordMax
	}
	result.Keywords = append([]domain.Keyword(nil), result.Keywords[:keep]...)
	result.QualityScore = clampScore(result.QualityScore)
	if result.Review != nil {
		review := *result.Review
		review.TotalScore = clampScore(review.TotalScore)
		review.ResolutionScore = clampScore(review.ResolutionScore)
		review.NoiseScore = clampScore(review.NoiseScore)
		review.CompositionScore = clampScore(review.CompositionScore)
		review.CommercialScore = clampScore(review.CommercialScore)
		result.Review = &review
	}
	for i := range result.Keywords {
		if rel := result.Keywords[i].Relevance; rel != nil {
			v := clampScore(*rel)
			result.Keywords[i].Relevance = &v
		}
	}
	return result
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func clampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
