package analysis

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/providers/model"
)

const systemPrompt = "You are a senior stock photography reviewer and metadata specialist. You only answer with a single valid JSON object and never wrap it in prose."

const resultShape = `{
  "meta": {
    "title": string,
    "description": string,
    "keywords": [{"tag": string, "relevance": integer 0-100}],
    "category": integer
  },
  "technical": {"quality_score": integer 0-100, "notes": string},
  "review": {
    "totalScore": integer 0-100,
    "resolutionScore": integer 0-100,
    "noiseScore": integer 0-100,
    "compositionScore": integer 0-100,
    "commercialScore": integer 0-100,
    "feedback": string
  },
  "prompts": {"midjourney": string, "stable_diffusion": string, "dalle": string}
}`

// languageName turns a locale such as "id" or "pt-BR" into an English language name.
func languageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return "English"
	}
	base, _ := tag.Base()
	if name := display.English.Languages().Name(language.Make(base.String())); name != "" {
		return name
	}
	return "English"
}

func writeRules(sb *strings.Builder, s domain.ConstraintSettings, locale string) {
	fmt.Fprintf(sb, "Target marketplace: %s. Follow its metadata guidelines.\n", s.TargetPlatform)
	fmt.Fprintf(sb, "Write title, description and keywords in %s.\n", languageName(locale))
	fmt.Fprintf(sb, "Title: between %d and %d characters, factual, no keyword stuffing, no trademarks or brand names.\n", s.TitleMin, s.TitleMax)
	fmt.Fprintf(sb, "Description: between %d and %d characters, one or two sentences describing subject, setting and mood.\n", s.DescriptionMin, s.DescriptionMax)
	fmt.Fprintf(sb, "Keywords: between %d and %d single words or short phrases, most important first, no duplicates.\n", s.KeywordMin, s.KeywordMax)
	sb.WriteString("Give every keyword a relevance score from 0 to 100.\n")
	sb.WriteString("Category: the numeric Adobe Stock category id (1 Animals ... 21 Travel).\n")
	if s.TargetResolution != "" {
		fmt.Fprintf(sb, "The image will be delivered at %s; judge resolution against that target.\n", s.TargetResolution)
	}
}

// combinedPrompt asks for the full result in one call.
func combinedPrompt(s domain.ConstraintSettings, locale string) string {
	sb := &strings.Builder{}
	sb.WriteString("Analyze the attached image for stock photo submission.\n")
	sb.WriteString("Inspect it like a marketplace reviewer: focus, noise, chromatic aberration, exposure, compression artifacts, composition, commercial appeal and any legal risk (logos, recognizable people, property).\n")
	writeRules(sb, s, locale)
	sb.WriteString("Also reverse-engineer text-to-image prompts that would recreate this image.\n")
	sb.WriteString("Respond with JSON of exactly this shape:\n")
	sb.WriteString(resultShape)
	return sb.String()
}

func forensicPrompt() string {
	return `Act as a forensic image inspector for a stock agency.
Report everything visible: subjects, objects, setting, lighting, colors, mood, camera angle and lens feel.
Assess focus, noise, artifacts, exposure and composition, and score each from 0 to 100.
Respond with JSON: {"subjects":[string],"setting":string,"lighting":string,"colors":[string],"mood":string,
"technical":{"focus":integer,"noise":integer,"artifacts":integer,"exposure":integer,"composition":integer},"issues":[string]}`
}

func promptReversePrompt() string {
	return `Reverse-engineer the text-to-image prompts that would recreate the attached image.
Include subject, style, lighting, lens, composition and aspect ratio hints.
Respond with JSON: {"prompts":{"midjourney":string,"stable_diffusion":string,"dalle":string}}`
}

func safetyPrompt(platform string) string {
	return fmt.Sprintf(`Check the attached image for content that %s would reject or require a release for:
visible logos or trademarks, recognizable faces, private property, nudity, violence, text overlays, watermarks.
Respond with JSON: {"safe":boolean,"reasons":[string]}`, platform)
}

// synthesisPrompt merges the pass outputs into the final result.
func synthesisPrompt(s domain.ConstraintSettings, locale string, passes map[string]string) string {
	sb := &strings.Builder{}
	sb.WriteString("You receive independent reports about one stock photo. Merge them into final submission metadata.\n")
	for _, name := range passOrder {
		if out, ok := passes[name]; ok {
			fmt.Fprintf(sb, "\n[%s report]\n%s\n", name, out)
		}
	}
	sb.WriteString("\n")
	writeRules(sb, s, locale)
	sb.WriteString("Respond with JSON of exactly this shape:\n")
	sb.WriteString(resultShape)
	return sb.String()
}

func scoreSchema() *model.Schema {
	return &model.Schema{Type: model.TypeInteger, Minimum: floatPtr(0), Maximum: floatPtr(100)}
}

// resultSchema mirrors resultShape for providers with schema-constrained output.
func resultSchema() *model.Schema {
	str := func() *model.Schema { return &model.Schema{Type: model.TypeString} }
	return &model.Schema{
		Type: model.TypeObject,
		Properties: map[string]*model.Schema{
			"meta": {
				Type: model.TypeObject,
				Properties: map[string]*model.Schema{
					"title":       str(),
					"description": str(),
					"keywords": {
						Type: model.TypeArray,
						Items: &model.Schema{
							Type: model.TypeObject,
							Properties: map[string]*model.Schema{
								"tag":       str(),
								"relevance": scoreSchema(),
							},
							Required: []string{"tag", "relevance"},
						},
					},
					"category": {Type: model.TypeInteger},
				},
				Required: []string{"title", "description", "keywords", "category"},
			},
			"technical": {
				Type: model.TypeObject,
				Properties: map[string]*model.Schema{
					"quality_score": scoreSchema(),
					"notes":         str(),
				},
				Required: []string{"quality_score", "notes"},
			},
			"review": {
				Type: model.TypeObject,
				Properties: map[string]*model.Schema{
					"totalScore":       scoreSchema(),
					"resolutionScore":  scoreSchema(),
					"noiseScore":       scoreSchema(),
					"compositionScore": scoreSchema(),
					"commercialScore":  scoreSchema(),
					"feedback":         str(),
				},
			},
			"prompts": {
				Type: model.TypeObject,
				Properties: map[string]*model.Schema{
					"midjourney":       str(),
					"stable_diffusion": str(),
					"dalle":            str(),
				},
			},
		},
		Required: []string{"meta", "technical"},
	}
}

func floatPtr(v float64) *float64 { return &v }
