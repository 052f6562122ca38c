package assistant

import "strings"

const maxInsights = 5

type Insight struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type insightKeyword struct {
	keyword string
	label   string
}

// Order matters: it decides both precedence and output order.
var insightKeywords = []insightKeyword{
	{"visible", "Visibility"},
	{"structure", "Structure"},
	{"normal", "Normal Findings"},
	{"abnormal", "Abnormal Findings"},
	{"contrast", "Contrast"},
	{"density", "Density"},
	{"tissue", "Tissue"},
	{"bones", "Bone Structure"},
	{"organ", "Organ"},
	{"brain", "Brain"},
	{"lung", "Lungs"},
	{"heart", "Heart"},
	{"spine", "Spine"},
	{"abdomen", "Abdomen"},
	{"quality", "Image Quality"},
}

// ExtractInsights picks, for each known keyword, the first sentence mentioning it.
// Matching is a plain case-insensitive substring test, so "abnormal" also counts as "normal".
func ExtractInsights(analysis string) []Insight {
	if analysis == "" {
		return nil
	}

	sentences := splitSentences(analysis)
	lowered := make([]string, len(sentences))
	for i, s := range sentences {
		lowered[i] = strings.ToLower(s)
	}

	insights := make([]Insight, 0, maxInsights)
	for _, kw := range insightKeywords {
		for i, s := range lowered {
			if strings.Contains(s, kw.keyword) {
				insights = append(insights, Insight{
					Label: kw.label,
					Text:  strings.TrimSpace(sentences[i]) + ".",
				})
				break
			}
		}
		if len(insights) == maxInsights {
			break
		}
	}
	return insights
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}
