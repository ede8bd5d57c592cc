// Package content scores and cleans extracted page content before it enters
// the research state: multi-dimension quality scoring, paywall detection,
// freshness decay, and sanitization against prompt injection.
package content

import (
	"math"
	"regexp"
	"strings"
)

// Quality dimension weights. They sum to 1.0.
const (
	weightWordCount      = 0.25
	weightLinkDensity    = 0.20
	weightBoilerplate    = 0.20
	weightContentDensity = 0.15
	weightSentenceLength = 0.20
)

// QualityMetrics carries the per-dimension scores behind an overall quality
// assessment. Overall is the weighted composite, clamped to [0,1].
type QualityMetrics struct {
	WordCount           int     `json:"word_count"`
	WordCountScore      float64 `json:"word_count_score"`
	LinkDensity         float64 `json:"link_density"`
	LinkDensityScore    float64 `json:"link_density_score"`
	BoilerplateRatio    float64 `json:"boilerplate_ratio"`
	BoilerplateScore    float64 `json:"boilerplate_score"`
	ContentDensity      float64 `json:"content_density"`
	ContentDensityScore float64 `json:"content_density_score"`
	AvgSentenceLength   float64 `json:"avg_sentence_length"`
	SentenceLengthScore float64 `json:"sentence_length_score"`
	Overall             float64 `json:"overall_score"`
}

// QualityScorer scores extracted text across five dimensions: word count,
// link density, boilerplate, content density (text-to-HTML ratio), and
// sentence length distribution.
type QualityScorer struct {
	MinWords            int
	IdealWords          int
	MaxLinkDensity      float64
	IdealSentenceLength float64
}

// NewQualityScorer returns a scorer with the default thresholds.
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{
		MinWords:            50,
		IdealWords:          1500,
		MaxLinkDensity:      0.4,
		IdealSentenceLength: 20.0,
	}
}

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`cookie\s+policy`),
	regexp.MustCompile(`privacy\s+policy`),
	regexp.MustCompile(`terms\s+(of\s+)?(service|use)`),
	regexp.MustCompile(`all\s+rights\s+reserved`),
	regexp.MustCompile(`subscribe\s+to\s+(our\s+)?newsletter`),
	regexp.MustCompile(`sign\s+up\s+for`),
	regexp.MustCompile(`follow\s+us\s+on`),
	regexp.MustCompile(`share\s+(this|on)`),
	regexp.MustCompile(`copyright\s+\d{4}`),
	regexp.MustCompile(`powered\s+by`),
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// Score assesses extracted plain text. rawHTML feeds the content-density
// dimension and linkText the link-density one; both may be empty, in which
// case those dimensions fall back to neutral estimates.
func (q *QualityScorer) Score(text, rawHTML, linkText string) QualityMetrics {
	words := strings.Fields(text)
	wordCount := len(words)

	wordCountScore := 0.0
	if wordCount >= q.MinWords {
		wordCountScore = math.Min(1.0, float64(wordCount)/float64(q.IdealWords))
	}

	linkDensity := float64(len(linkText)) / math.Max(float64(len(text)), 1)
	linkDensityScore := 0.0
	if linkDensity <= q.MaxLinkDensity {
		linkDensityScore = 1.0 - linkDensity/q.MaxLinkDensity
	}

	boilerplateRatio := detectBoilerplate(text)
	boilerplateScore := math.Max(0, 1.0-boilerplateRatio*2)

	contentDensity := 0.5
	if rawHTML != "" {
		contentDensity = float64(len(text)) / math.Max(float64(len(rawHTML)), 1)
	}
	contentDensityScore := math.Min(1.0, contentDensity*3)

	avgSentenceLength := averageSentenceLength(text)
	sentenceLengthScore := 0.0
	if avgSentenceLength > 0 {
		deviation := math.Abs(avgSentenceLength - q.IdealSentenceLength)
		sentenceLengthScore = math.Max(0, 1.0-deviation/q.IdealSentenceLength)
	}

	overall := weightWordCount*wordCountScore +
		weightLinkDensity*linkDensityScore +
		weightBoilerplate*boilerplateScore +
		weightContentDensity*contentDensityScore +
		weightSentenceLength*sentenceLengthScore

	return QualityMetrics{
		WordCount:           wordCount,
		WordCountScore:      wordCountScore,
		LinkDensity:         linkDensity,
		LinkDensityScore:    linkDensityScore,
		BoilerplateRatio:    boilerplateRatio,
		BoilerplateScore:    boilerplateScore,
		ContentDensity:      contentDensity,
		ContentDensityScore: contentDensityScore,
		AvgSentenceLength:   avgSentenceLength,
		SentenceLengthScore: sentenceLengthScore,
		Overall:             math.Min(math.Max(overall, 0), 1),
	}
}

// detectBoilerplate estimates the boilerplate fraction: each matched
// indicator phrase counts as roughly 5% boilerplate.
func detectBoilerplate(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, p := range boilerplatePatterns {
		if p.MatchString(lower) {
			matches++
		}
	}
	return math.Min(1.0, float64(matches)*0.05)
}

func averageSentenceLength(text string) float64 {
	var sentences []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if len(strings.TrimSpace(s)) > 3 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return 0
	}
	total := 0
	for _, s := range sentences {
		total += len(strings.Fields(s))
	}
	return float64(total) / float64(len(sentences))
}
