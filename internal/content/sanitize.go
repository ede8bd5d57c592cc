package content

import (
	"regexp"
	"strings"
)

// MaxContentChars caps sanitized output so a single page cannot dominate the
// state or a prompt.
const MaxContentChars = 500_000

// SanitizeResult reports what a sanitization pass removed.
type SanitizeResult struct {
	Text             string
	ElementsRemoved  int
	InjectionMarkers int
	Truncated        bool
}

var stripElementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[\s>].*?</script>`),
	regexp.MustCompile(`(?is)<style[\s>].*?</style>`),
	regexp.MustCompile(`(?is)<iframe[\s>].*?</iframe>`),
	regexp.MustCompile(`(?is)<object[\s>].*?</object>`),
	regexp.MustCompile(`(?i)<embed[^>]*>`),
	regexp.MustCompile(`(?is)<noscript[\s>].*?</noscript>`),
	regexp.MustCompile(`(?s)<!--.*?-->`),
}

var (
	eventHandlerRE = regexp.MustCompile(`\s+on\w+\s*=\s*["'][^"']*["']`)
	dataAttrRE     = regexp.MustCompile(`\s+data-[\w-]+\s*=\s*["'][^"']*["']`)
	tagRE          = regexp.MustCompile(`<[^>]+>`)
	controlCharRE  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	whitespaceRE   = regexp.MustCompile(`[ \t]+`)
	blankLinesRE   = regexp.MustCompile(`\n{3,}`)
)

// Boundary markers an adversarial page could plant to break out of the model
// context. Replaced with [REMOVED] rather than silently dropped.
var injectionMarkers = []*regexp.Regexp{
	regexp.MustCompile(`<\|im_start\|>`),
	regexp.MustCompile(`<\|im_end\|>`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`\[/INST\]`),
	regexp.MustCompile(`<<SYS>>`),
	regexp.MustCompile(`<</SYS>>`),
	regexp.MustCompile(`<\|system\|>`),
	regexp.MustCompile(`<\|user\|>`),
	regexp.MustCompile(`<\|assistant\|>`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
}

// Sanitize cleans raw page content for LLM consumption: dangerous HTML
// elements, event handlers, and data attributes go away; injection boundary
// markers are neutralized; control characters and excessive whitespace are
// collapsed; the result is capped at MaxContentChars.
func Sanitize(raw string) SanitizeResult {
	working := raw
	removed := 0
	for _, p := range stripElementPatterns {
		matches := p.FindAllStringIndex(working, -1)
		removed += len(matches)
		working = p.ReplaceAllString(working, "")
	}
	working = eventHandlerRE.ReplaceAllString(working, "")
	working = dataAttrRE.ReplaceAllString(working, "")

	markers := 0
	for _, p := range injectionMarkers {
		markers += len(p.FindAllStringIndex(working, -1))
		working = p.ReplaceAllString(working, "[REMOVED]")
	}

	working = tagRE.ReplaceAllString(working, " ")
	working = controlCharRE.ReplaceAllString(working, "")
	working = whitespaceRE.ReplaceAllString(working, " ")
	working = blankLinesRE.ReplaceAllString(working, "\n\n")
	working = strings.TrimSpace(working)

	truncated := false
	if len(working) > MaxContentChars {
		working = working[:MaxContentChars]
		truncated = true
	}
	return SanitizeResult{
		Text:             working,
		ElementsRemoved:  removed,
		InjectionMarkers: markers,
		Truncated:        truncated,
	}
}
