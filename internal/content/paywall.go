package content

import (
	"math"
	"regexp"
	"strings"
)

// PaywallSignal is one matched paywall indicator with its weight.
type PaywallSignal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// PaywallResult is the outcome of scanning HTML for paywall indicators.
type PaywallResult struct {
	Paywalled  bool            `json:"paywalled"`
	Confidence float64         `json:"confidence"`
	Signals    []PaywallSignal `json:"signals,omitempty"`
	Weight     float64         `json:"weight"`
}

type paywallPattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// Weighted paywall indicators. Stronger signals carry more weight; the
// detector flags a page once the adjusted total reaches the threshold.
var paywallPatterns = []paywallPattern{
	{"subscription_required", regexp.MustCompile(`subscribe\s+to\s+(read|continue|access|unlock)`), 3.0},
	{"subscribers_only", regexp.MustCompile(`(this\s+)?(article|content|story)\s+is\s+(for\s+)?(subscribers?|members?)\s+only`), 3.0},
	{"premium_content", regexp.MustCompile(`premium\s+(content|article|access)`), 2.5},
	{"paywall_class", regexp.MustCompile(`class\s*=\s*["'][^"']*paywall[^"']*["']`), 2.5},
	{"paywall_id", regexp.MustCompile(`id\s*=\s*["'][^"']*paywall[^"']*["']`), 2.5},
	{"login_to_read", regexp.MustCompile(`(log\s*in|sign\s*in)\s+to\s+(read|continue|access|view)`), 2.0},
	{"create_account", regexp.MustCompile(`create\s+(a\s+)?(free\s+)?account\s+to\s+(read|continue|access)`), 2.0},
	{"registration_wall", regexp.MustCompile(`class\s*=\s*["'][^"']*regwall[^"']*["']`), 2.5},
	{"free_articles_remaining", regexp.MustCompile(`(you\s+have\s+)?\d+\s+(free\s+)?(articles?|stories?)\s+remaining`), 2.0},
	{"article_limit_reached", regexp.MustCompile(`(you.ve|you\s+have)\s+reached\s+(your|the)\s+(monthly\s+)?(article|reading)\s+limit`), 2.5},
	{"subscribe_now_button", regexp.MustCompile(`subscribe\s+now`), 1.0},
	{"unlock_article", regexp.MustCompile(`unlock\s+(this\s+)?(article|story|content)`), 2.0},
	{"continue_reading_cta", regexp.MustCompile(`(continue|keep)\s+reading\s+(with|for|by)\s+(a\s+)?subscription`), 2.5},
	{"trial_offer", regexp.MustCompile(`(start|begin)\s+(your\s+)?(free\s+)?trial`), 1.0},
	{"content_truncated", regexp.MustCompile(`class\s*=\s*["'][^"']*truncat[^"']*["']`), 1.5},
	{"read_more_premium", regexp.MustCompile(`read\s+more\s+with\s+(a\s+)?subscription`), 2.5},
	{"overlay_modal", regexp.MustCompile(`class\s*=\s*["'][^"']*(paywall|subscribe)[-_]?(modal|overlay|popup|gate)[^"']*["']`), 3.0},
}

// Counter-signals: open-access markers subtract from the paywall weight.
var openAccessPatterns = []paywallPattern{
	{"open_access_badge", regexp.MustCompile(`class\s*=\s*["'][^"']*open[-_]?access[^"']*["']`), 2.0},
	{"creative_commons", regexp.MustCompile(`creative\s+commons`), 1.5},
	{"free_to_read", regexp.MustCompile(`free\s+to\s+read`), 1.5},
}

// PaywallDetector flags content whose accumulated signal weight reaches
// Threshold. The default of 3.0 needs one strong signal or several weak ones.
type PaywallDetector struct {
	Threshold float64
}

// NewPaywallDetector returns a detector with the default threshold.
func NewPaywallDetector() *PaywallDetector {
	return &PaywallDetector{Threshold: 3.0}
}

// Detect scans raw HTML for paywall indicators.
func (d *PaywallDetector) Detect(html string) PaywallResult {
	if strings.TrimSpace(html) == "" {
		return PaywallResult{}
	}
	lower := strings.ToLower(html)

	var signals []PaywallSignal
	total := 0.0
	for _, p := range paywallPatterns {
		if p.re.MatchString(lower) {
			signals = append(signals, PaywallSignal{Name: p.name, Weight: p.weight})
			total += p.weight
		}
	}

	open := 0.0
	for _, p := range openAccessPatterns {
		if p.re.MatchString(lower) {
			open += p.weight
		}
	}
	adjusted := math.Max(0, total-open)

	confidence := 0.0
	if adjusted > 0 {
		confidence = math.Min(1.0, adjusted/(d.Threshold*2))
	}
	return PaywallResult{
		Paywalled:  adjusted >= d.Threshold,
		Confidence: confidence,
		Signals:    signals,
		Weight:     adjusted,
	}
}

// Accessible is a shorthand for "not paywalled".
func (d *PaywallDetector) Accessible(html string) bool {
	return !d.Detect(html).Paywalled
}
