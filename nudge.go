package switchboard

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// nudger is the pre-discovery keyword heuristic: a cheap guard for weaker
// models that fail to call discover_tools on their own. When the user text
// mentions a category's keywords and nothing cached covers that category,
// the router synthesizes the discovery call the agent should have made,
// before the first agent step.
type nudger struct {
	rules  map[string]NudgeRule
	logger *slog.Logger
}

func newNudger(rules map[string]NudgeRule, logger *slog.Logger) *nudger {
	if logger == nil {
		logger = nopLogger
	}
	return &nudger{rules: rules, logger: logger.With("component", "nudge")}
}

// matches returns the categories whose keywords occur in text, sorted so
// firing order is deterministic. Matching is case-insensitive over
// NFKC-normalized text.
func (n *nudger) matches(text string) []string {
	if len(n.rules) == 0 {
		return nil
	}
	haystack := foldText(text)
	var cats []string
	for cat, rule := range n.rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(haystack, foldText(kw)) {
				cats = append(cats, cat)
				break
			}
		}
	}
	sort.Strings(cats)
	return cats
}

// apply fires discovery for every matched category not already covered by
// the cache and reports which categories fired.
func (n *nudger) apply(ctx context.Context, text string, covered func(category string) bool, discover func(context.Context, []string)) []string {
	var fired []string
	for _, cat := range n.matches(text) {
		if covered(cat) {
			continue
		}
		rule := n.rules[cat]
		if len(rule.Queries) == 0 {
			continue
		}
		n.logger.Info("keyword nudge fired", "category", cat, "queries", rule.Queries)
		discover(ctx, rule.Queries)
		fired = append(fired, cat)
	}
	return fired
}

// foldText prepares text for keyword matching: NFKC normalization to
// collapse width and compatibility variants, then lowercasing.
func foldText(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}
