package processor

import (
	"strings"
	"unicode"
)

// Branch names are derived as category/slug. Category inference is a simple,
// total, order-sensitive keyword match over a fixed priority list, not a
// classifier: the first category whose keyword appears in the request wins,
// and bug-ish words outrank feature-ish words outrank refactor-ish words.
type category struct {
	name     string
	prTag    string
	keywords []string
}

var categories = []category{
	{"fix", "Fix", []string{"bug", "fix", "error", "broken", "crash", "fail", "issue"}},
	{"feat", "Feature", []string{"feature", "add", "implement", "create", "support"}},
	{"refactor", "Refactor", []string{"refactor", "improve", "optimize", "clean", "simplify"}},
}

var defaultCategory = category{"chore", "Chore", nil}

const maxSlugLen = 50

func inferCategory(description string) category {
	lower := strings.ToLower(description)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return defaultCategory
}

// branchName derives "category/slug" from the request text. The result always
// matches ^(fix|feat|refactor|chore)/[a-z0-9-]{1,50}$.
func branchName(description string) string {
	return inferCategory(description).name + "/" + slugify(description)
}

// slugify lowercases the text, drops everything that is not a letter, digit,
// hyphen, or whitespace, folds whitespace runs into single hyphens, collapses
// repeated hyphens, and caps the length.
func slugify(text string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r), r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "request"
	}
	return slug
}
