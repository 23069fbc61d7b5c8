package intent

import (
	"regexp"
	"strings"

	"github.com/xaenox/assistant-bot/internal/models"
)

// rule is one row of the ordered classification table.
type rule struct {
	name  string
	match func(c *Classifier, lower string) bool
	build func(c *Classifier, lower string) models.Intent
}

// Classifier maps free text to an action family. It is stateless after
// construction and safe for concurrent use.
type Classifier struct {
	confirmRe *regexp.Regexp
	rules     []rule
}

// New returns a Classifier. confirmationKeywords confirm clear-all requests;
// a list without any non-blank keyword selects DefaultConfirmationKeywords.
func New(confirmationKeywords []string) *Classifier {
	quoted := quoteKeywords(confirmationKeywords)
	if len(quoted) == 0 {
		quoted = quoteKeywords(DefaultConfirmationKeywords)
	}

	c := &Classifier{
		confirmRe: regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`),
	}
	// First match wins. Email runs before everything so "send email to
	// x@y.com reminder ..." never becomes a reminder; queries run before
	// delete/create so they never mutate.
	c.rules = []rule{
		{name: "email", match: (*Classifier).isEmail, build: constant(models.IntentSendEmail)},
		{name: "calendar-query", match: matchAny(calendarQueryKeywords), build: constant(models.IntentNone)},
		{name: "calendar-delete", match: matchAny(calendarDeleteKeywords), build: (*Classifier).deleteIntent},
		{name: "calendar-create", match: matchAny(calendarCreateKeywords), build: constant(models.IntentCreateEvent)},
		{name: "reminder", match: (*Classifier).isReminder, build: constant(models.IntentSetReminder)},
	}
	return c
}

func quoteKeywords(keywords []string) []string {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return quoted
}

// Classify returns the intent for text. Ambiguous text resolves to
// IntentNone.
func (c *Classifier) Classify(text string) models.Intent {
	intent, _ := c.ClassifyWithRule(text)
	return intent
}

// ClassifyWithRule also returns the name of the rule that matched, or ""
// when nothing did.
func (c *Classifier) ClassifyWithRule(text string) (models.Intent, string) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return models.Intent{Kind: models.IntentNone}, ""
	}
	for _, r := range c.rules {
		if r.match(c, lower) {
			return r.build(c, lower), r.name
		}
	}
	return models.Intent{Kind: models.IntentNone}, ""
}

func (c *Classifier) isEmail(lower string) bool {
	if emailAddressRe.MatchString(lower) {
		return containsAny(lower, emailKeywords)
	}
	return containsAny(lower, emailSendPhrases) && !containsAny(lower, reminderKeywords)
}

func (c *Classifier) deleteIntent(lower string) models.Intent {
	switch {
	case strings.Contains(lower, "all my meetings"):
		return models.Intent{Kind: models.IntentDeletePattern, Pattern: "meeting"}
	case strings.Contains(lower, "all my events"):
		return models.Intent{Kind: models.IntentDeletePattern, Pattern: "event"}
	case containsAny(lower, clearAllKeywords):
		return models.Intent{Kind: models.IntentClearAll, Confirmed: c.confirmRe.MatchString(lower)}
	}
	// Pattern is filled in by extraction.
	return models.Intent{Kind: models.IntentDeletePattern}
}

func (c *Classifier) isReminder(lower string) bool {
	if strings.Contains(lower, "@") ||
		containsAny(lower, reminderEmailExclusions) ||
		containsAny(lower, reminderCalendarExclusions) {
		return false
	}
	if containsAny(lower, reminderKeywords) {
		return true
	}
	hasTime := matchesAny(lower, timePatterns)
	startsWithTime := matchesAny(lower, timeStartPatterns)
	if (hasTime || startsWithTime) && pronounRe.MatchString(lower) {
		return true
	}
	return startsWithTime && len(lower) > timeStartMinLength
}

func constant(kind models.IntentKind) func(*Classifier, string) models.Intent {
	return func(*Classifier, string) models.Intent {
		return models.Intent{Kind: kind}
	}
}

func matchAny(keywords []string) func(*Classifier, string) bool {
	return func(_ *Classifier, lower string) bool {
		return containsAny(lower, keywords)
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
