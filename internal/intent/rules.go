package intent

import "regexp"

// Keyword families. Matching is substring-based on lowercased text unless a
// family is a regexp. New phrasings go here; the rule order lives in
// classifier.go.
var (
	emailAddressRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	emailKeywords = []string{
		"send email", "email", "send an email", "send a message",
		"send to", "email to", "message to", "write to",
		"send reminder", "send notification", "notify",
		"compose email", "draft email", "send mail",
	}

	// Phrases that ask for an email even when no address was given.
	emailSendPhrases = []string{
		"send email", "send an email", "send mail", "send a mail",
		"compose email", "compose an email", "draft email", "draft an email",
		"write an email",
	}

	calendarQueryKeywords = []string{
		"what's on my", "what do i have", "am i free", "do i have", "check my",
		"show my", "when is my", "any meetings", "any events today", "any events tomorrow",
		"schedule today", "schedule tomorrow", "busy today", "busy tomorrow",
	}

	calendarDeleteKeywords = []string{
		"remove my", "delete my", "cancel my", "clear my schedule", "remove my schedule",
		"delete all events", "clear all events", "remove all meetings", "cancel all",
		"clear my calendar", "remove everything", "delete everything",
		"i want to remove all", "delete all my", "remove all of my",
		"remove all my meetings", "delete all my meetings", "cancel all my meetings",
		"clear all my events", "remove all my events", "delete all my events",
	}

	// Delete phrases that wipe everything and therefore need confirmation.
	clearAllKeywords = []string{"clear my schedule", "clear my calendar", "clear all"}

	calendarCreateKeywords = []string{
		"schedule a", "add to calendar", "create meeting", "book appointment",
		"plan meeting", "i have class at", "i have meeting at",
		"schedule meeting", "book a", "arrange meeting", "set up meeting",
		"create appointment", "can you set me", "set me a", "can you schedule",
		"can you create", "can you add", "can you book", "set a schedule",
		"make me a", "add a", "put on my calendar", "schedule for me",
	}

	// "tell me" alone also covers chat ("tell me a joke"), so it only
	// counts when followed by an instruction.
	reminderKeywords = []string{
		"remind me", "reminds me", "notify me", "tell me to", "alert me",
		"set a reminder", "set reminder", "reminder",
		"wake me up", "ping me", "buzz me",
		"don't let me forget", "make sure i remember",
		"you have to notify", "you have to remind",
		"you have to tell", "need to remind", "need to notify",
	}

	reminderEmailExclusions = []string{
		"send email", "email to", "email ", "send to", "compose email",
	}

	reminderCalendarExclusions = []string{
		"schedule", "calendar", "create meeting", "add to calendar",
		"meeting with", "appointment with", "book ", "i have class",
		"i have meeting", "schedule meeting",
	}

	timePatterns = compileAll(
		`at \d{1,2}:\d{2}(am|pm)?`,
		`at \d{1,2}\s?(am|pm)`,
		`in \d+\s*(minute|hour|min|hr)`,
		`tomorrow at \d`,
		`later today`,
		`tonight at`,
		`today at \d`,
		`\d{1,2}:\d{2}(am|pm)?.*remind`,
		`\d{1,2}(am|pm).*remind`,
	)

	timeStartPatterns = compileAll(
		`^at \d{1,2}:\d{2}(am|pm)?`,
		`^at \d{1,2}\s?(am|pm)`,
		`^\d{1,2}:\d{2}(am|pm)?`,
	)

	pronounRe = regexp.MustCompile(`\b(me|i|i'm|my|you)\b`)

	// DefaultConfirmationKeywords confirm a clear-all request in the same message.
	DefaultConfirmationKeywords = []string{"yes", "sure", "confirm", "definitely", "absolutely"}
)

// Minimum length for a message that only starts with a clock time to count
// as a reminder.
const timeStartMinLength = 20

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
