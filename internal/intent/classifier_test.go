package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xaenox/assistant-bot/internal/models"
)

func TestClassify(t *testing.T) {
	c := New(nil)

	tests := []struct {
		name string
		text string
		want models.Intent
	}{
		{"email beats reminder word", "send email to a@b.com reminder tomorrow at 9am", models.Intent{Kind: models.IntentSendEmail}},
		{"immediate email", "email test@example.com now saying hello", models.Intent{Kind: models.IntentSendEmail}},
		{"send phrase without address", "send an email", models.Intent{Kind: models.IntentSendEmail}},
		{"address without email keyword", "my address is a@b.com", models.Intent{Kind: models.IntentNone}},
		{"calendar query", "What's on my calendar tomorrow?", models.Intent{Kind: models.IntentNone}},
		{"free query", "am I free tomorrow at 3pm", models.Intent{Kind: models.IntentNone}},
		{"delete all meetings", "delete all my meetings", models.Intent{Kind: models.IntentDeletePattern, Pattern: "meeting"}},
		{"remove all events", "remove all my events this week", models.Intent{Kind: models.IntentDeletePattern, Pattern: "event"}},
		{"delete specific", "cancel my dentist appointment", models.Intent{Kind: models.IntentDeletePattern}},
		{"clear unconfirmed", "clear my schedule", models.Intent{Kind: models.IntentClearAll}},
		{"clear confirmed", "clear my schedule, yes I'm sure", models.Intent{Kind: models.IntentClearAll, Confirmed: true}},
		{"clear all events", "clear all events", models.Intent{Kind: models.IntentClearAll}},
		{"yesterday is not yes", "clear my calendar from yesterday", models.Intent{Kind: models.IntentClearAll}},
		{"create meeting", "schedule a meeting with John tomorrow at 2pm", models.Intent{Kind: models.IntentCreateEvent}},
		{"create class", "I have class at 9am on Monday", models.Intent{Kind: models.IntentCreateEvent}},
		{"explicit reminder", "remind me in 30 minutes to call mom", models.Intent{Kind: models.IntentSetReminder}},
		{"tell me to", "tell me to drink water", models.Intent{Kind: models.IntentSetReminder}},
		{"tell me as chat", "tell me a joke", models.Intent{Kind: models.IntentNone}},
		{"time and pronoun", "at 2:05pm I need to do homework", models.Intent{Kind: models.IntentSetReminder}},
		{"starts with time and long", "at 5pm water the plants please", models.Intent{Kind: models.IntentSetReminder}},
		{"starts with time but short", "at 5pm", models.Intent{Kind: models.IntentNone}},
		{"reminder excluded by calendar word", "remind me to check the calendar", models.Intent{Kind: models.IntentNone}},
		{"reminder about emailing", "remind me to send an email to my boss", models.Intent{Kind: models.IntentNone}},
		{"plain chat", "hello there, how are you?", models.Intent{Kind: models.IntentNone}},
		{"empty", "   ", models.Intent{Kind: models.IntentNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassify_CustomConfirmationKeywords(t *testing.T) {
	c := New([]string{"OK", "go ahead"})

	assert.Equal(t, models.Intent{Kind: models.IntentClearAll, Confirmed: true}, c.Classify("clear all events, go ahead"))
	assert.Equal(t, models.Intent{Kind: models.IntentClearAll, Confirmed: true}, c.Classify("clear my calendar ok"))
	assert.Equal(t, models.Intent{Kind: models.IntentClearAll}, c.Classify("clear my calendar, yes"))
}

func TestClassify_BlankConfirmationKeywordsUseDefaults(t *testing.T) {
	for _, keywords := range [][]string{{""}, {"  ", "\t"}, {}} {
		c := New(keywords)
		assert.Equal(t, models.Intent{Kind: models.IntentClearAll}, c.Classify("clear my calendar"), "%q", keywords)
		assert.Equal(t, models.Intent{Kind: models.IntentClearAll, Confirmed: true}, c.Classify("clear my calendar, yes"), "%q", keywords)
	}
}

func TestClassifyWithRule(t *testing.T) {
	c := New(nil)

	_, rule := c.ClassifyWithRule("what do i have today")
	assert.Equal(t, "calendar-query", rule)

	_, rule = c.ClassifyWithRule("good morning")
	assert.Equal(t, "", rule)
}
