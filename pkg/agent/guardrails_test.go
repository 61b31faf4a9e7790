package agent

import (
	"testing"

	"github.com/calbot/calbot/pkg/providers"
	"github.com/calbot/calbot/pkg/tools"
)

func TestIsAffirmative(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"yes", true},
		{"Yep, go ahead", true},
		{"sounds good", true},
		{"that works for me", true},
		{"ok do it", true},
		{"yesterday was fine", false},
		{"no thanks", false},
		{"maybe later", false},
		{"what does that mean?", false},
	}
	for _, tc := range cases {
		if got := IsAffirmative(tc.message); got != tc.want {
			t.Errorf("IsAffirmative(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestIsDecline(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"no", true},
		{"Nope", true},
		{"never mind", true},
		{"cancel that", true},
		{"nothing on friday works", false},
		{"yes", false},
	}
	for _, tc := range cases {
		if got := IsDecline(tc.message); got != tc.want {
			t.Errorf("IsDecline(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestRequestsMutation(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"move my 3pm meeting to 4", true},
		{"please cancel the dentist appointment", true},
		{"can you push that call to friday", true},
		{"delete it", true},
		{"what's on my calendar tomorrow", false},
		{"schedule lunch with Ana", false},
	}
	for _, tc := range cases {
		if got := RequestsMutation(tc.message); got != tc.want {
			t.Errorf("RequestsMutation(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestClaimsSuccess(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I've scheduled your meeting for 3pm.", true},
		{"Done! Your dentist appointment has been booked.", true},
		{"The event was moved to Friday.", true},
		{"You're all booked for tomorrow.", true},
		{"I sent the email to Ana.", true},
		{"I haven't scheduled anything yet.", false},
		{"Would you like me to schedule it?", false},
		{"That time is already taken. Which alternative works?", false},
	}
	for _, tc := range cases {
		if got := ClaimsSuccess(tc.text); got != tc.want {
			t.Errorf("ClaimsSuccess(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestIsProgressOnly(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"One moment...", true},
		{"Let me check your calendar.", true},
		{"Checking your availability now", true},
		{"Looking into it!", true},
		{"I checked your calendar and you're free at 3pm.", false},
		{"You have three meetings tomorrow.", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsProgressOnly(tc.text); got != tc.want {
			t.Errorf("IsProgressOnly(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestConfirmationGate(t *testing.T) {
	cases := []struct {
		name          string
		message       string
		lastAssistant string
		tool          tools.ToolName
		allowed       bool
	}{
		{"read is never gated", "hello", "", tools.ToolListEvents, true},
		{"create is not gated", "hello", "", tools.ToolCreateEvent, true},
		{"delete without confirmation", "what's up tomorrow?", "", tools.ToolDeleteEvent, false},
		{"reschedule without confirmation", "do I have time for lunch?", "", tools.ToolRescheduleEvent, false},
		{"explicit mutation request", "move my standup meeting to 10am", "", tools.ToolRescheduleEvent, true},
		{"explicit cancel request", "cancel the design review meeting", "", tools.ToolDeleteEvent, true},
		{"affirmative confirming an offered mutation", "yes, go ahead", "Do you want me to delete the design review meeting?", tools.ToolDeleteEvent, true},
		{"affirmative with nothing offered", "yes, go ahead", "", tools.ToolDeleteEvent, false},
		{"affirmative after a plain answer", "yes", "You have a design review at 2pm tomorrow.", tools.ToolDeleteEvent, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := confirmationGate{userMessage: tc.message, lastAssistant: tc.lastAssistant}
			allowed, reason := gate.Allows(tc.tool)
			if allowed != tc.allowed {
				t.Errorf("Allows(%s) = %v, want %v", tc.tool, allowed, tc.allowed)
			}
			if !allowed && reason == "" {
				t.Error("a blocked call needs a reason for the model")
			}
		})
	}
}

func TestLastAssistantReply(t *testing.T) {
	history := []providers.Message{
		{Role: "user", Content: "do I still need the design review?"},
		{Role: "assistant", Content: "Do you want me to remove it?"},
		{Role: "assistant", Content: ""},
		{Role: "tool", Content: "{}"},
		{Role: "user", Content: "yes"},
	}
	if got := lastAssistantReply(history); got != "Do you want me to remove it?" {
		t.Errorf("lastAssistantReply = %q, want the last non-empty assistant text", got)
	}
	if got := lastAssistantReply(nil); got != "" {
		t.Errorf("lastAssistantReply(nil) = %q, want empty", got)
	}
}
