package agent

import "testing"

func TestIsObviouslySimple(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"what time is it?", true},
		{"tell me a joke", true},
		{"מה השעה", true},
		{"draw a cat", false},
		{"create an image of a sunset", false},
		{"generate a poem about rivers", false},
		{"send me a video of the moon", false},
		{"make a poll about lunch options", false},
		{"find a recipe and then convert it to a shopping list", false},
		{"first search the weather; afterwards write a haiku", false},
	}

	for _, tt := range tests {
		if got := IsObviouslySimple(tt.text); got != tt.want {
			t.Errorf("IsObviouslySimple(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsObviouslySimpleLengthBound(t *testing.T) {
	long := "please tell me in great detail about the weather today and also about "
	long += "the history of meteorology and everything related to barometric pressure"
	if IsObviouslySimple(long) {
		t.Error("long requests must take the planner path")
	}
}

func TestDetectLanguageHint(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"hello there", "en"},
		{"שלום, מה שלומך", "he"},
		{"مرحبا بك", "ar"},
		{"привет как дела", "ru"},
		{"", "en"},
	}

	for _, tt := range tests {
		if got := DetectLanguageHint(tt.text); got != tt.want {
			t.Errorf("DetectLanguageHint(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
