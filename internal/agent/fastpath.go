package agent

import (
	"regexp"
	"strings"
)

// Fast-path heuristics. A request that is short, contains no creation
// verbs, and references no media is assumed single-step without consulting
// the planner, purely to cut tail latency for the common case.
var (
	creationRegex = regexp.MustCompile(`(?i)\b(create|generate|make|draw|paint|render|compose|produce|design|animate|build)\b`)
	mediaRegex    = regexp.MustCompile(`(?i)\b(image|picture|photo|video|clip|animation|audio|song|music|voice|sound|sticker|gif|poll)\b`)
	sequenceRegex = regexp.MustCompile(`(?i)\b(then|after that|and then|followed by|next,)\b|;`)
)

// fastPathMaxLength is the longest request the fast path will classify as
// obviously simple.
const fastPathMaxLength = 120

// IsObviouslySimple reports whether a request can skip the planner call
// and go straight to the single-step path.
//
// Contract: returns true only for short requests with no creation verbs,
// no media references, and no sequencing connectives. False means
// "consult the planner", not "multi-step".
func IsObviouslySimple(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len(trimmed) > fastPathMaxLength {
		return false
	}
	if creationRegex.MatchString(trimmed) {
		return false
	}
	if mediaRegex.MatchString(trimmed) {
		return false
	}
	if sequenceRegex.MatchString(trimmed) {
		return false
	}
	return true
}

// DetectLanguageHint derives a coarse language hint from the request text.
// Pure function, no I/O; the hint feeds the system instruction so replies
// match the user's language.
func DetectLanguageHint(text string) string {
	for _, r := range text {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			return "he"
		case r >= 0x0600 && r <= 0x06FF:
			return "ar"
		case r >= 0x0400 && r <= 0x04FF:
			return "ru"
		case r >= 0x3040 && r <= 0x30FF:
			return "ja"
		case r >= 0x4E00 && r <= 0x9FFF:
			return "zh"
		}
	}
	return "en"
}
