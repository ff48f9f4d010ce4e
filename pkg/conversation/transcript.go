package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

const transcriptRule = "====================="

// FormatClock renders a millisecond offset as HH:MM:SS.
func FormatClock(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Transcript renders transcript.txt:
//
//	[Speaker HH:MM:SS-HH:MM:SS]: text
func Transcript(title string, utts []Utterance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation Transcript: %s\n%s\n\n", title, transcriptRule)
	for _, u := range utts {
		fmt.Fprintf(&b, "[%s %s-%s]: %s\n\n", u.Speaker, FormatClock(u.StartMS), FormatClock(u.EndMS), u.Text)
	}
	return b.String()
}

// LegacyTranscript renders the older standalone format:
//
//	Speaker: text
func LegacyTranscript(title string, utts []Utterance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation Transcript: %s\n%s\n\n", title, transcriptRule)
	for _, u := range utts {
		fmt.Fprintf(&b, "%s: %s\n\n", u.Speaker, u.Text)
	}
	return b.String()
}

// RenameInTranscript replaces the speaker of every "[old HH:MM:SS" entry.
// It returns the new text and whether anything changed.
func RenameInTranscript(text, old, new string) (string, bool) {
	re := regexp.MustCompile(`\[` + regexp.QuoteMeta(old) + ` ([0-9:]{8})`)
	out := re.ReplaceAllString(text, "["+escapeReplacement(new)+" ${1}")
	return out, out != text
}

// RenameInLegacyTranscript replaces lines starting with "old: ".
func RenameInLegacyTranscript(text, old, new string) (string, bool) {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(old) + `: `)
	out := re.ReplaceAllString(text, escapeReplacement(new)+": ")
	return out, out != text
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
