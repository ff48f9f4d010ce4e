package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/haivivi/speakerid/pkg/grouping"
)

// NewEmbeddingID returns a fresh vector id for speaker:
// "speaker_<key>_<hex8>", or "speaker_<key>_short_<hex8>" for short
// utterance evidence.
func NewEmbeddingID(speaker string, short bool) string {
	var b strings.Builder
	b.WriteString("speaker_")
	b.WriteString(grouping.Key(speaker))
	if short {
		b.WriteString("_short")
	}
	b.WriteByte('_')
	b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return b.String()
}

// CheckName trims a speaker name and verifies that its group key is a
// single path element: not empty, not "." or "..", and free of path
// separators and control characters.
func CheckName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch key := grouping.Key(name); {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	case key == "." || key == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(key, `/\`):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsFunc(key, unicode.IsControl):
		return "", fmt.Errorf("%w: %q contains a control character", ErrInvalidName, name)
	}
	return name, nil
}
