// Package segmenter turns a raw answer into the ordered chunk sequence the
// relay streams to the client. Same input always yields the same chunks.
package segmenter

import (
	"regexp"
	"strings"
)

// The answer service may reply in a fixed three-section layout. The pattern is
// matched once, non-greedy, with dot matching newlines.
var sectionPattern = regexp.MustCompile(`(?s)📘 Book Answer:(.*?)🧠 Teacher Explanation:(.*?)✅ Final Answer:(.*)`)

// SectionSeparator is emitted after each structured section and rendered as a
// paragraph break by the client.
const SectionSeparator = "\n\n"

// FallbackChunk is the single chunk emitted for an empty answer.
const FallbackChunk = "No answer found for your question."

// Segment splits raw into deliverable chunks. Structured answers yield the
// trimmed tokens of each section followed by a separator chunk per section;
// unstructured answers yield one space-suffixed chunk per word; blank answers
// yield the fallback chunk. The client re-spaces structured tokens itself,
// which is why only the unstructured path carries trailing spaces.
func Segment(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{FallbackChunk}
	}

	m := sectionPattern.FindStringSubmatch(raw)
	if m == nil {
		return words(raw)
	}

	var chunks []string
	for _, section := range m[1:] {
		chunks = append(chunks, strings.Fields(section)...)
		chunks = append(chunks, SectionSeparator)
	}
	return chunks
}

func words(s string) []string {
	fields := strings.Fields(s)
	chunks := make([]string, len(fields))
	for i, w := range fields {
		chunks[i] = w + " "
	}
	return chunks
}
