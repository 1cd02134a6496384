package chunker

import "strings"

// DefaultMaxLines is the default number of lines per file chunk.
const DefaultMaxLines = 200

// Lines splits content into chunks of at most maxLines lines, cutting only
// at line boundaries. Line terminators stay attached to their line, so the
// chunks concatenate back to content. Empty content yields no chunks.
func Lines(content string, maxLines int) []string {
	if content == "" {
		return nil
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	var chunks []string
	start, lines := 0, 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		lines++
		if lines == maxLines {
			chunks = append(chunks, content[start:i+1])
			start, lines = i+1, 0
		}
	}
	if start < len(content) {
		chunks = append(chunks, content[start:])
	}
	return chunks
}

// LineCount returns the number of lines in content, counting a trailing
// unterminated line.
func LineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
