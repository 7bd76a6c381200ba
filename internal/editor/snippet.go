package editor

import "strings"

// snippetPadding is the number of context lines included above and below a
// mutated region.
const snippetPadding = 4

// Snippet is a line-numbered slice of file content. Start is the 1-based
// number of the first line in Lines.
type Snippet struct {
	Start int      `json:"start"`
	Lines []string `json:"lines"`
}

// splitLines splits file content into lines. A trailing newline yields a
// trailing empty line, keeping the split lossless.
func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

// wholeSnippet returns the entire content as a Snippet.
func wholeSnippet(content string) *Snippet {
	return &Snippet{Start: 1, Lines: splitLines(content)}
}

// contextSnippet returns the lines from first through last (1-based,
// inclusive) widened by snippetPadding on both sides and clamped to the
// file.
func contextSnippet(content string, first, last int) *Snippet {
	lines := splitLines(content)

	start := first - snippetPadding
	if start < 1 {
		start = 1
	}
	end := last + snippetPadding
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return &Snippet{Start: start, Lines: nil}
	}
	return &Snippet{Start: start, Lines: lines[start-1 : end]}
}

// lineOfIndex returns the 1-based line number containing byte index i.
func lineOfIndex(content string, i int) int {
	return strings.Count(content[:i], "\n") + 1
}
