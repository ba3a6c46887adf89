// Package text splits input documents into chunks the speech API accepts.
//
// Lengths are counted in characters (runes), not bytes. A chunk is cut at the
// strongest boundary found inside the size window: a paragraph break, then
// the end of a sentence, then any whitespace, and only as a last resort in
// the middle of a word.
package text

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/text-to-speech/internal/core"
)

// Line ending forms folded into a single line feed before splitting.
const (
	carriageReturnLineFeed = "\r\n"
	carriageReturn         = "\r"
	lineFeed               = "\n"
)

// Error message format string constants.
const (
	errFmtInvalidUTF8   = "%w: input is not valid UTF-8"
	errFmtInvalidLimit  = "%w: chunk size must be positive, got %d"
	paragraphBreakRunes = 2
)

// Split breaks content into ordered chunks of at most maxChars characters.
// Every chunk is trimmed and non-empty; blank input yields an empty slice.
func Split(content string, maxChars int) ([]string, error) {
	if maxChars < 1 {
		return nil, fmt.Errorf(errFmtInvalidLimit, core.ErrChunking, maxChars)
	}

	if !utf8.ValidString(content) {
		return nil, fmt.Errorf(errFmtInvalidUTF8, core.ErrChunking)
	}

	remaining := trimRunes([]rune(normalizeLineEndings(content)))
	chunks := make([]string, 0, len(remaining)/maxChars+1)

	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			chunks = append(chunks, string(remaining))

			break
		}

		cut := findCut(remaining, maxChars)

		chunk := trimRunes(remaining[:cut])
		if len(chunk) > 0 {
			chunks = append(chunks, string(chunk))
		}

		remaining = trimRunes(remaining[cut:])
	}

	return chunks, nil
}

func normalizeLineEndings(content string) string {
	content = strings.ReplaceAll(content, carriageReturnLineFeed, lineFeed)

	return strings.ReplaceAll(content, carriageReturn, lineFeed)
}

// findCut returns the length of the next chunk. text is trimmed and longer
// than limit, so the result is always in [1, limit].
func findCut(text []rune, limit int) int {
	if cut := lastParagraphBreak(text, limit); cut > 0 {
		return cut
	}

	if cut := lastSentenceEnd(text, limit); cut > 0 {
		return cut
	}

	if cut := lastWhitespace(text, limit); cut > 0 {
		return cut
	}

	return limit
}

func lastParagraphBreak(text []rune, limit int) int {
	for i := limit - paragraphBreakRunes; i > 0; i-- {
		if text[i] == '\n' && text[i+1] == '\n' {
			return i
		}
	}

	return 0
}

// lastSentenceEnd finds a terminator followed by whitespace. The whitespace
// may sit just past the window since it is trimmed away anyway.
func lastSentenceEnd(text []rune, limit int) int {
	for i := limit - 1; i > 0; i-- {
		if isSentenceTerminator(text[i]) && unicode.IsSpace(text[i+1]) {
			return i + 1
		}
	}

	return 0
}

func lastWhitespace(text []rune, limit int) int {
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(text[i]) {
			return i
		}
	}

	return 0
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	default:
		return false
	}
}

func trimRunes(text []rune) []rune {
	start := 0
	for start < len(text) && unicode.IsSpace(text[start]) {
		start++
	}

	end := len(text)
	for end > start && unicode.IsSpace(text[end-1]) {
		end--
	}

	return text[start:end]
}
