package command

import (
	"strings"
	"unicode"
)

// marker starts every directive token.
const marker = "[CMD:"

// Parse scans text left to right and returns every directive it contains,
// in order. Malformed markup (empty type, non-word type characters, missing
// closing bracket) is not an error; it is simply left in place as plain text.
func Parse(text string) []Directive {
	var directives []Directive
	pos := 0
	for {
		d, next, ok := nextDirective(text, pos)
		if !ok {
			return directives
		}
		directives = append(directives, d)
		pos = next
	}
}

// Strip removes every directive span from text, collapses runs of two or
// more whitespace characters into a single space and trims the result.
// Stripping already-stripped text returns it unchanged.
func Strip(text string) string {
	var b strings.Builder
	pos := 0
	for {
		d, next, ok := nextDirective(text, pos)
		if !ok {
			b.WriteString(text[pos:])
			break
		}
		start := next - len(d.Raw)
		b.WriteString(text[pos:start])
		pos = next
	}
	return strings.TrimSpace(collapseWhitespace(b.String()))
}

// nextDirective finds the first well-formed directive at or after pos.
// Returns the directive, the offset just past it, and whether one was found.
func nextDirective(text string, pos int) (Directive, int, bool) {
	for pos < len(text) {
		idx := strings.Index(text[pos:], marker)
		if idx < 0 {
			return Directive{}, 0, false
		}
		start := pos + idx
		if d, end, ok := matchAt(text, start); ok {
			return d, end, true
		}
		// Not a valid token; keep scanning past this marker occurrence.
		pos = start + 1
	}
	return Directive{}, 0, false
}

// matchAt attempts to read a full directive starting at start, which must
// point at a marker occurrence. The grammar is [CMD:<type>] or
// [CMD:<type>:<argument>] where <type> is one or more word characters and
// <argument> is any run of characters excluding ']'.
func matchAt(text string, start int) (Directive, int, bool) {
	i := start + len(marker)

	typeStart := i
	for i < len(text) && isWordChar(text[i]) {
		i++
	}
	if i == typeStart {
		return Directive{}, 0, false
	}
	typ := text[typeStart:i]

	if i >= len(text) {
		return Directive{}, 0, false
	}

	switch text[i] {
	case ']':
		return Directive{Type: typ, Arg: "", Raw: text[start : i+1]}, i + 1, true
	case ':':
		argStart := i + 1
		j := strings.IndexByte(text[argStart:], ']')
		if j < 0 {
			return Directive{}, 0, false
		}
		end := argStart + j + 1
		return Directive{Type: typ, Arg: text[argStart : argStart+j], Raw: text[start:end]}, end, true
	default:
		return Directive{}, 0, false
	}
}

// isWordChar matches ASCII word characters only. Bytes of multibyte UTF-8
// sequences must not match, or markup like [CMD:µ] would parse as a token
// instead of staying plain text.
func isWordChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

// collapseWhitespace replaces every run of two or more whitespace characters
// with a single space. Single whitespace characters pass through untouched,
// which makes the operation idempotent.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var run []rune
	for _, r := range s {
		if unicode.IsSpace(r) {
			run = append(run, r)
			continue
		}
		flushRun(&b, run)
		run = run[:0]
		b.WriteRune(r)
	}
	flushRun(&b, run)
	return b.String()
}

func flushRun(b *strings.Builder, run []rune) {
	switch len(run) {
	case 0:
	case 1:
		b.WriteRune(run[0])
	default:
		b.WriteByte(' ')
	}
}
