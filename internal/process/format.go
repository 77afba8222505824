package process

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FormatCommand renders a program and its arguments on one line for
// logs. Each maximal invalid UTF-8 subsequence is replaced with one
// U+FFFD.
// Arguments containing whitespace are wrapped in double quotes without
// any escaping, so the output is not safe to feed back to a shell.
func FormatCommand(binary string, args []string) string {
	var b strings.Builder
	b.WriteString(lossy(binary))
	for _, arg := range args {
		writeArgument(&b, arg)
	}
	return b.String()
}

func writeArgument(b *strings.Builder, arg string) {
	b.WriteByte(' ')
	text := lossy(arg)
	quote := strings.IndexFunc(text, unicode.IsSpace) >= 0
	if quote {
		b.WriteByte('"')
	}
	b.WriteString(text)
	if quote {
		b.WriteByte('"')
	}
}

// lossy returns s with one utf8.RuneError substituted for each maximal
// subpart of an ill-formed sequence: a truncated multibyte encoding
// becomes a single replacement, a stray byte becomes one on its own.
func lossy(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r != utf8.RuneError || size > 1 {
			b.WriteString(s[i : i+size])
			i += size
			continue
		}
		b.WriteRune(utf8.RuneError)
		i += invalidPrefix(s[i:])
	}
	return b.String()
}

// invalidPrefix returns the length of the ill-formed sequence at the
// start of s: the lead byte plus any continuation bytes that are still
// a valid prefix for it.
func invalidPrefix(s string) int {
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch lead := s[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 1
	case lead == 0xE0:
		need, lo = 2, 0xA0
	case lead == 0xED:
		need, hi = 2, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 2
	case lead == 0xF0:
		need, lo = 3, 0x90
	case lead == 0xF4:
		need, hi = 3, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(s) {
		if c := s[n]; c < lo || c > hi {
			break
		}
		n++
		lo, hi = 0x80, 0xBF
	}
	return n
}
