// Package header decodes RFC 2047 encoded-word header values.
//
// Decoding is best effort: Decode never fails and returns its input
// unchanged wherever a word cannot be decoded.
package header

import (
	"encoding/base64"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Decode unfolds a header value and replaces every encoded-word with its
// decoded text. Words missing their leading '=' are decoded in a second
// pass. The charset label is read but payloads are always interpreted as
// UTF-8, with invalid sequences replaced.
func Decode(raw string) string {
	s := unfold(raw)
	s = collapseAdjacent(s)
	s = replaceWords(s, true)
	return replaceWords(s, false)
}

func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "")
	return strings.ReplaceAll(s, "\n", "")
}

// collapseAdjacent rewrites "?=<ws>=?" to "?==?" so that whitespace between
// two encoded-words disappears once both are decoded.
func collapseAdjacent(s string) string {
	if !strings.Contains(s, "?=") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "?=") {
			j := i + 2
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j > i+2 && strings.HasPrefix(s[j:], "=?") {
				b.WriteString("?==?")
				i = j + 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', '\v':
		return true
	}
	return false
}

// word is one encoded-word found by scanWord. start and end delimit the
// whole token in the scanned string.
type word struct {
	start, end int
	encoding   byte
	data       string
}

// scanWord tries to read an encoded-word beginning at s[i].
//
// Strict words look like =?charset?Q?data?=. Relaxed words drop the
// leading '=' and forbid spaces inside the charset and data.
func scanWord(s string, i int, strict bool) (word, bool) {
	p := i
	if strict {
		if !strings.HasPrefix(s[p:], "=?") {
			return word{}, false
		}
		p += 2
	} else {
		if s[p] != '?' {
			return word{}, false
		}
		p++
	}

	cs := p
	for p < len(s) && s[p] != '?' && (strict || s[p] != ' ') {
		p++
	}
	if p == cs || p+3 > len(s) || s[p] != '?' {
		return word{}, false
	}
	enc := s[p+1] | 0x20
	if (enc != 'q' && enc != 'b') || s[p+2] != '?' {
		return word{}, false
	}
	p += 3

	ds := p
	for p < len(s) && s[p] != '?' && (strict || s[p] != ' ') {
		p++
	}
	if p+1 >= len(s) || s[p] != '?' || s[p+1] != '=' {
		return word{}, false
	}
	return word{start: i, end: p + 2, encoding: enc, data: s[ds:p]}, true
}

func replaceWords(s string, strict bool) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(s); {
		w, ok := scanWord(s, i, strict)
		if !ok {
			i++
			continue
		}
		text, ok := decodeWord(w)
		if ok {
			b.WriteString(s[last:w.start])
			b.WriteString(text)
			last = w.end
		}
		i = w.end
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func decodeWord(w word) (string, bool) {
	switch w.encoding {
	case 'q':
		return lossyUTF8(decodeQ(strings.ReplaceAll(w.data, "_", " "))), true
	case 'b':
		raw, err := base64.StdEncoding.DecodeString(w.data)
		if err != nil {
			return "", false
		}
		return lossyUTF8(raw), true
	}
	return "", false
}

// decodeQ decodes quoted-printable text leniently: "=XX" becomes the byte
// 0xXX, any other '=' sequence is copied through as is.
func decodeQ(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func lossyUTF8(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
