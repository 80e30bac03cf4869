// Package tags strips inline formatting markup from chat text. A tag has the
// shape
//
//	[<kind>/<options>:<payload>]
//
// where <kind> is 1-10 letters from the tag alphabet, "/<options>" is an
// optional run of characters not containing ':', and <payload> is the text
// the tag decorates. Brackets preceded by a backslash are escaped and never
// open or close a tag; the backslash is kept in the output.
//
// Stripping replaces the leftmost tag with its payload and rescans from the
// start, so nested tags inside a payload are removed on later passes.
// Malformed or unterminated markup simply never matches and is left intact.
//
// Go's regexp package cannot express the grammar (it needs negative
// lookbehind for the escape rule), so the matcher is a hand-rolled scanner
// over the raw bytes. All grammar-significant characters are ASCII, which
// makes byte indexing safe in the presence of multi-byte payload text.
package tags

const maxKindLen = 10

// isKindLetter reports whether b belongs to the tag-kind alphabet.
// The host protocol only defines achievement and color tags.
func isKindLetter(b byte) bool {
	return b == 'a' || b == 'c'
}

// span marks one matched tag and its payload within a string.
type span struct {
	start, end             int // whole tag, [start:end)
	payloadStart, payloadEnd int
}

// findTag returns the leftmost tag match in s, if any.
func findTag(s string) (span, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue // escaped opening bracket
		}

		// Tag kind: 1-10 letters from the alphabet.
		k := i + 1
		for k < len(s) && k-i-1 < maxKindLen && isKindLetter(s[k]) {
			k++
		}
		if k == i+1 {
			continue
		}

		// Optional "/options" run; options may not contain ':'.
		m := k
		if m < len(s) && s[m] == '/' {
			m++
			o := m
			for m < len(s) && s[m] != ':' {
				m++
			}
			if m == o {
				continue // empty options
			}
		}
		if m >= len(s) || s[m] != ':' {
			continue
		}

		// Payload: at least one character, up to the first unescaped ']'.
		p := m + 1
		for q := p + 1; q < len(s); q++ {
			if s[q] == ']' && s[q-1] != '\\' {
				return span{start: i, end: q + 1, payloadStart: p, payloadEnd: q}, true
			}
		}
		// No closing bracket: this opener can never match, keep scanning.
	}
	return span{}, false
}

// Strip removes all markup tags from text, leaving only their payloads.
// Escaped brackets are passed through untouched, backslash included.
func Strip(text string) string {
	for {
		m, ok := findTag(text)
		if !ok {
			return text
		}
		next := text[:m.start] + text[m.payloadStart:m.payloadEnd] + text[m.end:]
		if len(next) >= len(text) {
			// Cannot happen with the grammar above, but a replacement that
			// fails to shorten the text would loop forever.
			return text
		}
		text = next
	}
}
