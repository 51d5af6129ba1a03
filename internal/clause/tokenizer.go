// Package clause re-segments a streamed model response into speakable units
// (clauses or sentences) so speech synthesis can start before the response is
// complete.
//
// A [Tokenizer] buffers fed fragments and emits a unit as soon as one is
// fully determined by the text seen so far. The units produced for a given
// text do not depend on how that text was split into fragments.
package clause

import "strings"

// MinWords is the number of words the candidate window must hold before a
// clause break is considered. A clause break also needs MinWords/2 words in
// front of it.
const MinWords = 8

var sentenceBreaks = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

var clauseBreaks = []string{", and ", ", but ", ", so ", ", yet ", ", or ", "; ", "— ", " - ", "... "}

var abbreviations = map[string]struct{}{
	"mr.": {}, "mrs.": {}, "ms.": {}, "dr.": {}, "prof.": {},
	"sr.": {}, "jr.": {}, "st.": {}, "vs.": {}, "etc.": {},
	"i.e.": {}, "e.g.": {}, "no.": {}, "vol.": {},
}

// Tokenizer is an incremental clause/sentence segmenter. It is not safe for
// concurrent use; one producer feeds one Tokenizer per response stream.
type Tokenizer struct {
	buf strings.Builder
}

// New returns an empty Tokenizer.
func New() *Tokenizer {
	return &Tokenizer{}
}

// Feed appends fragment to the buffer and returns every unit that became
// complete, in order. The returned slice is nil when nothing is ready.
func (t *Tokenizer) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	t.buf.WriteString(fragment)

	var units []string
	for {
		unit, ok := t.next()
		if !ok {
			return units
		}
		if unit != "" {
			units = append(units, unit)
		}
	}
}

// Flush returns the trimmed remainder of the buffer and clears it. ok is
// false when nothing but whitespace remained. Call once at end of stream.
func (t *Tokenizer) Flush() (unit string, ok bool) {
	rest := strings.TrimSpace(t.buf.String())
	t.buf.Reset()
	return rest, rest != ""
}

// Pending returns the buffered text that has not been emitted yet.
func (t *Tokenizer) Pending() string {
	return t.buf.String()
}

// next extracts at most one unit from the buffer. The prefix is removed in
// the same step it is returned.
func (t *Tokenizer) next() (string, bool) {
	s := t.buf.String()
	end := cutPoint(s)
	if end < 0 {
		return "", false
	}
	unit := strings.TrimSpace(s[:end])
	rest := s[end:]
	t.buf.Reset()
	t.buf.WriteString(rest)
	return unit, true
}

// cutPoint returns the end offset (exclusive) of the next unit in s, or -1
// when the text seen so far does not determine one yet.
//
// The earliest valid sentence break S bounds the candidate window. When the
// window holds at least MinWords words, the earliest clause break that starts
// before S and has MinWords/2 words ahead of it wins; otherwise S does. Every
// input to this decision is fixed once the window's text has arrived, which
// keeps segmentation independent of fragment boundaries.
func cutPoint(s string) int {
	sStart, sEnd := sentenceBreak(s)

	window := s
	limit := len(s)
	if sEnd >= 0 {
		window = s[:sEnd]
		limit = sStart
	}

	if countWords(window) >= MinWords {
		if end := clauseBreak(s, limit); end >= 0 {
			return end
		}
	}
	return sEnd
}

// sentenceBreak finds the earliest sentence terminator not preceded by a
// known abbreviation. It returns the terminator's start and end offsets, or
// (-1, -1).
func sentenceBreak(s string) (start, end int) {
	start, end = -1, -1
	for _, term := range sentenceBreaks {
		from := 0
		for {
			i := strings.Index(s[from:], term)
			if i < 0 {
				break
			}
			i += from
			if start >= 0 && i >= start {
				break
			}
			if !(term[0] == '.' && endsWithAbbreviation(s[:i+1])) {
				start, end = i, i+len(term)
				break
			}
			from = i + 1
		}
	}
	return start, end
}

// clauseBreak finds the earliest clause terminator starting before limit that
// has at least MinWords/2 words in front of it. It returns the terminator's
// end offset, or -1.
func clauseBreak(s string, limit int) int {
	bestStart, bestEnd := -1, -1
	for _, term := range clauseBreaks {
		from := 0
		for {
			i := strings.Index(s[from:], term)
			if i < 0 || i+from >= limit {
				break
			}
			i += from
			if bestStart >= 0 && i >= bestStart {
				break
			}
			if countWords(s[:i]) >= MinWords/2 {
				bestStart, bestEnd = i, i+len(term)
				break
			}
			from = i + 1
		}
	}
	return bestEnd
}

// endsWithAbbreviation reports whether the last word of s (which ends with
// the candidate period) is a known abbreviation such as "Dr." or "e.g.".
func endsWithAbbreviation(s string) bool {
	word := s[strings.LastIndexAny(s, " \t\r\n")+1:]
	word = strings.TrimLeft(word, "\"'([{")
	_, ok := abbreviations[strings.ToLower(word)]
	return ok
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
