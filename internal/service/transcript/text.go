package transcript

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"vet-scribe-service/internal/models"
)

// endsWithPhrase reports whether s ends with phrase and the phrase starts on a word
// boundary, so "bran" does not end with "ran".
func endsWithPhrase(s, phrase string) bool {
	if phrase == "" || !strings.HasSuffix(s, phrase) {
		return false
	}
	rest := s[:len(s)-len(phrase)]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(rest)
	return unicode.IsSpace(r)
}

// splitWords splits s after its first k words, keeping the original spacing of the head.
// The tail has its leading whitespace removed.
func splitWords(s string, k int) (string, string) {
	consumed := 0
	rest := s
	for w := 0; w < k; w++ {
		start := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsSpace(r) })
		if start < 0 {
			break
		}
		end := strings.IndexFunc(rest[start:], unicode.IsSpace)
		if end < 0 {
			consumed += len(rest)
			rest = ""
			break
		}
		consumed += start + end
		rest = rest[start+end:]
	}
	return s[:consumed], strings.TrimLeftFunc(s[consumed:], unicode.IsSpace)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// joinText appends addition to base with a single separating space when needed.
func joinText(base, addition string) string {
	if addition == "" {
		return base
	}
	if base == "" {
		return addition
	}
	r, _ := utf8.DecodeLastRuneInString(base)
	if unicode.IsSpace(r) {
		return base + addition
	}
	return base + " " + addition
}

// fingerprint identifies an event for duplicate-delivery detection. A provider sequence
// number wins when present; otherwise the final flag, a coarse timestamp, the text
// length and a text prefix are combined.
func fingerprint(ev models.TranscriptEvent, text string, prefix int) string {
	if ev.Sequence > 0 {
		return "seq:" + strconv.FormatUint(ev.Sequence, 10)
	}

	kind := "i"
	if ev.IsFinal {
		kind = "f"
	}

	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(coarseTimestamp(ev), 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(text)))
	b.WriteByte('|')
	b.WriteString(runePrefix(text, prefix))
	return b.String()
}

// coarseTimestamp prefers the provider's audio offset, which survives redelivery, and
// falls back to the arrival time at second granularity.
func coarseTimestamp(ev models.TranscriptEvent) int64 {
	if ev.Start > 0 {
		return ev.Start.Truncate(100 * time.Millisecond).Milliseconds()
	}
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt.Truncate(time.Second).UnixMilli()
	}
	return 0
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
