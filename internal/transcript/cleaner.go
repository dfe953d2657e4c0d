// Package transcript provides cleaning, validation, and fingerprinting of
// raw consultation transcripts before they are handed to the SOAP generation
// pipeline.
//
// Raw speech-to-text output is noisy: it carries hesitation fillers ("ähm",
// "euh"), uneven whitespace, and the occasional stuttered punctuation from
// partial results being stitched together. [Clean] normalises all of that
// deterministically, so the same spoken content always produces the same
// cleaned text — which in turn makes [Fingerprint] a stable idempotency key
// for duplicate-generation suppression.
//
// All functions are pure and safe for concurrent use.
package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	// MinLength is the minimum acceptable transcript length in characters
	// after cleaning and trimming.
	MinLength = 20

	// MaxLength is the maximum acceptable transcript length in characters.
	MaxLength = 100_000
)

// Validation errors returned by [ValidateLength]. Wrap them with context at
// the call site; match with errors.Is.
var (
	ErrEmpty    = errors.New("transcript is empty")
	ErrTooShort = fmt.Errorf("transcript is shorter than %d characters", MinLength)
	ErrTooLong  = fmt.Errorf("transcript is longer than %d characters", MaxLength)
)

// fillers lists hesitation tokens removed by [Clean], per language. Matching
// is whole-word and case-insensitive. The German list mirrors what the
// Deepgram nova models most commonly emit for de-DE consultations; the French
// list covers the fr pipeline.
var fillers = map[string][]string{
	"de": {"ähm", "äh", "ehm", "eh", "hm", "hmm", "uh", "uhm", "also", "naja"},
	"fr": {"euh", "heu", "hum", "ben", "bah", "hein", "quoi"},
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// repeatedTerminal matches a sentence-ending punctuation mark immediately
	// followed by one or more repetitions of the same mark, e.g. "..", "!!",
	// "? ?". Produced when overlapping partial STT results are concatenated.
	repeatedTerminal = regexp.MustCompile(`([.!?])\s*(?:[.!?])+`)
)

// fillerPattern is a single compiled whole-word pattern over all languages.
// One combined pattern keeps removal order independent of map iteration, so
// Clean stays byte-for-byte deterministic.
var fillerPattern = buildFillerPattern()

func buildFillerPattern() *regexp.Regexp {
	var quoted []string
	for _, lang := range []string{"de", "fr"} {
		for _, w := range fillers[lang] {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	// \b does not understand non-ASCII letters ("ähm"), so word boundaries
	// are expressed as letter/non-letter transitions.
	return regexp.MustCompile(`(?i)(^|[^\p{L}])(?:` + strings.Join(quoted, "|") + `)($|[^\p{L}])`)
}

// Clean normalises raw transcript text: filler words for every configured
// language are removed (whole-word, case-insensitive), whitespace runs
// collapse to single spaces, leading/trailing whitespace is trimmed, and
// immediately repeated terminal punctuation collapses to a single mark.
//
// Clean is idempotent: Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := raw
	// Replace repeatedly: adjacent fillers share boundary characters, so a
	// single pass can miss the second of "ähm äh".
	for {
		next := fillerPattern.ReplaceAllString(cleaned, "$1$2")
		if next == cleaned {
			break
		}
		cleaned = next
	}

	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = repeatedTerminal.ReplaceAllString(cleaned, "$1")

	return cleaned
}

// ValidateLength checks text against the [MinLength, MaxLength] bounds after
// trimming and returns the measured length. The error is one of [ErrEmpty],
// [ErrTooShort], or [ErrTooLong]; nil means the text is acceptable.
func ValidateLength(text string) (int, error) {
	length := len([]rune(strings.TrimSpace(text)))

	switch {
	case length == 0:
		return 0, ErrEmpty
	case length < MinLength:
		return length, fmt.Errorf("%w (got %d)", ErrTooShort, length)
	case length > MaxLength:
		return length, fmt.Errorf("%w (got %d)", ErrTooLong, length)
	}
	return length, nil
}

// Fingerprint returns a deterministic 64-bit content digest of the cleaned
// form of raw, hex-encoded. Two raw inputs that clean to the same text share
// a fingerprint, which is exactly the equality the idempotency check needs.
//
// xxhash is not collision-resistant in an adversarial sense; a collision here
// only causes a rare false idempotency hit (an existing note is returned
// instead of a regeneration), which is an accepted trade-off.
func Fingerprint(raw string) string {
	return strconv.FormatUint(xxhash.Sum64String(Clean(raw)), 16)
}

// WordCount returns the approximate number of words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// HasMeaningfulContent reports whether text still meets [MinLength] once all
// punctuation and whitespace are stripped — i.e. it is not just noise.
func HasMeaningfulContent(text string) bool {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.Len() >= MinLength
}

// Truncate shortens text to at most max characters for previews, appending an
// ellipsis when content was cut. max values below 4 fall back to 4 so the
// ellipsis always fits.
func Truncate(text string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
