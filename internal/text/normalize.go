// Package text normalizes job text before it is handed to the model.
//
// The model phonemizes text itself for every supported language, so the
// normalizer stays language neutral: it only repairs whitespace, dashes and
// runaway punctuation that make the model stall or read symbols aloud.
package text

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for text normalization.
const (
	whitespaceRegexPattern  = `\s+`
	punctuationRegexPattern = `([!?.,;:])[!?.,;:]{2,}`
	spaceBeforePunctPattern = `\s+([!?.,;:])`
)

// Punctuation and formatting constants.
const (
	emDash         = "—"
	enDash         = "–"
	figureDash     = "‒"
	ellipsis       = "..."
	ellipsisChar   = "…"
	carriageReturn = "\r\n"
	lineFeed       = "\n"
	tabChar        = "\t"
)

var (
	// ErrTextEmpty indicates that nothing speakable is left after normalization.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrTextInvalidUTF8 indicates that the text is not valid UTF-8.
	ErrTextInvalidUTF8 = errors.New("text must be valid UTF-8")
	// ErrTextTooLong indicates that the text exceeds the configured rune limit.
	ErrTextTooLong = errors.New("text is too long")
)

// Normalizer cleans text for synthesis.
type Normalizer struct {
	whitespacePattern       *regexp.Regexp
	punctuationPattern      *regexp.Regexp
	spaceBeforePunctPattern *regexp.Regexp
	dashReplacer            *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern:       regexp.MustCompile(whitespaceRegexPattern),
		punctuationPattern:      regexp.MustCompile(punctuationRegexPattern),
		spaceBeforePunctPattern: regexp.MustCompile(spaceBeforePunctPattern),
		dashReplacer: strings.NewReplacer(
			carriageReturn, lineFeed,
			tabChar, " ",
			emDash, ", ",
			enDash, ", ",
			figureDash, ", ",
			ellipsisChar, ellipsis,
		),
	}
}

// Normalize returns the cleaned form of text.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	cleaned := n.dashReplacer.Replace(text)
	cleaned = stripControl(cleaned)
	cleaned = n.whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = n.spaceBeforePunctPattern.ReplaceAllString(cleaned, "$1")
	cleaned = n.collapsePunctuation(cleaned)

	return strings.TrimSpace(cleaned)
}

// Prepare normalizes valid UTF-8 text and checks the result against maxRunes.
func (n *Normalizer) Prepare(text string, maxRunes int) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrTextInvalidUTF8
	}

	normalized := n.Normalize(text)

	err := n.Validate(normalized, maxRunes)
	if err != nil {
		return "", err
	}

	return normalized, nil
}

// Validate checks normalized text against the rune limit. A maxRunes of zero
// disables the limit.
func (n *Normalizer) Validate(text string, maxRunes int) error {
	if !utf8.ValidString(text) {
		return ErrTextInvalidUTF8
	}

	if strings.TrimSpace(text) == "" {
		return ErrTextEmpty
	}

	count := utf8.RuneCountInString(text)
	if maxRunes > 0 && count > maxRunes {
		return fmt.Errorf("%w: %d runes, limit %d", ErrTextTooLong, count, maxRunes)
	}

	return nil
}

// collapsePunctuation keeps ellipses intact and squashes other runs like "!!!?".
func (n *Normalizer) collapsePunctuation(text string) string {
	return n.punctuationPattern.ReplaceAllStringFunc(text, func(run string) string {
		if strings.Trim(run, ".") == "" {
			return ellipsis
		}

		return run[:1]
	})
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}

		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, text)
}
