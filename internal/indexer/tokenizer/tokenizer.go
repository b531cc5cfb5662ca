// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input, splits on everything but letters, digits and
// apostrophes, strips apostrophes that do not sit between two word
// characters, removes stop-words and short tokens, and optionally applies
// the Snowball English stemmer.
//
// The same Tokenizer value must serve both indexing and querying; terms
// produced under different settings do not match.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
)

// ErrInputTooLarge is returned for text longer than Config.MaxInputBytes.
var ErrInputTooLarge = errors.New("tokenizer input too large")

// DefaultStopWords is used when the configuration names none.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can",
}

// Tokenizer normalizes text into index terms. It is immutable and safe for
// concurrent use.
type Tokenizer struct {
	stopWords     map[string]struct{}
	minLength     int
	maxInputBytes int
	stem          bool
}

// New builds a Tokenizer from configuration.
func New(cfg config.TokenizerConfig) *Tokenizer {
	words := cfg.StopWords
	if len(words) == 0 {
		words = DefaultStopWords
	}
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[strings.ToLower(w)] = struct{}{}
	}
	minLength := cfg.MinLength
	if minLength < 1 {
		minLength = 2
	}
	return &Tokenizer{
		stopWords:     stop,
		minLength:     minLength,
		maxInputBytes: cfg.MaxInputBytes,
		stem:          cfg.Stemmer == "snowball",
	}
}

// Tokenize breaks text into its ordered sequence of terms, repeats included.
func (t *Tokenizer) Tokenize(text string) ([]string, error) {
	if t.maxInputBytes > 0 && len(text) > t.maxInputBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInputTooLarge, len(text), t.maxInputBytes)
	}
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r) && r != '\''
	})
	terms := make([]string, 0, len(words))
	for _, word := range words {
		for _, part := range splitApostrophes(word) {
			if _, isStop := t.stopWords[part]; isStop {
				continue
			}
			if t.stem {
				part = english.Stem(part, false)
			}
			if len([]rune(part)) < t.minLength {
				continue
			}
			terms = append(terms, part)
		}
	}
	return terms, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// splitApostrophes keeps apostrophes only where both neighbours are word
// characters: "'tis" -> "tis", "o''clock" -> "o", "clock", "don't" -> "don't".
func splitApostrophes(word string) []string {
	runes := []rune(word)
	var parts []string
	start := -1
	for i, r := range runes {
		internal := r == '\'' && i > 0 && i < len(runes)-1 &&
			isWordRune(runes[i-1]) && isWordRune(runes[i+1])
		if isWordRune(r) || internal {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			parts = append(parts, string(runes[start:i]))
			start = -1
		}
	}
	if start >= 0 {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}
