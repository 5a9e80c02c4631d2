// Package tokenizer provides the analyzer applied to text fields. It
// lower-cases input and splits on whitespace; query strings and stored text
// pass through the exact same pipeline so token comparisons are symmetric.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into a slice of case-folded Tokens.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     strings.ToLower(word),
			Position: pos,
		})
	}
	return tokens
}

// Terms returns just the normalised terms of the tokenized text.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}
