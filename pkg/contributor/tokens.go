package contributor

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for a named model, falling back to a
// char/4 approximation when no tokenizer codec is available for that
// model (e.g. a local Ollama model with no published tokenizer).
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter resolves a tiktoken codec for modelName. If none is
// registered, the returned counter silently uses the char/4 fallback.
func NewTokenCounter(modelName string) *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the token count for text, using the resolved codec when
// available.
func (t *TokenCounter) Count(text string) int {
	if t.codec == nil {
		return CountTokensSimple(text)
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return CountTokensSimple(text)
	}
	return len(ids)
}

// CountTokensSimple approximates token count as one token per four
// characters, the standard rough estimate when no real tokenizer is
// available for a model.
func CountTokensSimple(text string) int {
	return (len(text) + 3) / 4
}
