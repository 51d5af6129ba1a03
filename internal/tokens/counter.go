// Package tokens counts prompt tokens with the tiktoken encodings so
// prompt size can be reported alongside each assembled prompt.
package tokens

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens for one model. It is safe for concurrent use.
type Counter struct {
	model string
	codec tokenizer.Codec
}

// NewCounter returns a Counter for model. Models the tokenizer does not know
// use the encoding of their family, and o200k_base when nothing matches.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model)))
	if err != nil {
		codec, err = tokenizer.Get(encodingFor(model))
		if err != nil {
			return nil, fmt.Errorf("tokens: load encoding for %q: %w", model, err)
		}
	}
	return &Counter{model: model, codec: codec}, nil
}

// Model returns the model name the counter was built for.
func (c *Counter) Model() string { return c.model }

// Count returns the number of tokens in text, or 0 if it cannot be encoded.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// encodingFor maps a model name to its tiktoken encoding.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
