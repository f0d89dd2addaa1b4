package prompt

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a close enough approximation
// for every provider we talk to.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text, or 0 when
// the tokenizer is unavailable.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return 0
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}
