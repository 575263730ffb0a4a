package generation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

var countTokens = CountTokens

// CountTokens estimates prompt size with the cl100k_base encoding. The
// count is approximate for Llama models and only used for logging.
func CountTokens(texts ...string) (int, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encErr != nil {
		return 0, encErr
	}

	total := 0
	for _, t := range texts {
		total += len(enc.Encode(t, nil, nil))
	}
	return total, nil
}
