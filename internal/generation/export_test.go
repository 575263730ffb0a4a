package generation

// SetTokenCounter swaps the prompt token counter and returns a restore func.
func SetTokenCounter(f func(texts ...string) (int, error)) func() {
	prev := countTokens
	countTokens = f
	return func() { countTokens = prev }
}
