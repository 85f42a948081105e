package llm

import "strings"

// ExceedsContext reports whether prompt certainly cannot fit in a context of
// nCtx tokens when offset positions are already used. Every whitespace
// separated word costs at least one token, so the word count is a lower bound
// on the token count. A non-positive nCtx disables the check.
func ExceedsContext(offset, nCtx int, prompt string) bool {
	if nCtx <= 0 {
		return false
	}
	return offset+CountWords(prompt) > nCtx
}

func CountWords(s string) int {
	return len(strings.Fields(s))
}
