package generation

import (
	"fmt"
	"strings"

	"docrag/internal/retrieval"
)

const contextDelimiter = "\n\n---\n\n"

const systemPrompt = "You are a factual assistant.\n" +
	"Use ONLY the provided context.\n" +
	"Respond with clear, factual statements grounded in the context.\n" +
	"Cite sources using [1], [2], etc.\n" +
	"If some parts of the question are not supported by the context, " +
	"simply omit them or end the answer naturally.\n" +
	"Do NOT explain what you do not know.\n" +
	"Do NOT list missing information.\n" +
	"Do NOT mention limitations or lack of knowledge explicitly.\n"

// BuildContext numbers each result from 1 in the order given.
func BuildContext(results []retrieval.Result) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		src := r.Metadata.SourceFile
		if src == "" {
			src = "unknown"
		}
		header := fmt.Sprintf("[%d] source=%s", i+1, src)
		if r.Metadata.Page != nil {
			header += fmt.Sprintf(", page=%d", *r.Metadata.Page)
		}
		blocks = append(blocks, header+"\n"+r.Text)
	}
	return strings.Join(blocks, contextDelimiter)
}

func UserPrompt(question, context string) string {
	return fmt.Sprintf("Question:\n%s\n\nContext:\n%s\n\nAnswer:", question, context)
}
