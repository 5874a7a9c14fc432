package rag

import (
	"strings"

	"github.com/kbqa/kbqa/engine/domain"
)

const promptInstruction = `Answer the question using ONLY the context. If you cannot, say "I don't know".`

// BuildPrompt renders the grounded prompt. Context blocks keep retriever
// order, nearest first.
func BuildPrompt(question string, contexts []domain.Context) string {
	blocks := make([]string, len(contexts))
	for i, c := range contexts {
		blocks[i] = "[source=" + c.Source() + "]\n" + c.Text
	}

	var b strings.Builder
	b.WriteString(promptInstruction)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n")
	return b.String()
}
