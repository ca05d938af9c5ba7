package chat

import (
	"fmt"
	"strings"

	"github.com/tenantbot/backend/internal/cache/redis"
	"github.com/tenantbot/backend/internal/vector/milvus"
)

const systemPrompt = `You are a helpful assistant answering questions for a single organization.
Answer using ONLY the provided context passages. If the context does not contain the answer, say you don't know.
Keep answers concise and cite the source name when it helps the user.`

// buildUserPrompt assembles the retrieved passages and recent history
// around the query. History is rendered oldest first so the model reads
// the conversation in order.
func buildUserPrompt(query string, relevant []milvus.SearchResult, history []redis.Turn) string {
	var b strings.Builder

	if len(relevant) == 0 {
		b.WriteString("No context passages were retrieved for this question.\n\n")
	} else {
		b.WriteString("Context passages:\n\n")
		for i, r := range relevant {
			fmt.Fprintf(&b, "[%d] (source: %s)\n%s\n\n", i+1, r.SourceName, r.Text)
		}
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			label := "User"
			if turn.Role == "assistant" {
				label = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)

	return b.String()
}
