package chat

import (
	"fmt"
	"strings"

	"github.com/counselhub/voice-agent/pkg/rag/store"
	"github.com/counselhub/voice-agent/pkg/rag/vectorstore"
)

// historyTurns is how many conversation turns the prompt carries. One turn
// is a user message plus the assistant reply.
const historyTurns = 4

const historyMaxEntries = historyTurns * 2

const systemTemplate = `You are a friendly sales agent at XED, an EdTech company offering executive education programs for senior professionals. You are speaking to a prospect who is exploring one of the programs, and your role is to engage them in a polite and informative conversation. All program-related answers must be accurate and strictly based on the provided knowledge base.

Program for this conversation:
Your personality:
You are a helpful and friendly sales agent. Make the conversation engaging and interesting. When users ask for program details, present the information clearly and in an easy-to-understand way.

Response rules:
- Do not greet, introduce yourself, or add personal remarks. Assume the conversation is already in progress.
- Do not invent or assume information.
- If the knowledge base does not provide the specific information requested, or the answer would be incomplete or not directly suitable for the question, you MUST:
  1) Clearly state that this specific information is not available in the knowledge base, and
  2) Append exactly this text at the END of your answer (on new lines):
To Know More about this program,
contact - Vicky Jha,
Calindy Url - https://calendly.com/
- Do not call, reference, simulate, or format text as if calling external tools, APIs, or functions.
- Respond only in plain text.
- Use the previous conversation context to provide more relevant and contextual answers.

Language, tone, and behavior:
- Use numerals for all numbers and dates, for example, 2,000 US dollars and 19 September 2025.
- Engage the prospect politely and clearly.
- Provide accurate responses grounded strictly in the knowledge base.
- Maintain the persona of a helpful sales agent at all times. Never say you are an AI.
- Present information in a way that is easy to understand and engaging.

Objective:
- Provide clear, trustworthy, and accurate responses about the program based strictly on the knowledge base while maintaining a friendly and helpful sales persona.

Knowledge base (retrieved chunks, ranked by relevance):
%s

Previous conversation (latest 4 turns only):
%s`

type historyEntry struct {
	role    string // "user" or "assistant"
	content string
}

// historyFromMessages flattens stored exchanges into alternating entries.
func historyFromMessages(msgs []store.ChatMessage) []historyEntry {
	out := make([]historyEntry, 0, len(msgs)*2)
	for _, m := range msgs {
		out = append(out,
			historyEntry{role: "user", content: m.Question},
			historyEntry{role: "assistant", content: m.Answer},
		)
	}
	return out
}

// takeLatestHistory keeps only the newest entries within the turn window.
func takeLatestHistory(history []historyEntry) []historyEntry {
	if len(history) <= historyMaxEntries {
		return history
	}
	return history[len(history)-historyMaxEntries:]
}

func formatHistory(history []historyEntry) string {
	if len(history) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		if h.role == "user" {
			lines = append(lines, "User: "+h.content)
		} else {
			lines = append(lines, "Assistant: "+h.content)
		}
	}
	return strings.Join(lines, "\n")
}

// chunksToContext renders ranked chunks into the prompt context block.
func chunksToContext(chunks []vectorstore.Chunk) string {
	if len(chunks) == 0 {
		return "(no relevant context)"
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		var b strings.Builder
		fmt.Fprintf(&b, "[Rank %d, score: %.4f] ", i+1, c.Score)
		if c.HasIndex {
			fmt.Fprintf(&b, "(chunk %d) ", c.ChunkIndex)
		}
		b.WriteString(c.Text)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

func buildSystemPrompt(chunks []vectorstore.Chunk, history []historyEntry) string {
	return fmt.Sprintf(systemTemplate, chunksToContext(chunks), formatHistory(history))
}
