package orchestrator

import (
	"regexp"
	"strings"

	"agora/internal/domain"
)

// MemoryReader is the read side of the memory store contract. It must fail
// soft: implementations return empty slices instead of errors, and an
// empty agentName targets the group bucket.
type MemoryReader interface {
	LoadRecentQA(agentName string, limit int) []domain.QARecord
}

// Context-injection bounds: how far back to look and how many exchanges
// to keep per block.
const (
	memoryLookback = 10
	memoryKeep     = 3
)

// leadingAgentNameRE matches a stored-question artifact like
// "AgentName: " or "AgentName - " at the start of a question.
var leadingAgentNameRE = regexp.MustCompile(`^[A-Za-z0-9_\- ]{1,100}\s*[:\-, ]\s*`)

// StripLeadingAgentName removes a leading "AgentName:" routing artifact
// from a stored question before display.
func StripLeadingAgentName(q string) string {
	return leadingAgentNameRE.ReplaceAllString(q, "")
}

// IsErrorText reports whether s looks like a failed-call artifact. Such
// text must never be fed back into future prompts.
func IsErrorText(s string) bool {
	if s == "" {
		return false
	}
	low := strings.ToLower(s)
	return strings.HasPrefix(low, "(error") ||
		strings.Contains(low, "timed out") ||
		strings.Contains(low, "timeout") ||
		strings.Contains(low, "request error")
}

// BuildPrompt composes the literal prompt for one agent, prefixing recent
// memory context when enabled. targetAgent is empty for broadcasts. Any
// trouble reading memory degrades to the plain query.
func BuildPrompt(query, agentName string, store MemoryReader, useMemory, useGroupMemory bool, targetAgent string) string {
	prompt := query
	if !useMemory || store == nil {
		return prompt
	}

	if block := contextBlock(store, agentName); block != "" {
		prompt = "[Agent recent context: " + block + "]\n\n" + prompt
	}

	// Group context for broadcasts, or when explicitly enabled.
	if targetAgent == "" || useGroupMemory {
		if block := contextBlock(store, ""); block != "" {
			prompt = "[Group recent context: " + block + "]\n\n" + prompt
		}
	}
	return prompt
}

// contextBlock formats the usable recent exchanges for one memory key.
func contextBlock(store MemoryReader, agentName string) string {
	rows := store.LoadRecentQA(agentName, memoryLookback)
	formatted := make([]string, 0, memoryKeep)
	for _, row := range rows {
		if row.Answer == "" || IsErrorText(row.Answer) {
			continue
		}
		formatted = append(formatted, "Q: "+StripLeadingAgentName(row.Question)+" A: "+row.Answer)
		if len(formatted) == memoryKeep {
			break
		}
	}
	return strings.Join(formatted, " | ")
}
