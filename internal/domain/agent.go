package domain

import "time"

// Reserved registry and memory-store keys.
const (
	// ModeratorName is the reserved agent name for the moderator entry.
	ModeratorName = "Moderator"
	// GroupKey is the memory-store bucket for broadcast-level history.
	GroupKey = "__group__"
)

// AgentStatus is the last-observed outcome for an agent.
type AgentStatus string

const (
	StatusOK      AgentStatus = "ok"
	StatusDown    AgentStatus = "down"
	StatusUnknown AgentStatus = "unknown"
)

// Agent is one callable language-model endpoint.
type Agent struct {
	Name    string // unique, doubles as routing token and memory key
	Host    string // base URL of the serving endpoint
	Model   string // model identifier sent to the endpoint
	Persona string // system-prompt fragment describing the agent's voice
}

// QARecord is one persisted question/answer exchange.
// An empty Answer marks a pending or deliberately unanswered entry; such
// rows are excluded from prompt-injection context.
type QARecord struct {
	ID        int64
	AgentName string
	Question  string
	Answer    string
	ConvID    string
	Timestamp time.Time
}
