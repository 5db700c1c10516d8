package config

import (
	"encoding/json"
	"fmt"
	"os"

	"agora/internal/domain"
)

// AgentDef is one agent entry in the agents document. The persona may
// appear under either "personality" (legacy) or "persona".
type AgentDef struct {
	Name        string `json:"name"`
	Server      string `json:"server"` // server reference or literal URL
	Model       string `json:"model"`
	Personality string `json:"personality,omitempty"`
	PersonaText string `json:"persona,omitempty"`
}

// Persona resolves the personality/persona alias once, preferring the
// legacy "personality" field when both are present.
func (d AgentDef) Persona() string {
	if d.Personality != "" {
		return d.Personality
	}
	return d.PersonaText
}

// AgentsDocument is the on-disk agents configuration.
type AgentsDocument struct {
	Servers      map[string]string          `json:"servers"`
	AgentStyles  map[string]json.RawMessage `json:"agent_styles"`
	Agents       []AgentDef                 `json:"agents"`
	UseModerator bool                       `json:"use_moderator"`
	Moderator    *AgentDef                  `json:"moderator,omitempty"`
}

// ResolveHost maps a server reference through the servers table,
// falling back to the reference itself (a literal URL).
func (doc *AgentsDocument) ResolveHost(ref string) string {
	if url, ok := doc.Servers[ref]; ok {
		return url
	}
	return ref
}

// LoadAgentsFile reads and parses the JSON agents document.
// Unlike memory and agent-call failures, this error is surfaced hard:
// an orchestrator cannot run without at least one agent.
func LoadAgentsFile(path string) (*AgentsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfigLoad, path, err)
	}
	var doc AgentsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfigLoad, path, err)
	}
	return &doc, nil
}

// SaveAgentsFile writes the agents document as indented JSON.
func SaveAgentsFile(path string, doc *AgentsDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agents document: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write agents document: %w", err)
	}
	return nil
}

// ServerNameFor reverse-maps a host URL to its server name, returning the
// host itself when no server entry matches.
func (doc *AgentsDocument) ServerNameFor(host string) string {
	for name, url := range doc.Servers {
		if url == host {
			return name
		}
	}
	return host
}
