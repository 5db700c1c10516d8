package orchestrator

import (
	"agora/internal/domain"
	"agora/internal/infra/config"
)

// LoadConfig populates the registry and moderator from the JSON agents
// document at path. This is the one hard failure surface: an orchestrator
// cannot run without at least one agent.
func (o *Orchestrator) LoadConfig(path string) error {
	doc, err := config.LoadAgentsFile(path)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.servers = doc.Servers
	if o.servers == nil {
		o.servers = make(map[string]string)
	}
	o.styles = doc.AgentStyles
	o.names = nil
	o.agents = make(map[string]domain.Agent)
	for _, def := range doc.Agents {
		o.addAgentLocked(domain.Agent{
			Name:    def.Name,
			Host:    doc.ResolveHost(def.Server),
			Model:   def.Model,
			Persona: def.Persona(),
		})
	}

	o.useMod = doc.UseModerator
	if doc.Moderator != nil {
		persona := doc.Moderator.Persona()
		if persona == "" {
			persona = "You are the moderator."
		}
		o.moderator = &domain.Agent{
			Name:    domain.ModeratorName,
			Host:    doc.ResolveHost(doc.Moderator.Server),
			Model:   doc.Moderator.Model,
			Persona: persona,
		}
		if o.useMod {
			o.addAgentLocked(*o.moderator)
		}
	}
	o.mu.Unlock()

	o.logger.Info("agents configuration loaded", "path", path, "agents", len(doc.Agents), "use_moderator", doc.UseModerator)
	return nil
}

// SaveConfig writes the current registry back as an agents document,
// reverse-mapping hosts to server names where possible.
func (o *Orchestrator) SaveConfig(path string) error {
	o.mu.Lock()
	doc := &config.AgentsDocument{
		Servers:      o.servers,
		AgentStyles:  o.styles,
		UseModerator: o.useMod,
	}
	for _, name := range o.names {
		if name == domain.ModeratorName {
			continue
		}
		agent := o.agents[name]
		doc.Agents = append(doc.Agents, config.AgentDef{
			Name:        agent.Name,
			Server:      doc.ServerNameFor(agent.Host),
			Model:       agent.Model,
			PersonaText: agent.Persona,
		})
	}
	if o.moderator != nil {
		doc.Moderator = &config.AgentDef{
			Name:        o.moderator.Name,
			Server:      doc.ServerNameFor(o.moderator.Host),
			Model:       o.moderator.Model,
			PersonaText: o.moderator.Persona,
		}
	}
	o.mu.Unlock()

	return config.SaveAgentsFile(path, doc)
}
