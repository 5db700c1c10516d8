package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"

	"agora/internal/domain"
	"agora/internal/infra/tracer"
)

// Generator is the agent wire-protocol client the orchestrator calls
// through. One round-trip per Generate call.
type Generator interface {
	Generate(ctx context.Context, host, model, prompt, system string) (string, error)
	Health(ctx context.Context, host string) bool
}

// MemoryStore is the persistence contract. Implementations fail soft:
// writes are dropped and reads return empty on underlying errors.
type MemoryStore interface {
	MemoryReader
	SaveQA(agentName, question, answer, convID string)
}

// Human-readable placeholder replies. Raw errors never reach the caller.
const (
	msgCooldown    = "(Agent temporarily unavailable)"
	msgUnavailable = "(Agent unavailable)"
	msgNoResponse  = "(No response)"
)

// maxAttempts is the total number of tries per agent call.
const maxAttempts = 2

// Default tuning, overridable via Options.
const (
	defaultFailureThreshold = 2
	defaultCooldown         = 30 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultChainedTimeout   = 60 * time.Second
	defaultRetryDelay       = time.Second
)

// Options tunes an Orchestrator.
type Options struct {
	UseMemory          bool
	UseGroupMemory     bool
	UseDelegation      bool
	UsePrimaryRephrase bool
	FailureThreshold   uint32        // consecutive failures before cooldown
	Cooldown           time.Duration // how long a tripped agent is skipped
	RequestTimeout     time.Duration // primary, rephrase, and moderator calls
	ChainedTimeout     time.Duration // delegated calls get longer
	RetryDelay         time.Duration // fixed delay between attempts
}

// DefaultOptions returns Options with every toggle on and default tuning.
func DefaultOptions() Options {
	return Options{
		UseMemory:          true,
		UseGroupMemory:     true,
		UseDelegation:      true,
		UsePrimaryRephrase: true,
	}
}

func (o *Options) applyDefaults() {
	if o.FailureThreshold == 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.Cooldown == 0 {
		o.Cooldown = defaultCooldown
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.ChainedTimeout == 0 {
		o.ChainedTimeout = defaultChainedTimeout
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = defaultRetryDelay
	}
}

// Orchestrator routes user messages to agents, executes delegated and
// moderator calls, and persists every exchange. All mutable state is
// instance-scoped; the mutex covers the registry, status map, and breaker
// map so the health monitor goroutine can run alongside Chat.
type Orchestrator struct {
	mu        sync.Mutex
	names     []string // registration order
	agents    map[string]domain.Agent
	styles    map[string]json.RawMessage // display metadata, opaque to core logic
	servers   map[string]string
	moderator *domain.Agent
	useMod    bool
	status    map[string]domain.AgentStatus
	breakers  map[string]*gobreaker.CircuitBreaker[string]

	gen    Generator
	memory MemoryStore
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator. store may be nil; the orchestrator keeps
// returning agent replies with a fully absent memory store.
func New(gen Generator, store MemoryStore, opts Options, logger *slog.Logger) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		agents:   make(map[string]domain.Agent),
		servers:  make(map[string]string),
		status:   make(map[string]domain.AgentStatus),
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
		gen:      gen,
		memory:   store,
		opts:     opts,
		logger:   logger,
	}
}

// AddAgent registers or replaces an agent.
func (o *Orchestrator) AddAgent(name, host, model, persona string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addAgentLocked(domain.Agent{Name: name, Host: host, Model: model, Persona: persona})
}

func (o *Orchestrator) addAgentLocked(agent domain.Agent) {
	if _, exists := o.agents[agent.Name]; !exists {
		o.names = append(o.names, agent.Name)
	}
	o.agents[agent.Name] = agent
	o.logger.Info("agent registered", "agent", agent.Name, "host", agent.Host, "model", agent.Model)
}

// AgentNames returns the registered names in registration order.
func (o *Orchestrator) AgentNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// Agents returns a copy of the registry in registration order.
func (o *Orchestrator) Agents() []domain.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Agent, 0, len(o.names))
	for _, name := range o.names {
		out = append(out, o.agents[name])
	}
	return out
}

// Statuses returns a copy of the last-observed agent statuses.
func (o *Orchestrator) Statuses() map[string]domain.AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]domain.AgentStatus, len(o.status))
	for k, v := range o.status {
		out[k] = v
	}
	return out
}

// InCooldown reports whether the agent's circuit is currently open.
func (o *Orchestrator) InCooldown(name string) bool {
	return o.breakerFor(name).State() == gobreaker.StateOpen
}

// FailCount returns the agent's consecutive-failure count.
func (o *Orchestrator) FailCount(name string) uint32 {
	return o.breakerFor(name).Counts().ConsecutiveFailures
}

// SetMemoryUsage toggles memory injection and persistence reads.
func (o *Orchestrator) SetMemoryUsage(use bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.UseMemory = use
}

// SetDelegationUsage toggles chained-call detection.
func (o *Orchestrator) SetDelegationUsage(use bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.UseDelegation = use
}

// SetPrimaryRephraseUsage toggles the post-delegation rephrase pass.
func (o *Orchestrator) SetPrimaryRephraseUsage(use bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.UsePrimaryRephrase = use
}

// SetModeratorUsage enables or disables the moderator. Disabling removes
// the reserved entry from the active registry but keeps the Agent object
// for re-enablement; enabling without a configured moderator creates a
// default one on the first known server.
func (o *Orchestrator) SetModeratorUsage(use bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.useMod = use
	if !use {
		o.removeAgentLocked(domain.ModeratorName)
		return
	}
	if o.moderator == nil {
		host := ""
		for _, url := range o.servers {
			host = url
			break
		}
		o.moderator = &domain.Agent{
			Name:    domain.ModeratorName,
			Host:    host,
			Persona: "You are the moderator.",
		}
	}
	o.addAgentLocked(*o.moderator)
}

func (o *Orchestrator) removeAgentLocked(name string) {
	if _, ok := o.agents[name]; !ok {
		return
	}
	delete(o.agents, name)
	for i, n := range o.names {
		if n == name {
			o.names = append(o.names[:i], o.names[i+1:]...)
			break
		}
	}
}

func (o *Orchestrator) setStatus(name string, st domain.AgentStatus) {
	o.mu.Lock()
	o.status[name] = st
	o.mu.Unlock()
}

// breakerFor lazily creates the per-agent circuit breaker.
func (o *Orchestrator) breakerFor(name string) *gobreaker.CircuitBreaker[string] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[name]; ok {
		return cb
	}
	threshold := o.opts.FailureThreshold
	logger := o.logger
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "agent:" + name,
		MaxRequests: 1, // one probe in half-open state
		Timeout:     o.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool { return err == nil },
	})
	o.breakers[name] = cb
	return cb
}

// newConvID mints the identifier shared by every QA row of one Chat call.
func newConvID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// callResult is the tagged outcome of one agent call.
type callResult struct {
	reply   string
	ok      bool // 200 with non-empty text
	skipped bool // circuit open, no network attempt
}

// callAgent runs up to maxAttempts round-trips through the agent's
// circuit breaker, with a fixed delay between attempts. The reply is
// always a usable string: the agent's text or a bracketed placeholder.
func (o *Orchestrator) callAgent(ctx context.Context, agent domain.Agent, prompt, system string, timeout time.Duration) callResult {
	cb := o.breakerFor(agent.Name)
	if cb.State() == gobreaker.StateOpen {
		o.logger.Info("skipping agent in cooldown", "agent", agent.Name)
		return callResult{reply: msgCooldown, skipped: true}
	}

	ctx, span := tracer.StartSpan(ctx, "orchestrator.callAgent")
	span.SetAttributes(tracer.StringAttr("agent.name", agent.Name))
	defer span.End()

	var reply string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := cb.Execute(func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return o.gen.Generate(callCtx, agent.Host, agent.Model, prompt, system)
		})
		switch {
		case err == nil && text != "":
			o.setStatus(agent.Name, domain.StatusOK)
			return callResult{reply: text, ok: true}
		case err == nil:
			// 200 with empty body: not a failure, but nothing to say.
			return callResult{reply: msgNoResponse}
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return callResult{reply: msgCooldown, skipped: true}
		case errors.Is(err, domain.ErrAgentUnavailable):
			reply = msgUnavailable
			o.setStatus(agent.Name, domain.StatusDown)
			tracer.RecordError(span, err)
		default:
			reply = fmt.Sprintf("(Request error for %s: %v)", agent.Name, err)
			o.setStatus(agent.Name, domain.StatusDown)
			tracer.RecordError(span, err)
		}
		if attempt+1 < maxAttempts {
			o.logger.Info("retrying agent call", "agent", agent.Name, "attempt", attempt+2)
			time.Sleep(o.opts.RetryDelay)
		}
	}
	return callResult{reply: reply}
}

// errorishReply reports whether a reply is a timeout/request-error
// placeholder. Such exchanges persist with an empty answer so the error
// filter keeps them out of future prompts.
func errorishReply(reply string) bool {
	if !strings.HasPrefix(reply, "(") {
		return false
	}
	low := strings.ToLower(reply)
	return strings.Contains(low, "timed out") || strings.Contains(low, "request error")
}

// saveQA persists one exchange when a store is configured.
func (o *Orchestrator) saveQA(agentName, question, answer, convID string) {
	if o.memory == nil {
		return
	}
	o.memory.SaveQA(agentName, question, answer, convID)
}

// Chat sends userQuery to one or more agents and returns the mapping
// agent name -> final reply text. The sequence is
// route, call primaries, delegate, rephrase, moderate; each later stage
// fails independently without discarding earlier replies.
func (o *Orchestrator) Chat(ctx context.Context, userQuery string) map[string]string {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.Chat")
	defer span.End()

	o.mu.Lock()
	names := make([]string, len(o.names))
	copy(names, o.names)
	agents := make(map[string]domain.Agent, len(o.agents))
	for k, v := range o.agents {
		agents[k] = v
	}
	moderator := o.moderator
	opts := o.opts
	o.mu.Unlock()

	replies := make(map[string]string)
	convID := newConvID()
	target, addressed := Route(userQuery, names)
	span.SetAttributes(
		tracer.StringAttr("chat.conv_id", convID),
		tracer.StringAttr("chat.target", target),
	)

	var primaries []string
	if addressed {
		primaries = []string{target}
	} else {
		for _, name := range names {
			if name != domain.ModeratorName {
				primaries = append(primaries, name)
			}
		}
	}

	var delegation Delegation
	var delegated bool
	if addressed && opts.UseDelegation {
		delegation, delegated = DetectDelegation(userQuery, target, names)
	}

	memory := o.promptMemory()
	for _, name := range primaries {
		agent, ok := agents[name]
		if !ok {
			replies[name] = fmt.Sprintf("(Agent %s not found)", name)
			continue
		}
		prompt := BuildPrompt(userQuery, name, memory, opts.UseMemory, opts.UseGroupMemory, target)
		system := "You are " + name + ". " + agent.Persona
		res := o.callAgent(ctx, agent, prompt, system, opts.RequestTimeout)
		replies[name] = res.reply

		// A cooldown skip is not an exchange; persisting its placeholder
		// would feed a fake answer into future prompts.
		switch {
		case res.skipped:
		case errorishReply(res.reply):
			o.saveQA(name, userQuery, "", convID)
		default:
			o.saveQA(name, userQuery, res.reply, convID)
		}
	}

	o.logger.Debug("primary replies collected", "conv_id", convID, "count", len(replies))

	// The group bucket logs broadcast questions, not synthesized answers,
	// to avoid feedback loops.
	if !addressed && opts.UseGroupMemory {
		o.saveQA(domain.GroupKey, userQuery, "", convID)
	}

	if addressed && delegated {
		o.runDelegation(ctx, userQuery, target, agents, delegation, replies, convID, opts)
	}

	if !addressed && o.moderatorEnabled() && moderator != nil {
		o.runModerator(ctx, userQuery, names, *moderator, replies, convID, opts)
	}

	return replies
}

// promptMemory returns the MemoryReader for prompt building, nil when no
// store is configured.
func (o *Orchestrator) promptMemory() MemoryReader {
	if o.memory == nil {
		return nil
	}
	return o.memory
}

func (o *Orchestrator) moderatorEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.useMod
}

// runDelegation executes the chained call, appends the quoted reply to the
// primary's text, and optionally asks the primary to rephrase.
func (o *Orchestrator) runDelegation(ctx context.Context, userQuery, target string, agents map[string]domain.Agent, del Delegation, replies map[string]string, convID string, opts Options) {
	chained, ok := agents[del.AgentName]
	if !ok {
		replies[del.AgentName] = fmt.Sprintf("(Agent %s not found)", del.AgentName)
		return
	}

	o.logger.Info("delegating", "from", target, "to", del.AgentName, "conv_id", convID)

	primaryExcerpt := replies[target]
	if len(primaryExcerpt) > 800 {
		primaryExcerpt = primaryExcerpt[:800]
	}
	chainedQuery := fmt.Sprintf("[Requested by %s]\nPrimary reply: %s\n---\n%s", target, primaryExcerpt, del.Question)
	prompt := BuildPrompt(chainedQuery, del.AgentName, o.promptMemory(), opts.UseMemory, opts.UseGroupMemory, del.AgentName)

	res := o.callAgent(ctx, chained, prompt, chained.Persona, opts.ChainedTimeout)
	replies[del.AgentName] = res.reply
	if !res.skipped {
		o.saveQA(del.AgentName, del.Question, res.reply, convID)
	}

	// Append the quoted reply so the primary's text carries it even when
	// the rephrase pass is disabled or fails.
	replies[target] = replies[target] + "\n\n" + fmt.Sprintf("[%s replied]: %s", del.AgentName, res.reply)

	if !opts.UsePrimaryRephrase {
		return
	}
	primary, ok := agents[target]
	if !ok {
		return
	}
	o.rephrasePrimary(ctx, userQuery, target, primary, del, replies, convID, opts)
}

// rephrasePrimary asks the primary agent for a final reply quoting the
// delegated agents in a fixed structure. Success replaces the primary's
// reply and persists a new row; failure keeps the appended reply.
func (o *Orchestrator) rephrasePrimary(ctx context.Context, userQuery, target string, primary domain.Agent, del Delegation, replies map[string]string, convID string, opts Options) {
	chainedReply := replies[del.AgentName]

	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n", userQuery)
	fmt.Fprintf(&b, "Your original reply: %s\n", replies[target])
	b.WriteString("Other agents replied:\n")
	fmt.Fprintf(&b, "- %s: %s\n", del.AgentName, chainedReply)
	fmt.Fprintf(&b, "\nPlease produce a revised reply in the voice of %s. Follow this exact format (do not add extra sections):\n", target)
	fmt.Fprintf(&b, "%s: \"<your reply here>\"\n\nQuoted replies:\n", target)
	fmt.Fprintf(&b, "- %s: %q\n", del.AgentName, chainedReply)
	b.WriteString("\nKeep the final reply concise (1-3 sentences). If you rely on another agent's answer, briefly cite them in parentheses.")

	prompt := BuildPrompt(b.String(), target, o.promptMemory(), opts.UseMemory, opts.UseGroupMemory, target)
	system := "You are " + target + ". " + primary.Persona

	callCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()
	text, err := o.gen.Generate(callCtx, primary.Host, primary.Model, prompt, system)
	if err != nil || text == "" {
		o.logger.Warn("rephrase pass failed, keeping appended reply", "agent", target, "error", err)
		return
	}
	replies[target] = text
	o.saveQA(target, userQuery, text, convID)
}

// runModerator asks the moderator to rank the broadcast replies and
// recommend one. A failed call yields a placeholder rather than omitting
// the key.
func (o *Orchestrator) runModerator(ctx context.Context, userQuery string, names []string, moderator domain.Agent, replies map[string]string, convID string, opts Options) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nReplies:", userQuery)
	for _, name := range names {
		if name == domain.ModeratorName {
			continue
		}
		// Error-like replies are artifacts, not answers; the moderator
		// only ranks real ones.
		if reply, ok := replies[name]; ok && !IsErrorText(reply) {
			fmt.Fprintf(&b, "\n- %s: %s", name, reply)
		}
	}
	summary := b.String()

	instruction := "You are Moderator. Read the question and the replies and: " +
		"(1) identify which agent gave the best answer, (2) provide a concise authoritative recommendation that cites the chosen reply, " +
		"and (3) include a short justification (1-2 sentences)."

	prompt := BuildPrompt(
		summary+"\n\nPlease rank these replies and give a single recommended answer.",
		domain.ModeratorName, o.promptMemory(), opts.UseMemory, opts.UseGroupMemory, "",
	)
	system := instruction + " " + moderator.Persona

	callCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()
	text, err := o.gen.Generate(callCtx, moderator.Host, moderator.Model, prompt, system)
	switch {
	case err == nil && text != "":
		replies[domain.ModeratorName] = text
		o.saveQA(domain.ModeratorName, summary, text, convID)
		o.setStatus(domain.ModeratorName, domain.StatusOK)
	case err == nil:
		replies[domain.ModeratorName] = "(No moderator response)"
		o.setStatus(domain.ModeratorName, domain.StatusOK)
	case errors.Is(err, domain.ErrAgentUnavailable):
		replies[domain.ModeratorName] = "(Moderator unavailable)"
		o.setStatus(domain.ModeratorName, domain.StatusDown)
	default:
		replies[domain.ModeratorName] = fmt.Sprintf("(Moderator error: %v)", err)
		o.setStatus(domain.ModeratorName, domain.StatusDown)
	}
}

// CheckAgents pings every registered agent and updates the status map.
func (o *Orchestrator) CheckAgents(ctx context.Context, timeout time.Duration) map[string]domain.AgentStatus {
	agents := o.Agents()
	results := make(map[string]domain.AgentStatus, len(agents))
	for _, agent := range agents {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		st := domain.StatusDown
		if o.gen.Health(checkCtx, agent.Host) {
			st = domain.StatusOK
		}
		cancel()
		o.setStatus(agent.Name, st)
		results[agent.Name] = st
	}
	return results
}
