package orchestrator

import (
	"regexp"
	"strings"
	"sync"
)

// Verb phrases that introduce a delegated question, tried in order.
var delegationPhrases = []string{
	"ask",
	"please ask",
	"can you ask",
	"could you ask",
	"please have",
	"tell",
	"relay to",
	"pass to",
}

// proximityWindow bounds the fallback scan after a literal "ask".
const proximityWindow = 120

// Delegation is a detected chained call: ask AgentName the Question.
type Delegation struct {
	AgentName string
	Question  string
}

// DetectDelegation scans an addressed query for a request to relay a
// sub-question to another known agent. The structured grammar is tried
// first (phrase + name + optional connective + tail); when it finds
// nothing but the literal "ask" is present, a proximity heuristic looks
// for an agent name within the following window, because free-text
// phrasing does not always match a strict grammar. At most one delegation
// is returned; when several names appear, the first in registration order
// wins (implementation-defined).
func DetectDelegation(query, primaryAgent string, agentNames []string) (Delegation, bool) {
	lowered := strings.ToLower(query)

	for _, name := range agentNames {
		if strings.EqualFold(name, primaryAgent) {
			continue
		}
		for _, phrase := range delegationPhrases {
			re := delegationPattern(phrase, name)
			if m := re.FindStringSubmatch(lowered); m != nil {
				if q := strings.TrimSpace(m[1]); q != "" {
					return Delegation{AgentName: name, Question: q}, true
				}
			}
		}
	}

	idx := strings.Index(lowered, "ask")
	if idx < 0 {
		return Delegation{}, false
	}
	window := lowered[idx:min(idx+proximityWindow, len(lowered))]
	for _, name := range agentNames {
		if strings.EqualFold(name, primaryAgent) {
			continue
		}
		ln := strings.ToLower(name)
		_, after, found := strings.Cut(window, ln)
		if !found {
			continue
		}
		if q := strings.Trim(after, " \t\n,:-\"'"); q != "" {
			return Delegation{AgentName: name, Question: q}, true
		}
	}
	return Delegation{}, false
}

// Compiled phrase+name patterns, cached across DetectDelegation calls.
var (
	patternMu    sync.Mutex
	patternCache = make(map[string]*regexp.Regexp)
)

func delegationPattern(phrase, agentName string) *regexp.Regexp {
	key := phrase + "\x00" + agentName
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[key]; ok {
		return re
	}
	re := regexp.MustCompile(
		`\b` + phrase + `\s+` + regexp.QuoteMeta(strings.ToLower(agentName)) +
			`\b(?:\s+(?:to|about|if|whether|for))?[\s,:-]+(.+)`,
	)
	patternCache[key] = re
	return re
}
