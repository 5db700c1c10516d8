package orchestrator

import (
	"sort"
	"strings"
	"unicode"
)

// Route classifies a message as addressed or broadcast. It returns the
// matched agent name and true when the trimmed message starts with a known
// name (case-insensitive) followed by a space, colon, comma, hyphen, or
// end of string. Longer names win over their prefixes, so "Netty P" beats
// "Netty". No match means broadcast.
func Route(message string, agentNames []string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(message))
	if lowered == "" {
		return "", false
	}

	// Longest first so a short name never shadows a longer one.
	sorted := make([]string, len(agentNames))
	copy(sorted, agentNames)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})

	for _, name := range sorted {
		ln := strings.ToLower(name)
		if ln == "" || !strings.HasPrefix(lowered, ln) {
			continue
		}
		rest := lowered[len(ln):]
		if rest == "" || isNameDelimiter(rune(rest[0])) {
			return name, true
		}
	}
	return "", false
}

func isNameDelimiter(r rune) bool {
	return unicode.IsSpace(r) || r == ':' || r == ',' || r == '-'
}
