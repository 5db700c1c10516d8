package domain

import "fmt"

// Sentinel errors for the domain layer.
var (
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrAgentUnavailable = fmt.Errorf("agent unavailable")
	ErrNoResponse       = fmt.Errorf("empty agent response")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrMemoryStore      = fmt.Errorf("memory store failed")
)

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
