// Package session defines the port to the wrapped agent runtime: open a
// session, send a prompt, receive response fragments, close.
package session

import (
	"context"

	"github.com/agentfleet/agentfleet/internal/domain/agent"
)

// Options carries everything a session needs, resolved up front. Credentials
// travel here explicitly; the adapter must never reach into process-wide
// environment variables.
type Options struct {
	WorkingDir     string
	SystemPrompt   string
	AllowedTools   []string
	PermissionMode agent.PermissionMode
	Model          string
	MaxTurns       int
	APIKey         string
	Env            map[string]string
}

// Session is one open conversation with the wrapped runtime. A Session is
// exclusively owned by the Agent that opened it.
type Session interface {
	// Send transmits text and returns the response fragments in delivery
	// order. Blocks until the full response is received or ctx expires.
	Send(ctx context.Context, text string) ([]Fragment, error)

	// Close terminates the session. Safe to call more than once.
	Close(ctx context.Context) error
}

// Adapter opens sessions with the wrapped agent runtime.
type Adapter interface {
	Open(ctx context.Context, opts Options) (Session, error)
}
