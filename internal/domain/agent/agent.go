// Package agent defines the Agent domain entity: status, configuration,
// and the typed agent-kind catalog.
package agent

import "time"

// Status represents the current state of an agent.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusIdle       Status = "idle"
	StatusRecovering Status = "recovering"
	StatusError      Status = "error"
	// StatusTerminated is post-delete bookkeeping. It is never observable
	// through the registry; a deleted agent is simply gone.
	StatusTerminated Status = "terminated"
)

// PermissionMode controls how the runtime session handles tool use approval.
type PermissionMode string

const (
	PermissionAsk         PermissionMode = "ask"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionAcceptAll   PermissionMode = "acceptAll"
)

// Config is the immutable configuration snapshot for one agent instance.
// Reconfiguration means creating a new agent, never mutating this in place.
type Config struct {
	Kind       Kind   `json:"kind"`
	Template   string `json:"template,omitempty"` // legacy free-text kind, mapped via KindFromTemplate
	Model      string `json:"model,omitempty"`
	MaxTokens  int    `json:"max_tokens,omitempty"`
	MaxTurns   int    `json:"max_turns,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`

	SystemPrompt   string            `json:"system_prompt,omitempty"`
	AllowedTools   []string          `json:"allowed_tools,omitempty"`
	PermissionMode PermissionMode    `json:"permission_mode,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
}

// Info is the externally visible snapshot of one agent.
type Info struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Config           Config    `json:"config"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	MessagesCount    int       `json:"messages_count"`
	RecoveryAttempts int       `json:"recovery_attempts"`
}

// Exchange is one completed message round-trip, kept in the agent's
// bounded conversation history.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}
