// Package claude adapts the Claude CLI as a session runtime. Each
// message runs the CLI in print mode inside the session's working
// directory; conversation continuity comes from resuming the CLI session id
// returned with every response.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/port/session"
)

// runner executes one CLI invocation. Indirection for tests.
type runner func(ctx context.Context, dir string, env, args []string, stdin string) ([]byte, error)

// Adapter opens CLI-backed sessions.
type Adapter struct {
	cfg config.Runtime
	run runner
}

// New creates the adapter for the configured runtime binary.
func New(cfg config.Runtime) *Adapter {
	return &Adapter{cfg: cfg, run: runCLI}
}

// Open validates the runtime binary and returns a fresh session. No
// process is spawned until the first Send.
func (a *Adapter) Open(ctx context.Context, opts session.Options) (session.Session, error) {
	command := a.cfg.Command
	if command == "" {
		command = "claude"
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("runtime binary %q: %w", command, err)
	}
	return &cliSession{
		command: command,
		opts:    opts,
		run:     a.run,
	}, nil
}

// cliSession is one conversation. The CLI session id is captured from the
// first response and resumed on every following message.
type cliSession struct {
	command string
	opts    session.Options
	run     runner

	mu        sync.Mutex
	sessionID string
	closed    bool
}

func (s *cliSession) Send(ctx context.Context, text string) ([]session.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session closed")
	}

	out, err := s.run(ctx, s.opts.WorkingDir, s.env(), s.args(), text)
	if err != nil {
		return nil, fmt.Errorf("runtime invocation: %w", err)
	}

	fragments, sessionID, err := parseResponse(out)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		s.sessionID = sessionID
	}
	return fragments, nil
}

func (s *cliSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// args builds the full CLI invocation, command first.
func (s *cliSession) args() []string {
	args := []string{s.command, "--print", "--output-format", "json"}

	if s.opts.Model != "" {
		args = append(args, "--model", s.opts.Model)
	}
	if s.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(s.opts.MaxTurns))
	}
	if s.opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", s.opts.SystemPrompt)
	}
	if len(s.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(s.opts.AllowedTools, ","))
	}
	if mode := permissionFlag(s.opts.PermissionMode); mode != "" {
		args = append(args, "--permission-mode", mode)
	}
	if s.sessionID != "" {
		args = append(args, "--resume", s.sessionID)
	}
	return args
}

func permissionFlag(mode agent.PermissionMode) string {
	switch mode {
	case agent.PermissionAcceptEdits:
		return "acceptEdits"
	case agent.PermissionAcceptAll:
		return "bypassPermissions"
	case agent.PermissionAsk:
		return "default"
	}
	return ""
}

// env builds the child process environment. The credential travels only
// here; the service's own environment is not inherited wholesale.
func (s *cliSession) env() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	if s.opts.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+s.opts.APIKey)
	}
	for k, v := range s.opts.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// cliResponse is the CLI's JSON print-mode output shape. Either result or
// content is populated depending on CLI version.
type cliResponse struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// parseResponse maps CLI output to response fragments. Non-JSON output is
// passed through as plain text so an unexpected CLI version still yields a
// response instead of an error.
func parseResponse(out []byte) ([]session.Fragment, string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, "", nil
	}

	var resp cliResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return []session.Fragment{session.PlainText(string(trimmed))}, "", nil
	}

	if resp.IsError {
		return nil, resp.SessionID, fmt.Errorf("runtime error: %s", resp.Result)
	}

	var fragments []session.Fragment
	if len(resp.Content) > 0 {
		blocks := make([]session.TextBlock, 0, len(resp.Content))
		for _, c := range resp.Content {
			blocks = append(blocks, session.TextBlock{Type: c.Type, Text: c.Text})
		}
		fragments = append(fragments, session.BlockList(blocks))
	} else if resp.Result != "" {
		fragments = append(fragments, session.PlainText(resp.Result))
	}
	return fragments, resp.SessionID, nil
}

// runCLI is the production runner: one CLI process per message, prompt on
// stdin, response on stdout.
func runCLI(ctx context.Context, dir string, env, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
