package claude

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/agentfleet/agentfleet/internal/domain/agent"
	"github.com/agentfleet/agentfleet/internal/port/session"
)

func testSession(run runner, opts session.Options) *cliSession {
	return &cliSession{command: "claude", opts: opts, run: run}
}

func TestSessionArgs(t *testing.T) {
	s := testSession(nil, session.Options{
		Model:          "some-model",
		MaxTurns:       3,
		SystemPrompt:   "be brief",
		AllowedTools:   []string{"Read", "Grep"},
		PermissionMode: agent.PermissionAcceptEdits,
	})

	args := s.args()
	want := []string{
		"claude", "--print", "--output-format", "json",
		"--model", "some-model",
		"--max-turns", "3",
		"--append-system-prompt", "be brief",
		"--allowedTools", "Read,Grep",
		"--permission-mode", "acceptEdits",
	}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v\nwant %v", args, want)
	}
}

func TestSessionResumesAfterFirstResponse(t *testing.T) {
	var captured [][]string
	run := func(ctx context.Context, dir string, env, args []string, stdin string) ([]byte, error) {
		captured = append(captured, args)
		return []byte(`{"result":"hi","session_id":"sess-42"}`), nil
	}
	s := testSession(run, session.Options{})

	if _, err := s.Send(context.Background(), "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := s.Send(context.Background(), "second"); err != nil {
		t.Fatalf("second send: %v", err)
	}

	if slices.Contains(captured[0], "--resume") {
		t.Error("first invocation must not resume")
	}
	idx := slices.Index(captured[1], "--resume")
	if idx < 0 || captured[1][idx+1] != "sess-42" {
		t.Errorf("second invocation args = %v, want --resume sess-42", captured[1])
	}
}

func TestSessionEnvCarriesCredentialOnly(t *testing.T) {
	s := testSession(nil, session.Options{
		APIKey: "sk-test",
		Env:    map[string]string{"CUSTOM": "1"},
	})

	env := s.env()
	if !slices.Contains(env, "ANTHROPIC_API_KEY=sk-test") {
		t.Error("missing credential in child env")
	}
	if !slices.Contains(env, "CUSTOM=1") {
		t.Error("missing session env in child env")
	}
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "PATH", "HOME", "ANTHROPIC_API_KEY", "CUSTOM":
		default:
			t.Errorf("unexpected env var %q leaked into child", key)
		}
	}
}

func TestSessionClosedRejectsSend(t *testing.T) {
	s := testSession(nil, session.Options{})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send on closed session to fail")
	}
	// Close is idempotent.
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestParseResponsePlainResult(t *testing.T) {
	fragments, id, err := parseResponse([]byte(`{"result":"the answer","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "s1" {
		t.Errorf("session id = %q, want s1", id)
	}
	if got := session.Join(fragments); got != "the answer" {
		t.Errorf("text = %q, want the answer", got)
	}
}

func TestParseResponseContentBlocks(t *testing.T) {
	raw := `{"content":[{"type":"text","text":"part one"},{"type":"tool_use","text":"ignored"},{"type":"text","text":"part two"}]}`
	fragments, _, err := parseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := session.Join(fragments); got != "part one\npart two" {
		t.Errorf("text = %q", got)
	}
}

func TestParseResponseNonJSONPassthrough(t *testing.T) {
	fragments, id, err := parseResponse([]byte("plain output\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "" {
		t.Errorf("session id = %q, want empty", id)
	}
	if got := session.Join(fragments); got != "plain output" {
		t.Errorf("text = %q", got)
	}
}

func TestParseResponseError(t *testing.T) {
	_, _, err := parseResponse([]byte(`{"result":"boom","is_error":true}`))
	if err == nil {
		t.Fatal("expected error response to fail")
	}
}

func TestParseResponseEmpty(t *testing.T) {
	fragments, _, err := parseResponse([]byte("  \n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fragments) != 0 {
		t.Errorf("fragments = %v, want none", fragments)
	}
}
