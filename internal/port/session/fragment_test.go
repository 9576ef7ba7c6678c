package session

import "testing"

func TestFragmentText(t *testing.T) {
	tests := []struct {
		name string
		f    Fragment
		want string
	}{
		{"plain", PlainText("hello"), "hello"},
		{"plain empty", PlainText(""), ""},
		{
			"blocks joined with newline",
			BlockList([]TextBlock{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}}),
			"a\nb",
		},
		{
			"untyped blocks count as text",
			BlockList([]TextBlock{{Text: "a"}, {Text: "b"}}),
			"a\nb",
		},
		{
			"non-text blocks skipped",
			BlockList([]TextBlock{{Type: "text", Text: "a"}, {Type: "tool_use", Text: "ignored"}}),
			"a",
		},
		{"keyed", Keyed(map[string]string{"text": "hi"}), "hi"},
		{"keyed without text key", Keyed(map[string]string{"role": "assistant"}), ""},
		{"zero value", Fragment{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	got := Join([]Fragment{
		PlainText("hello "),
		BlockList([]TextBlock{{Type: "text", Text: "world"}}),
	})
	if got != "hello world" {
		t.Errorf("Join = %q, want %q", got, "hello world")
	}

	if Join(nil) != "" {
		t.Error("Join(nil) should be empty")
	}
}
