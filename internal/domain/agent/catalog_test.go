package agent

import "testing"

func TestKindFromTemplate(t *testing.T) {
	tests := []struct {
		template string
		want     Kind
	}{
		{"research-bot", KindResearch},
		{"Senior Developer", KindCode},
		{"code-review", KindCode},
		{"finance-analyst", KindFinance},
		{"customer helpdesk", KindCustomerSupport},
		{"support tier 1", KindCustomerSupport},
		{"personal assistant", KindPersonalAssistant},
		{"data cruncher", KindDataAnalysis},
		{"analysis pipeline", KindDataAnalysis},
		{"something else", KindGeneral},
		{"", KindGeneral},
		// Overlapping substrings: first rule in listed order wins.
		{"data-research-agent", KindResearch},
	}

	for _, tt := range tests {
		if got := KindFromTemplate(tt.template); got != tt.want {
			t.Errorf("KindFromTemplate(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestResolveAppliesKindDefaults(t *testing.T) {
	cfg := Resolve(Config{Kind: KindResearch})

	defaults := Catalog[KindResearch]
	if cfg.SystemPrompt != defaults.SystemPrompt {
		t.Errorf("system prompt not taken from catalog")
	}
	if cfg.PermissionMode != PermissionAcceptEdits {
		t.Errorf("permission mode = %q, want %q", cfg.PermissionMode, PermissionAcceptEdits)
	}
	if len(cfg.AllowedTools) == 0 {
		t.Error("allowed tools not taken from catalog")
	}
}

func TestResolveKeepsOverrides(t *testing.T) {
	cfg := Resolve(Config{
		Kind:           KindCode,
		SystemPrompt:   "custom prompt",
		AllowedTools:   []string{"Read"},
		PermissionMode: PermissionAsk,
	})

	if cfg.SystemPrompt != "custom prompt" {
		t.Errorf("system prompt overridden by catalog: %q", cfg.SystemPrompt)
	}
	if len(cfg.AllowedTools) != 1 || cfg.AllowedTools[0] != "Read" {
		t.Errorf("allowed tools overridden by catalog: %v", cfg.AllowedTools)
	}
	if cfg.PermissionMode != PermissionAsk {
		t.Errorf("permission mode overridden by catalog: %q", cfg.PermissionMode)
	}
}

func TestResolveMapsLegacyTemplate(t *testing.T) {
	cfg := Resolve(Config{Template: "finance wizard"})
	if cfg.Kind != KindFinance {
		t.Errorf("kind = %q, want %q", cfg.Kind, KindFinance)
	}
}

func TestDefaultsForUnknownKind(t *testing.T) {
	d := DefaultsFor(Kind("nonexistent"))
	if d.SystemPrompt != Catalog[KindGeneral].SystemPrompt {
		t.Error("unknown kind should fall back to general defaults")
	}
}
