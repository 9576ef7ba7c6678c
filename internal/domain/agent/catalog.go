package agent

import "strings"

// Kind is the typed agent kind. Each kind carries default session options
// that per-agent config values override.
type Kind string

const (
	KindGeneral           Kind = "general"
	KindResearch          Kind = "research"
	KindCode              Kind = "code"
	KindFinance           Kind = "finance"
	KindCustomerSupport   Kind = "customer_support"
	KindPersonalAssistant Kind = "personal_assistant"
	KindDataAnalysis      Kind = "data_analysis"
	KindCustom            Kind = "custom"
)

// KindDefaults holds the per-kind default session options.
type KindDefaults struct {
	Description    string         `json:"description"`
	SystemPrompt   string         `json:"system_prompt"`
	AllowedTools   []string       `json:"allowed_tools"`
	PermissionMode PermissionMode `json:"permission_mode"`
}

// Catalog maps every known kind to its defaults.
var Catalog = map[Kind]KindDefaults{
	KindGeneral: {
		Description:    "General-purpose agent for various tasks",
		SystemPrompt:   "You are a helpful AI assistant that can help with a wide variety of tasks.",
		AllowedTools:   []string{"Read", "Write", "Bash", "Glob", "Grep"},
		PermissionMode: PermissionAsk,
	},
	KindResearch: {
		Description:    "Deep research agent for comprehensive analysis",
		SystemPrompt:   "You are a research specialist agent. Conduct comprehensive research across large document collections, synthesize information from multiple sources, and provide well-structured, evidence-based summaries. Always cite your sources.",
		AllowedTools:   []string{"Read", "Grep", "Glob", "WebSearch", "WebFetch", "Bash"},
		PermissionMode: PermissionAcceptEdits,
	},
	KindCode: {
		Description:    "Code development and review agent",
		SystemPrompt:   "You are a code specialist agent. Write clean, maintainable code, review for bugs and best practices, refactor and test. Prioritize code quality, security, and maintainability.",
		AllowedTools:   []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		PermissionMode: PermissionAcceptEdits,
	},
	KindFinance: {
		Description:    "Finance analysis and portfolio management agent",
		SystemPrompt:   "You are a finance specialist agent. Analyze portfolios and financial goals, evaluate investments, run calculations, and provide data-driven financial insights with supporting data.",
		AllowedTools:   []string{"Read", "Write", "Bash", "WebSearch", "WebFetch"},
		PermissionMode: PermissionAsk,
	},
	KindCustomerSupport: {
		Description:    "Customer support and service agent",
		SystemPrompt:   "You are a customer support specialist agent. Handle ambiguous customer requests, collect and review customer data, and escalate to humans when necessary. Be professional, empathetic, and solution-oriented.",
		AllowedTools:   []string{"Read", "Write", "WebFetch"},
		PermissionMode: PermissionAsk,
	},
	KindPersonalAssistant: {
		Description:    "Personal productivity and task management agent",
		SystemPrompt:   "You are a personal assistant agent. Manage calendars and schedules, organize tasks and priorities, and track context across applications. Be proactive, organized, and detail-oriented.",
		AllowedTools:   []string{"Read", "Write", "WebSearch", "WebFetch"},
		PermissionMode: PermissionAsk,
	},
	KindDataAnalysis: {
		Description:    "Data analysis and visualization agent",
		SystemPrompt:   "You are a data analysis specialist agent. Analyze datasets, identify patterns, run statistical calculations, and provide clear, actionable insights backed by data.",
		AllowedTools:   []string{"Read", "Write", "Bash", "Grep", "Glob"},
		PermissionMode: PermissionAcceptEdits,
	},
	KindCustom: {
		Description:    "Custom agent with user-defined configuration",
		SystemPrompt:   "You are a helpful AI assistant.",
		AllowedTools:   []string{"Read", "Write", "Bash", "Glob", "Grep"},
		PermissionMode: PermissionAsk,
	},
}

// DefaultsFor returns the catalog defaults for kind, falling back to the
// general kind for anything unknown.
func DefaultsFor(kind Kind) KindDefaults {
	if d, ok := Catalog[kind]; ok {
		return d
	}
	return Catalog[KindGeneral]
}

// templateRules map legacy free-text template substrings to kinds.
// Order matters: first match wins, mirroring the original mapping.
var templateRules = []struct {
	substrings []string
	kind       Kind
}{
	{[]string{"research"}, KindResearch},
	{[]string{"code", "developer"}, KindCode},
	{[]string{"finance"}, KindFinance},
	{[]string{"support", "customer"}, KindCustomerSupport},
	{[]string{"assistant"}, KindPersonalAssistant},
	{[]string{"data", "analysis"}, KindDataAnalysis},
}

// KindFromTemplate maps a legacy free-text template to a typed Kind.
// Best-effort and lossy: unmatched text falls back to the general kind.
func KindFromTemplate(template string) Kind {
	t := strings.ToLower(template)
	for _, rule := range templateRules {
		for _, sub := range rule.substrings {
			if strings.Contains(t, sub) {
				return rule.kind
			}
		}
	}
	return KindGeneral
}

// Resolve fills zero-valued session options in cfg from the kind catalog.
// Per-agent values always take precedence over kind defaults.
func Resolve(cfg Config) Config {
	if cfg.Kind == "" {
		if cfg.Template != "" {
			cfg.Kind = KindFromTemplate(cfg.Template)
		} else {
			cfg.Kind = KindGeneral
		}
	}

	defaults := DefaultsFor(cfg.Kind)
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = defaults.AllowedTools
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = defaults.PermissionMode
	}
	return cfg
}

// Kinds returns every catalog kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindGeneral, KindResearch, KindCode, KindFinance,
		KindCustomerSupport, KindPersonalAssistant, KindDataAnalysis, KindCustom,
	}
}
