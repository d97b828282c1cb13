// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the server's configuration by merging a
// user-global and a project-local JSON file, then filling in defaults.
package config

// ApprovalMode is the default gate applied to tools named in
// DangerousTools when no per-tool override exists.
type ApprovalMode string

const (
	Allow ApprovalMode = "allow"
	Ask   ApprovalMode = "ask"
	Deny  ApprovalMode = "deny"
)

// RateLimit caps a single provider's token and request budget.
type RateLimit struct {
	TokensPerHour    int `json:"tokens_per_hour"`
	RequestsPerMinute int `json:"requests_per_minute"`
}

// Subagents controls child-server spawning policy.
type Subagents struct {
	Enabled         bool     `json:"enabled"`
	MaxConcurrent   int      `json:"max_concurrent"`
	TimeoutMinutes  int      `json:"timeout_minutes"`
	AllowNested     bool     `json:"allow_nested"`
	DefaultTools    []string `json:"default_tools"`
	BasePort        int      `json:"base_port"`
}

// Config is the fully merged, defaulted configuration used by every
// other component. Source tracks, for debugging, which file ("global",
// "project", or "default") each top-level key was ultimately decided
// by; it is not part of the merge semantics.
type Config struct {
	Provider       string              `json:"provider"`
	Model          string              `json:"model"`
	ContextFiles   []string            `json:"context_files"`
	ApprovalMode   ApprovalMode        `json:"approval_mode"`
	DangerousTools []string            `json:"dangerous_tools"`
	Permissions    map[string]ApprovalMode `json:"permissions"`
	AllowedPaths   []string            `json:"allowed_paths"`
	DeniedPaths    []string            `json:"denied_paths"`
	SkillTimeout   int                 `json:"skill_timeout"`
	DryRun         bool                `json:"dry_run"`
	RateLimits     map[string]RateLimit `json:"rate_limits"`
	Subagents      Subagents           `json:"subagents"`

	// ScriptInterpreters maps a skill name (e.g. "run_python") to the
	// interpreter binary invoked for it, generalizing spec's run_r
	// beyond the one fixed interpreter.
	ScriptInterpreters map[string]string `json:"script_interpreters"`

	ContextWarnPct    int `json:"context_warn_pct"`
	ContextHighPct    int `json:"context_high_pct"`
	ContextCritPct    int `json:"context_crit_pct"`
	ContextCompactPct int `json:"context_compact_pct"`

	Source map[string]string `json:"-"`
}

// Defaults returns the hard-coded baseline every resolved Config is
// filled in against.
func Defaults() Config {
	return Config{
		ApprovalMode:      Ask,
		SkillTimeout:      60,
		ContextFiles:      []string{"LLAMAR.md", "AGENTS.md"},
		DangerousTools:     []string{"bash", "write_file", "run_r"},
		Permissions:        map[string]ApprovalMode{},
		RateLimits:         map[string]RateLimit{},
		ScriptInterpreters: map[string]string{},
		ContextWarnPct:    70,
		ContextHighPct:    85,
		ContextCritPct:    95,
		ContextCompactPct: 90,
		Subagents: Subagents{
			Enabled:        false,
			MaxConcurrent:  2,
			TimeoutMinutes: 15,
			AllowNested:    false,
			DefaultTools:   []string{"read_file", "grep_files", "list_files"},
			BasePort:       9100,
		},
		Source: map[string]string{},
	}
}
