// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// GlobalPath returns the path to the user-global config file.
func GlobalPath(home string) string {
	return filepath.Join(home, ".llamar", "config.json")
}

// ProjectPath returns the path to the project-local config file for
// the given working directory.
func ProjectPath(cwd string) string {
	return filepath.Join(cwd, ".llamar", "config.json")
}

// Load reads and resolves the global and project config files. Either
// file may be absent; a missing file is treated the same as an empty
// mapping. logger may be nil, in which case warnings are discarded.
func Load(home, cwd string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	globalBytes := readOrEmpty(GlobalPath(home), logger)
	projectBytes := readOrEmpty(ProjectPath(cwd), logger)
	return Resolve(globalBytes, projectBytes, logger)
}

// Resolve merges global and project JSON-with-comments bytes, applies
// defaults for any key neither file sets, and returns the finished
// Config. Resolve is pure: identical inputs always produce an
// identical result, so the merge logic is testable without disk I/O.
func Resolve(globalJSON, projectJSON []byte, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, nil))
	}

	global := parseMapping(globalJSON, "global", logger)
	project := parseMapping(projectJSON, "project", logger)

	merged := map[string]any{}
	source := map[string]string{}
	for k, v := range global {
		merged[k] = v
		source[k] = "global"
	}
	for k, v := range project {
		merged[k] = v
		source[k] = "project"
	}

	cfg := Defaults()
	for k := range cfg.Source {
		delete(cfg.Source, k)
	}
	applyMapping(&cfg, merged)
	for k, v := range source {
		cfg.Source[k] = v
	}
	for _, k := range []string{"provider", "model", "context_files", "approval_mode",
		"dangerous_tools", "permissions", "allowed_paths", "denied_paths",
		"skill_timeout", "dry_run", "rate_limits", "subagents", "script_interpreters",
		"context_warn_pct", "context_high_pct", "context_crit_pct", "context_compact_pct"} {
		if _, ok := cfg.Source[k]; !ok {
			cfg.Source[k] = "default"
		}
	}
	return cfg
}

// parseMapping strips JSONC comments/trailing commas, then unmarshals
// into a generic mapping. Malformed JSON becomes an empty mapping with
// a warning rather than aborting resolution.
func parseMapping(data []byte, label string, logger *slog.Logger) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	stripped := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(stripped, &m); err != nil {
		logger.Warn("malformed config, treating as empty", "file", label, "error", err)
		return map[string]any{}
	}
	return m
}

// applyMapping overlays merged onto the defaults already in cfg,
// decoding through encoding/json so nested structures (permissions,
// rate_limits, subagents) apply their own tag-driven merge for free.
func applyMapping(cfg *Config, merged map[string]any) {
	raw, err := json.Marshal(merged)
	if err != nil {
		return
	}
	var overlay Config
	overlay.Permissions = map[string]ApprovalMode{}
	overlay.RateLimits = map[string]RateLimit{}
	overlay.ScriptInterpreters = map[string]string{}
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return
	}
	if _, ok := merged["provider"]; ok {
		cfg.Provider = overlay.Provider
	}
	if _, ok := merged["model"]; ok {
		cfg.Model = overlay.Model
	}
	if _, ok := merged["context_files"]; ok {
		cfg.ContextFiles = overlay.ContextFiles
	}
	if _, ok := merged["approval_mode"]; ok {
		cfg.ApprovalMode = overlay.ApprovalMode
	}
	if _, ok := merged["dangerous_tools"]; ok {
		cfg.DangerousTools = overlay.DangerousTools
	}
	if _, ok := merged["permissions"]; ok {
		cfg.Permissions = overlay.Permissions
	}
	if _, ok := merged["allowed_paths"]; ok {
		cfg.AllowedPaths = overlay.AllowedPaths
	}
	if _, ok := merged["denied_paths"]; ok {
		cfg.DeniedPaths = overlay.DeniedPaths
	}
	if _, ok := merged["skill_timeout"]; ok {
		cfg.SkillTimeout = overlay.SkillTimeout
	}
	if _, ok := merged["dry_run"]; ok {
		cfg.DryRun = overlay.DryRun
	}
	if _, ok := merged["rate_limits"]; ok {
		cfg.RateLimits = overlay.RateLimits
	}
	if _, ok := merged["subagents"]; ok {
		cfg.Subagents = overlay.Subagents
	}
	if _, ok := merged["script_interpreters"]; ok {
		cfg.ScriptInterpreters = overlay.ScriptInterpreters
	}
	if _, ok := merged["context_warn_pct"]; ok {
		cfg.ContextWarnPct = overlay.ContextWarnPct
	}
	if _, ok := merged["context_high_pct"]; ok {
		cfg.ContextHighPct = overlay.ContextHighPct
	}
	if _, ok := merged["context_crit_pct"]; ok {
		cfg.ContextCritPct = overlay.ContextCritPct
	}
	if _, ok := merged["context_compact_pct"]; ok {
		cfg.ContextCompactPct = overlay.ContextCompactPct
	}
}

func readOrEmpty(path string, logger *slog.Logger) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read config file", "path", path, "error", err)
		}
		return nil
	}
	return data
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
