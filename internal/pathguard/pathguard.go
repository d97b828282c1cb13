// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathguard normalizes filesystem paths and screens them
// against a config's allowed/denied prefixes, and screens shell
// commands against a fixed list of destructive patterns. It is a
// defense-in-depth layer on top of the permission engine, not a full
// sandbox: a determined tool body can still escape it through a
// sufficiently indirect command.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"
)

// Decision is the result of a path or command check.
type Decision struct {
	OK      bool
	Message string
}

func ok() Decision                 { return Decision{OK: true} }
func fail(message string) Decision { return Decision{OK: false, Message: message} }

// Normalize expands a leading "~" to the user's home directory,
// resolves the result to an absolute path, and lexically collapses
// ".." segments. It does not require the path to exist or perform any
// I/O beyond resolving the home directory and current working
// directory.
func Normalize(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				path = home
			} else {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Under reports whether p is base itself, or lies inside base, after
// normalizing both. Comparison is purely lexical; neither path needs
// to exist.
func Under(p, base string) bool {
	np := Normalize(p)
	nb := Normalize(base)
	if np == nb {
		return true
	}
	return strings.HasPrefix(np, nb+string(filepath.Separator))
}

// Config is the subset of the resolved configuration pathguard needs.
// Kept as its own small type (rather than importing internal/config
// directly) so pathguard has no dependency on the config package and
// can be unit tested with literal slices.
type Config struct {
	AllowedPaths []string
	DeniedPaths  []string
}

// Operation names the kind of access being validated (e.g. "read",
// "write", "list"). ValidatePath accepts it, but neither its decision
// nor its messages depend on it.
type Operation string

// ValidatePath applies spec's fixed rule order: empty path fails,
// then any denied-prefix match fails, then — only if AllowedPaths is
// non-empty — the path must lie under one of them, else it fails.
func ValidatePath(path string, cfg Config, op Operation) Decision {
	if path == "" {
		return fail("Path is empty")
	}

	for _, denied := range cfg.DeniedPaths {
		if Under(path, denied) {
			return fail("Path is in a restricted area (matches denied rule: " + denied + ")")
		}
	}

	if len(cfg.AllowedPaths) > 0 {
		for _, allowed := range cfg.AllowedPaths {
			if Under(path, allowed) {
				return ok()
			}
		}
		return fail("Path is outside allowed paths")
	}

	return ok()
}
