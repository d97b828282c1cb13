// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package pathguard

import "regexp"

// dangerousPatterns screens for the classic destructive one-liners:
// wiping the root or home filesystem, fork bombs, writing straight to
// a block device, formatting, recursive world-writable chmod on root,
// and piping a remote script directly into a shell.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*\s+/\s*($|[;&|])`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*\s+/\s*($|[;&|])`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*\s+~\s*($|[;&|])`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*\s+~\s*($|[;&|])`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // fork bomb
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`>\s*/dev/nvme\d+n\d+\b`),
	regexp.MustCompile(`\bdd\s+[^\n]*\bof=/dev/`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bchmod\s+-[a-zA-Z]*R[a-zA-Z]*\s+777\s+/\s*($|[;&|])`),
	regexp.MustCompile(`\bcurl\b[^\n|]*\|\s*(sudo\s+)?(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b[^\n|]*\|\s*(sudo\s+)?(ba)?sh\b`),
}

// ValidateCommand screens cmd against the fixed dangerous-pattern list.
// A match returns a structured refusal; this is a defense-in-depth
// layer, not a sandbox — it catches well-known one-liners, not every
// way a shell command could be destructive.
func ValidateCommand(cmd string) Decision {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(cmd) {
			return fail("Command matches a blocked destructive pattern and was not executed")
		}
	}
	return ok()
}
