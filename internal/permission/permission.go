// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package permission resolves the approval gate for a tool call and,
// when that gate is "ask", delegates the actual prompt to an external
// Approver. The engine itself never blocks on user input.
package permission

import "github.com/llamar/llamar/internal/config"

// Reason describes why Resolve returned the mode it did, for audit
// logging and `llamar config show --explain`-style debugging.
type Reason int

const (
	// ReasonExplicit means cfg.Permissions[tool] was set and returned
	// verbatim.
	ReasonExplicit Reason = iota

	// ReasonDangerous means tool was listed in cfg.DangerousTools and
	// the default approval_mode gate applied.
	ReasonDangerous

	// ReasonDefaultAllow means neither of the above applied.
	ReasonDefaultAllow
)

// Result is the outcome of Resolve.
type Result struct {
	Mode   config.ApprovalMode
	Reason Reason
}

// Resolve decides the approval gate for tool per spec §4.4's fixed
// precedence: an explicit per-tool override beats the dangerous-tools
// default gate, which beats the baseline "allow".
func Resolve(tool string, cfg config.Config) Result {
	if mode, ok := cfg.Permissions[tool]; ok {
		return Result{Mode: mode, Reason: ReasonExplicit}
	}
	for _, dangerous := range cfg.DangerousTools {
		if dangerous == tool {
			return Result{Mode: cfg.ApprovalMode, Reason: ReasonDangerous}
		}
	}
	return Result{Mode: config.Allow, Reason: ReasonDefaultAllow}
}

// Approver supplies interactive confirmation for calls gated "ask". It
// is typically implemented by the CLI REPL, outside this package; a
// server running unattended registers DenyApprover or AutoApprover
// instead.
type Approver interface {
	// Approve asks whether tool may run with the given arguments
	// summary, returning true to proceed. approvedBy identifies who
	// or what made the decision, for the trace log.
	Approve(tool, argsSummary string) (approved bool, approvedBy string)
}

// DenyApprover refuses every request. This is the fallback when a
// server has "ask"-gated tools but no approval callback registered:
// per spec §4.4, "ask" degenerates to "deny" with no approver.
type DenyApprover struct{}

func (DenyApprover) Approve(tool, argsSummary string) (bool, string) {
	return false, "no-approver"
}

// AutoApprover approves every request unconditionally, identifying
// itself as the approver. Useful for tests and for servers configured
// to run fully unattended despite having "ask"-gated tools.
type AutoApprover struct{}

func (AutoApprover) Approve(tool, argsSummary string) (bool, string) {
	return true, "auto"
}

// Gate decides whether a call may proceed, consulting approver only
// when Resolve says "ask". It returns whether execution should
// continue and who approved it (empty if none was needed or the call
// is refused).
func Gate(tool string, argsSummary string, cfg config.Config, approver Approver) (proceed bool, approvedBy string) {
	result := Resolve(tool, cfg)
	switch result.Mode {
	case config.Allow:
		return true, ""
	case config.Deny:
		return false, ""
	case config.Ask:
		if approver == nil {
			approver = DenyApprover{}
		}
		approved, by := approver.Approve(tool, argsSummary)
		if !approved {
			return false, ""
		}
		return true, by
	default:
		return false, ""
	}
}
