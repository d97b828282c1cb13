// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/llamar/llamar/internal/ratelimit"
	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
)

// LLMClient is the boundary to the external LLM collaborator this
// repository's core deliberately excludes (spec §1's "LLM HTTP
// client" is out of scope). A subagent process that has one wired in
// runs its own reasoning loop over message; one that does not simply
// reports that no backend is configured, which is itself a valid
// answer for a supervisor polling a subagent that has nothing to say
// yet.
type LLMClient interface {
	Complete(ctx context.Context, message string) (string, error)
}

// estimateTokens is a rough, tokenizer-free stand-in for the token
// count a real LLM client would report. Good enough for rate-limiting
// purposes; the external LLM client is the source of truth for actual
// usage and reports it back via ratelimit.Limiter.Track from outside
// this package.
func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// ChatSkill returns the chat tool a parent supervisor invokes (via
// internal/subagent.Supervisor.Query) to talk to a running subagent.
// client may be nil. limiter and cfgSrc are consulted exactly as spec
// §4.12 describes for "every LLM call": a rejected Check short-circuits
// before client.Complete runs, and a successful call's estimated usage
// is tracked afterward. A nil limiter skips rate limiting; a nil
// cfgSrc still rate-limits, under the "default" provider.
func ChatSkill(client LLMClient, limiter *ratelimit.Limiter, cfgSrc ConfigSource) skill.Skill {
	return skill.Skill{
		Name:        "chat",
		Description: "Send a message to this agent and receive its reply",
		Params: []skill.Param{
			{Name: "message", Type: skill.TypeString, Required: true, Description: "The message to send"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			message, _ := args["message"].(string)
			if client == nil {
				return resultenv.Error("chat: no LLM backend configured for this agent")
			}

			provider := "default"
			if cfgSrc != nil {
				if p := cfgSrc().Provider; p != "" {
					provider = p
				}
			}

			if limiter != nil {
				if check := limiter.Check(provider, estimateTokens(message)); !check.OK {
					return resultenv.Error(check.Message)
				}
			}

			reply, err := client.Complete(ctx, message)
			if err != nil {
				return resultenv.Error("chat: " + err.Error())
			}

			if limiter != nil {
				limiter.Track(provider, estimateTokens(message)+estimateTokens(reply), 1)
			}
			return resultenv.Ok(reply)
		},
	}
}
