// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/llamar/llamar/internal/pathguard"
	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
)

const defaultShellTimeout = 30 * time.Second

// BashSkill returns the bash skill. Unlike read_file/write_file, a
// failing command returns Ok with "Error: <message>" rather than an
// Error result — the LLM needs to see stderr to react, and a shell
// command failing is an expected outcome, not an infrastructure fault.
func BashSkill() skill.Skill {
	return skill.Skill{
		Name:        "bash",
		Description: "Run a shell command and return its combined stdout/stderr",
		Params: []skill.Param{
			{Name: "command", Type: skill.TypeString, Description: "The shell command to run", Required: true},
			{Name: "timeout", Type: skill.TypeInteger, Description: "Timeout in seconds (default 30)"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			command := args["command"].(string)
			if d := pathguard.ValidateCommand(command); !d.OK {
				return resultenv.Error(d.Message)
			}

			timeout := defaultShellTimeout
			if n, ok := intArg(args, "timeout"); ok && n > 0 {
				timeout = time.Duration(n) * time.Second
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return resultenv.Ok("Error: " + err.Error() + "\n" + string(out))
			}
			return resultenv.Ok(string(out))
		},
	}
}

// RunScriptSkill returns a skill that runs code through interpreter,
// piping code to stdin and capturing combined stdout/stderr, with the
// same Ok-with-error-text convention as bash. name lets callers mint
// spec's fixed run_r alias alongside a general interpreter dispatch.
func RunScriptSkill(name, description, interpreter string) skill.Skill {
	return skill.Skill{
		Name:        name,
		Description: description,
		Params: []skill.Param{
			{Name: "code", Type: skill.TypeString, Description: "Code to execute", Required: true},
			{Name: "timeout", Type: skill.TypeInteger, Description: "Timeout in seconds (default 30)"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			code := args["code"].(string)

			timeout := defaultShellTimeout
			if n, ok := intArg(args, "timeout"); ok && n > 0 {
				timeout = time.Duration(n) * time.Second
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, interpreter)
			cmd.Stdin = strings.NewReader(code)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return resultenv.Ok("Error: " + err.Error() + "\n" + string(out))
			}
			return resultenv.Ok(string(out))
		},
	}
}

// RunRSkill is spec's fixed run_r tool name, wired to the Rscript
// interpreter.
func RunRSkill() skill.Skill {
	return RunScriptSkill("run_r", "Run R code and return its output", "Rscript")
}
