// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
)

func runGit(ctx context.Context, repo string, args ...string) resultenv.Result {
	cmdArgs := append([]string{"-C", repo}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return resultenv.Error("git " + args[0] + " failed: " + string(out))
	}
	return resultenv.Ok(string(out))
}

// GitStatusSkill wraps `git status`.
func GitStatusSkill() skill.Skill {
	return skill.Skill{
		Name:        "git_status",
		Description: "Show the working tree status of a git repository",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "Repository path (default: current directory)"},
			{Name: "short", Type: skill.TypeBoolean, Description: "Use short-format output"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			repo := repoPath(args)
			gitArgs := []string{"status"}
			if short, _ := args["short"].(bool); short {
				gitArgs = append(gitArgs, "--short")
			}
			return runGit(ctx, repo, gitArgs...)
		},
	}
}

// GitDiffSkill wraps `git diff`.
func GitDiffSkill() skill.Skill {
	return skill.Skill{
		Name:        "git_diff",
		Description: "Show changes between the working tree and the index, or a specific path",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "Repository path (default: current directory)"},
			{Name: "staged", Type: skill.TypeBoolean, Description: "Show staged changes (git diff --staged)"},
			{Name: "file", Type: skill.TypeString, Description: "Limit the diff to this file or directory"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			repo := repoPath(args)
			gitArgs := []string{"diff"}
			if staged, _ := args["staged"].(bool); staged {
				gitArgs = append(gitArgs, "--staged")
			}
			if file, ok := args["file"].(string); ok && file != "" {
				gitArgs = append(gitArgs, "--", file)
			}
			return runGit(ctx, repo, gitArgs...)
		},
	}
}

// GitLogSkill wraps `git log`.
func GitLogSkill() skill.Skill {
	return skill.Skill{
		Name:        "git_log",
		Description: "Show commit history",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "Repository path (default: current directory)"},
			{Name: "limit", Type: skill.TypeInteger, Description: "Maximum number of commits to show (default 20, capped at 100)"},
			{Name: "oneline", Type: skill.TypeBoolean, Description: "One line per commit"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			repo := repoPath(args)
			limit := 20
			if n, ok := intArg(args, "limit"); ok && n > 0 {
				limit = n
			}
			if limit > 100 {
				limit = 100
			}
			gitArgs := []string{"log", "-" + strconv.Itoa(limit)}
			if oneline, _ := args["oneline"].(bool); oneline {
				gitArgs = append(gitArgs, "--oneline")
			}
			return runGit(ctx, repo, gitArgs...)
		},
	}
}

func repoPath(args map[string]any) string {
	if p, ok := args["path"].(string); ok && p != "" {
		return p
	}
	return "."
}
