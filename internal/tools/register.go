// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"github.com/llamar/llamar/internal/ratelimit"
	"github.com/llamar/llamar/internal/skill"
)

// Register installs every built-in skill (file, shell, script, git,
// memory, chat) into reg. cfgSrc supplies live path-guard
// configuration; memoryStore backs memory_store; llmClient and limiter
// back chat and may both be nil. scriptInterpreters generalizes run_r:
// each key becomes its own skill named "run_<key>" wired to the given
// interpreter binary, in addition to the always-present run_r.
func Register(reg *skill.Registry, cfgSrc ConfigSource, memoryStore MemoryStore, llmClient LLMClient, limiter *ratelimit.Limiter, scriptInterpreters map[string]string) {
	reg.Register(ReadFileSkill(cfgSrc))
	reg.Register(WriteFileSkill(cfgSrc))
	reg.Register(ListFilesSkill(cfgSrc))
	reg.Register(GrepFilesSkill(cfgSrc))
	reg.Register(BashSkill())
	reg.Register(RunRSkill())
	reg.Register(GitStatusSkill())
	reg.Register(GitDiffSkill())
	reg.Register(GitLogSkill())
	reg.Register(MemoryStoreSkill(memoryStore))
	reg.Register(ChatSkill(llmClient, limiter, cfgSrc))

	for name, interpreter := range scriptInterpreters {
		reg.Register(RunScriptSkill("run_"+name, "Run "+name+" code and return its output", interpreter))
	}
}
