// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
)

// MemoryStore is the subset of internal/memory.Store that the
// memory_store skill needs. Accepted as an interface to avoid an
// import cycle between tools and memory.
type MemoryStore interface {
	Append(fact string, tags []string, category, scope, cwd string) error
}

// MemoryStoreSkill returns the memory_store skill, which delegates to
// store.Append. Tags may also be embedded as hashtags directly in fact;
// the memory document face extracts and merges both.
func MemoryStoreSkill(store MemoryStore) skill.Skill {
	return skill.Skill{
		Name:        "memory_store",
		Description: "Remember a fact in project or global memory for future sessions",
		Params: []skill.Param{
			{Name: "fact", Type: skill.TypeString, Description: "The fact to remember", Required: true},
			{Name: "scope", Type: skill.TypeString, Description: "Where to store the fact", Required: true, Enum: []string{"project", "global"}},
			{Name: "tags", Type: skill.TypeArray, Description: "Tags to attach, without the leading #"},
			{Name: "category", Type: skill.TypeString, Description: "Section to file the fact under; auto-detected if omitted"},
			{Name: "cwd", Type: skill.TypeString, Description: "Working directory, required when scope is \"project\""},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			fact := args["fact"].(string)
			scope := args["scope"].(string)
			tags := stringArg(args, "tags")
			category, _ := args["category"].(string)
			cwd, _ := args["cwd"].(string)
			if err := store.Append(fact, tags, category, scope, cwd); err != nil {
				return resultenv.Error("Could not store memory: " + err.Error())
			}
			return resultenv.Okf("Remembered (%s): %s", scope, fact)
		},
	}
}

func stringArg(args map[string]any, name string) []string {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
