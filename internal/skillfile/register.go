// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skillfile

import (
	"context"

	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
)

// ToSkill adapts a parsed SKILL.md into a skill.Skill. Calling it
// simply surfaces the skill's instructions to the model — a SKILL.md
// carries no code, only a name, description, and a body of guidance
// with its {baseDir} tokens already substituted.
func (f File) ToSkill() skill.Skill {
	body := f.Body
	return skill.Skill{
		Name:        f.Name,
		Description: f.Description,
		Deferrable:  true,
		Handler: func(_ context.Context, _ map[string]any) resultenv.Result {
			return resultenv.Ok(body)
		},
	}
}

// RegisterAll loads every SKILL.md under root and installs each as a
// skill in reg. A load error (a malformed front matter block, most
// commonly) is returned without partially registering the batch.
func RegisterAll(reg *skill.Registry, root string) error {
	files, err := Load(root)
	if err != nil {
		return err
	}
	for _, f := range files {
		reg.Register(f.ToSkill())
	}
	return nil
}
