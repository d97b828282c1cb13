// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skillfile

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/llamar/llamar/internal/skill"
)

func writeSkill(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadWalksNestedSkillDirectories(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "top_level", "---\nname: top_level\ndescription: a top level skill\n---\nDo the thing.\n")
	writeSkill(t, filepath.Join(root, "group"), "nested", "No front matter here.\n")

	files, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if names[0] != "nested" || names[1] != "top_level" {
		t.Fatalf("names = %v", names)
	}
}

func TestLoadMissingRootReturnsEmptySlice(t *testing.T) {
	files, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("got %d files, want 0", len(files))
	}
}

func TestLoadIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mixed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a skill"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	files, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("got %d files, want 0", len(files))
	}
}

func TestRegisterAllInstallsEachSkillIntoRegistry(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "greeter", "---\nname: greeter\ndescription: says hello\n---\nSay hello to the user.\n")

	reg := skill.NewRegistry()
	if err := RegisterAll(reg, root); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	got, ok := reg.Lookup("greeter")
	if !ok {
		t.Fatalf("greeter not registered")
	}
	if got.Description != "says hello" {
		t.Fatalf("Description = %q", got.Description)
	}
}

func TestRegisterAllFailsAtomicallyOnMalformedFrontMatter(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "good", "---\nname: good\ndescription: fine\n---\nbody\n")
	writeSkill(t, root, "bad", "---\nname: [unterminated\n---\nbody\n")

	reg := skill.NewRegistry()
	if err := RegisterAll(reg, root); err == nil {
		t.Fatalf("expected an error from malformed front matter")
	}
	if _, ok := reg.Lookup("good"); ok {
		t.Fatalf("good should not have been registered after a load failure")
	}
}
