// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skillfile

import (
	"io/fs"
	"os"
	"path/filepath"
)

// skillFileName is the single file name this package looks for under
// each skill directory, per spec §6's "skills/<name>/SKILL.md" layout.
const skillFileName = "SKILL.md"

// Load walks root (typically ~/.llamar/skills or <cwd>/.llamar/skills)
// for SKILL.md files, one directory deep or nested arbitrarily — any
// directory containing a SKILL.md is a skill. Missing root is not an
// error: it returns an empty slice, since skill files are optional.
func Load(root string) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || entry.Name() != skillFileName {
			return nil
		}

		baseDir := filepath.Dir(path)
		contents, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}

		file, parseErr := Parse(path, baseDir, contents)
		if parseErr != nil {
			return parseErr
		}
		files = append(files, file)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return files, nil
}
