// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the built-in skill handlers: file access,
// shell/script execution, git wrappers, and the memory_store bridge.
// Each handler obeys the resultenv Ok/Error envelope.
package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/llamar/llamar/internal/config"
	"github.com/llamar/llamar/internal/pathguard"
	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
	"github.com/llamar/llamar/internal/toolerr"
)

// ConfigSource returns the current Config for path-guard checks. Tool
// handlers read configuration through this indirection rather than a
// captured value so live config reloads (internal/config.Watcher) take
// effect without re-registering skills.
type ConfigSource func() config.Config

func guardConfig(src ConfigSource) pathguard.Config {
	cfg := src()
	return pathguard.Config{AllowedPaths: cfg.AllowedPaths, DeniedPaths: cfg.DeniedPaths}
}

// ReadFileSkill returns the read_file skill: expands ~, fails if the
// file is missing, and returns either the whole file or its first N
// lines.
func ReadFileSkill(cfgSrc ConfigSource) skill.Skill {
	return skill.Skill{
		Name:        "read_file",
		Description: "Read the contents of a file, optionally limited to the first N lines",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "File path to read", Required: true},
			{Name: "lines", Type: skill.TypeInteger, Description: "If set, return only the first N lines"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			path := pathguard.Normalize(args["path"].(string))
			if d := pathguard.ValidatePath(path, guardConfig(cfgSrc), "read"); !d.OK {
				return resultenv.Errorf(toolerr.Forbiddenf("%s", d.Message))
			}

			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return resultenv.Errorf(toolerr.NotFoundf("Could not read %s: %s", path, err))
				}
				return resultenv.Error("Could not read " + path + ": " + err.Error())
			}

			content := string(data)
			if n, ok := intArg(args, "lines"); ok && n > 0 {
				allLines := strings.Split(content, "\n")
				if n < len(allLines) {
					content = strings.Join(allLines[:n], "\n")
				}
			}
			return resultenv.Ok(content)
		},
	}
}

// WriteFileSkill returns the write_file skill: replaces the file's
// contents and reports the byte count written.
func WriteFileSkill(cfgSrc ConfigSource) skill.Skill {
	return skill.Skill{
		Name:        "write_file",
		Description: "Write content to a file, replacing it if it already exists",
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "File path to write", Required: true},
			{Name: "content", Type: skill.TypeString, Description: "Content to write", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			path := pathguard.Normalize(args["path"].(string))
			if d := pathguard.ValidatePath(path, guardConfig(cfgSrc), "write"); !d.OK {
				return resultenv.Errorf(toolerr.Forbiddenf("%s", d.Message))
			}

			content := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return resultenv.Error("Could not create parent directories: " + err.Error())
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return resultenv.Error("Could not write " + path + ": " + err.Error())
			}
			return resultenv.Okf("Wrote %d bytes to %s", len(content), path)
		},
	}
}

// ListFilesSkill returns the list_files skill.
func ListFilesSkill(cfgSrc ConfigSource) skill.Skill {
	return skill.Skill{
		Name:        "list_files",
		Description: "List files in a directory, optionally filtered by a glob pattern",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "path", Type: skill.TypeString, Description: "Directory to list", Required: true},
			{Name: "pattern", Type: skill.TypeString, Description: "Glob pattern to filter names, e.g. \"*.R\""},
			{Name: "recursive", Type: skill.TypeBoolean, Description: "List recursively into subdirectories"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			path := pathguard.Normalize(args["path"].(string))
			if d := pathguard.ValidatePath(path, guardConfig(cfgSrc), "list"); !d.OK {
				return resultenv.Errorf(toolerr.Forbiddenf("%s", d.Message))
			}
			pattern, _ := args["pattern"].(string)
			recursive, _ := args["recursive"].(bool)

			var names []string
			if recursive {
				err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
					if err != nil {
						return nil
					}
					if p == path {
						return nil
					}
					if info.IsDir() {
						return nil
					}
					if pattern != "" {
						if matched, _ := filepath.Match(pattern, info.Name()); !matched {
							return nil
						}
					}
					rel, _ := filepath.Rel(path, p)
					names = append(names, rel)
					return nil
				})
				if err != nil {
					return resultenv.Error("Could not list " + path + ": " + err.Error())
				}
			} else {
				entries, err := os.ReadDir(path)
				if err != nil {
					return resultenv.Error("Could not list " + path + ": " + err.Error())
				}
				for _, entry := range entries {
					if pattern != "" {
						if matched, _ := filepath.Match(pattern, entry.Name()); !matched {
							continue
						}
					}
					names = append(names, entry.Name())
				}
			}

			if len(names) == 0 {
				return resultenv.Ok("No files found")
			}
			return resultenv.Ok(strings.Join(names, "\n"))
		},
	}
}

// GrepFilesSkill returns the grep_files skill: a recursive regex
// search whose matches are reported as "path:line: text".
func GrepFilesSkill(cfgSrc ConfigSource) skill.Skill {
	return skill.Skill{
		Name:        "grep_files",
		Description: "Search files under a directory for lines matching a regular expression",
		Deferrable:  true,
		Params: []skill.Param{
			{Name: "pattern", Type: skill.TypeString, Description: "Regular expression to search for", Required: true},
			{Name: "path", Type: skill.TypeString, Description: "Directory to search (default: current directory)"},
			{Name: "file_pattern", Type: skill.TypeString, Description: "Glob pattern restricting which filenames are searched (default: \"*.R\")"},
		},
		Handler: func(ctx context.Context, args map[string]any) resultenv.Result {
			root, _ := args["path"].(string)
			if root == "" {
				root = "."
			}
			root = pathguard.Normalize(root)
			if d := pathguard.ValidatePath(root, guardConfig(cfgSrc), "read"); !d.OK {
				return resultenv.Errorf(toolerr.Forbiddenf("%s", d.Message))
			}

			filePattern, _ := args["file_pattern"].(string)
			if filePattern == "" {
				filePattern = "*.R"
			}

			re, err := regexp.Compile(args["pattern"].(string))
			if err != nil {
				return resultenv.Error("Invalid pattern: " + err.Error())
			}

			var matches []string
			err = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
				if walkErr != nil || info.IsDir() {
					return nil
				}
				if matched, _ := filepath.Match(filePattern, info.Name()); !matched {
					return nil
				}
				data, readErr := os.ReadFile(p)
				if readErr != nil {
					return nil
				}
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						matches = append(matches, p+":"+strconv.Itoa(i+1)+": "+line)
					}
				}
				return nil
			})
			if err != nil {
				return resultenv.Error("Could not search " + root + ": " + err.Error())
			}
			if len(matches) == 0 {
				return resultenv.Ok("No matches found")
			}
			return resultenv.Ok(strings.Join(matches, "\n"))
		},
	}
}

func intArg(args map[string]any, name string) (int, bool) {
	v, ok := args[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
