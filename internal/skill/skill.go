// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package skill defines the Skill/Param vocabulary and a process-wide
// Registry, and runs the call state machine spec describes: validate
// required params, validate types, optionally preview (dry run),
// execute, then trace.
package skill

import (
	"context"
	"fmt"
	"sync"

	"github.com/llamar/llamar/internal/resultenv"
)

// ParamType is one of the JSON Schema primitive types a param may
// declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one named argument a skill accepts.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Handler is the function a skill calls to do its work. ctx carries
// the call deadline; args are the raw, already-type-checked JSON
// arguments.
type Handler func(ctx context.Context, args map[string]any) resultenv.Result

// Skill is one registered tool. The set of Required param names (see
// Params) must be a subset of the declared param names — Register
// panics if that invariant is violated, since it indicates a
// programming error in the skill's own definition, not bad input.
type Skill struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler

	// Deferrable marks read-only/query skills that stay inline in
	// tools/list even under a future progressive-disclosure mode.
	// Everything else may be omitted from that inline listing.
	Deferrable bool
}

// RequiredNames returns the names of this skill's required params, in
// declaration order.
func (s Skill) RequiredNames() []string {
	var names []string
	for _, p := range s.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

func (s Skill) paramByName(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry is a process-wide mapping of skill name to Skill. The zero
// value is usable; construct with NewRegistry for clarity.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	order  []string
	frozen bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{skills: map[string]Skill{}}
}

// Register installs skill into the registry, keyed by its name.
// Registering the same name twice replaces the previous registration
// without disturbing its position in List order. Panics if a
// required param name is not among the skill's declared params — this
// is a skill-authoring bug, not a runtime condition — or if the
// registry has already been frozen.
func (r *Registry) Register(s Skill) {
	for _, name := range s.RequiredNames() {
		if _, ok := s.paramByName(name); !ok {
			panic(fmt.Sprintf("skill %q declares %q required but has no such param", s.Name, name))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("skill %q registered after Registry.Freeze", s.Name))
	}
	if r.skills == nil {
		r.skills = map[string]Skill{}
	}
	if _, exists := r.skills[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	}
	r.skills[s.Name] = s
}

// Freeze marks the registry read-only. Called once at startup after
// every built-in and SKILL.md registration has run; any later
// Register call panics. Lookup and List are unaffected and remain
// safe for concurrent use before and after Freeze.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the skill registered under name, if any.
func (r *Registry) Lookup(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all registered skills in registration order.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}
