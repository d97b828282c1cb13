// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skill

import "encoding/json"

// property is one entry in a JSON Schema's "properties" object.
type property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// InputSchema builds the JSON Schema object MCP's tools/list expects
// for a skill's inputSchema field, from its declared Params.
func (s Skill) InputSchema() json.RawMessage {
	properties := map[string]property{}
	for _, p := range s.Params {
		properties[p.Name] = property{
			Type:        string(p.Type),
			Description: p.Description,
			Enum:        p.Enum,
		}
	}

	schema := struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties"`
		Required   []string            `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: properties,
		Required:   s.RequiredNames(),
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		// Params are simple, statically declared values; Marshal can
		// only fail here on a programming error in this file.
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

// ToolDefinition is the MCP tools/list entry shape: name, description,
// and an inputSchema produced from the skill's params.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Definition returns the MCP tool definition for s.
func (s Skill) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		InputSchema: s.InputSchema(),
	}
}
