// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/llamar/llamar/internal/config"
	"github.com/llamar/llamar/internal/permission"
	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/skill"
	"github.com/llamar/llamar/internal/toolerr"
)

// serverName and serverVersion identify this server in the
// initialize response.
const (
	serverName    = "llamar-toolserver"
	serverVersion = "0.1.0"
)

// ConfigSource returns the current, fully merged configuration. A
// function rather than a value so a connection sees config reloads
// (spec §5: "reloads replace the pointer atomically").
type ConfigSource func() config.Config

// Handler dispatches JSON-RPC 2.0 requests for one connection against
// a shared skill registry. A Handler is bound to exactly one session
// for its lifetime, matching spec §4.9's single-writer-per-connection
// model: skill.Tracer.AppendTrace only ever sees this one sessionID.
type Handler struct {
	registry     *skill.Registry
	cfgSrc       ConfigSource
	tracer       skill.Tracer
	logger       *slog.Logger
	approver     permission.Approver
	sessionID    string
	allowedTools map[string]bool // nil means every registered tool is allowed
}

// New returns a Handler for one connection. allowedTools restricts
// tools/list and tools/call to a subset of the registry — used to
// scope a subagent to config.Subagents.DefaultTools; pass nil for no
// restriction.
func New(registry *skill.Registry, cfgSrc ConfigSource, tracer skill.Tracer, logger *slog.Logger, approver permission.Approver, sessionID string, allowedTools []string) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var allowed map[string]bool
	if allowedTools != nil {
		allowed = make(map[string]bool, len(allowedTools))
		for _, name := range allowedTools {
			allowed[name] = true
		}
	}
	return &Handler{
		registry:     registry,
		cfgSrc:       cfgSrc,
		tracer:       tracer,
		logger:       logger,
		approver:     approver,
		sessionID:    sessionID,
		allowedTools: allowed,
	}
}

// HandleLine parses and dispatches one line of JSON-RPC input,
// returning the response to write, or nil if no response is due
// (a notification, or malformed JSON that per spec §4.10 is logged
// and discarded rather than answered with a parse-error response).
func (h *Handler) HandleLine(ctx context.Context, line []byte) []byte {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		h.logger.Warn("jsonrpc: discarding malformed request", "error", err)
		return nil
	}
	if req.IsNotification() {
		return nil
	}
	return h.dispatch(ctx, &req)
}

func (h *Handler) dispatch(ctx context.Context, req *Request) []byte {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	default:
		return encodeError(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

func (h *Handler) handleInitialize(req *Request) []byte {
	return encodeResult(req.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: toolCapability{}},
		ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
	})
}

func (h *Handler) handleToolsList(req *Request) []byte {
	var descriptions []toolDescription
	for _, s := range h.registry.List() {
		if !h.toolAllowed(s.Name) {
			continue
		}
		descriptions = append(descriptions, toolDescription{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: buildInputSchema(s),
		})
	}
	if descriptions == nil {
		descriptions = []toolDescription{}
	}
	return encodeResult(req.ID, toolsListResult{Tools: descriptions})
}

func (h *Handler) handleToolsCall(ctx context.Context, req *Request) []byte {
	if len(req.Params) == 0 {
		return encodeResult(req.ID, buildToolsCallResult(resultenv.Errorf(toolerr.Validationf("params required for tools/call"))))
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return encodeResult(req.ID, buildToolsCallResult(resultenv.Errorf(toolerr.Validationf("invalid tools/call params: %s", err))))
	}

	s, ok := h.registry.Lookup(params.Name)
	if !ok || !h.toolAllowed(params.Name) {
		return encodeResult(req.ID, buildToolsCallResult(resultenv.Errorf(toolerr.NotFoundf("unknown tool: %s", params.Name))))
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return encodeResult(req.ID, buildToolsCallResult(resultenv.Errorf(toolerr.Validationf("invalid arguments: %s", err))))
		}
	}

	cfg := h.cfgSrc()
	proceed, approvedBy := permission.Gate(s.Name, summarizeArgs(args), cfg, h.approver)
	if !proceed {
		return encodeResult(req.ID, buildToolsCallResult(resultenv.Errorf(toolerr.Forbiddenf("Permission denied for tool: %s", s.Name))))
	}

	callCtx := skill.CallContext{SessionID: h.sessionID, ApprovedBy: approvedBy}
	timeout := time.Duration(cfg.SkillTimeout) * time.Second
	result := skill.Run(ctx, s, args, callCtx, timeout, cfg.DryRun, h.tracer, h.logger)

	return encodeResult(req.ID, buildToolsCallResult(result))
}

func (h *Handler) toolAllowed(name string) bool {
	if h.allowedTools == nil {
		return true
	}
	return h.allowedTools[name]
}

func buildInputSchema(s skill.Skill) any {
	properties := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"type": string(p.Type), "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if required := s.RequiredNames(); len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func buildToolsCallResult(r resultenv.Result) toolsCallResult {
	blocks := make([]contentBlock, len(r.Content))
	for i, c := range r.Content {
		blocks[i] = contentBlock{Type: c.Type, Text: c.Text}
	}
	out := toolsCallResult{Content: blocks, IsError: r.IsError}
	if r.IsError {
		out.ErrorInfo = &errorInfo{Category: string(r.Category), Retryable: r.Retryable}
	}
	return out
}

func summarizeArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

func encodeResult(id json.RawMessage, result any) []byte {
	data, err := json.Marshal(Response{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		return encodeError(id, CodeInternalError, fmt.Sprintf("encoding result: %v", err))
	}
	return data
}

func encodeError(id json.RawMessage, code int, message string) []byte {
	data, _ := json.Marshal(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
	return data
}
