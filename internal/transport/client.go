// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds the connect phase of a Client call, separate from
// the time spent waiting for the subagent to answer.
const dialTimeout = 5 * time.Second

// responseTimeout bounds how long Call waits for a single JSON-RPC
// response line once the request has been written.
const responseTimeout = 5 * time.Minute

// Client speaks JSON-RPC to another Tool Server instance over TCP.
// Each Call dials a fresh connection, performs initialize, issues one
// request, and closes — mirroring the one-request-per-connection shape
// used elsewhere in this codebase for inter-process calls, adapted here
// to the newline-delimited JSON-RPC wire format instead of CBOR.
type Client struct {
	addr string
}

// NewClient returns a client that will dial addr (e.g. "127.0.0.1:7232")
// on every Call.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// rpcError mirrors jsonrpc.RPCError without importing that package.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Call dials the subagent, performs the initialize handshake, invokes
// tool with arguments via tools/call, and returns the concatenated text
// content of the result. A non-nil error means the call never produced
// a usable result (dial failure, protocol error, or a tools/call
// isError response carrying the tool's own error text).
func (c *Client) Call(ctx context.Context, tool string, arguments map[string]any) (string, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("connecting to subagent at %s: %w", c.addr, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if _, err := c.roundTrip(conn, reader, 1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "llamar-subagent-client"},
	}); err != nil {
		return "", fmt.Errorf("initializing subagent connection: %w", err)
	}

	argsRaw, err := c.roundTrip(conn, reader, 2, "tools/call", map[string]any{
		"name":      tool,
		"arguments": arguments,
	})
	if err != nil {
		return "", fmt.Errorf("calling %q on subagent: %w", tool, err)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(argsRaw, &result); err != nil {
		return "", fmt.Errorf("decoding subagent result: %w", err)
	}

	var text string
	for _, block := range result.Content {
		text += block.Text
	}
	if result.IsError {
		return "", fmt.Errorf("subagent tool %q failed: %s", tool, text)
	}
	return text, nil
}

func (c *Client) roundTrip(conn net.Conn, reader *bufio.Reader, id int, method string, params any) (json.RawMessage, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  json.RawMessage(paramsRaw),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(append(request, '\n')); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(responseTimeout))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Result, nil
}
