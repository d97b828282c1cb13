// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport runs the JSON-RPC line loop (spec §4.11) over
// standard input/output or a TCP listener, and provides a small client
// for talking to another Tool Server instance over the same protocol.
package transport

import (
	"bufio"
	"context"
	"io"
)

// LineHandler processes one line of JSON-RPC input and returns the
// response to write, or nil if no response is due. Matches
// jsonrpc.Handler.HandleLine without importing that package, so
// transport stays independent of the dispatch implementation.
type LineHandler func(ctx context.Context, line []byte) []byte

// maxLineSize bounds a single JSON-RPC message. Tool call arguments and
// results can be large (file contents, search results); 4 MiB is
// generous headroom over any realistic single call.
const maxLineSize = 4 * 1024 * 1024

// RunStdio pumps JSON-RPC requests from input to handler and writes
// responses to output, one line at a time, flushing after each write.
// EOF on input ends the loop cleanly and returns nil.
func RunStdio(ctx context.Context, input io.Reader, output io.Writer, handler LineHandler) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	writer := bufio.NewWriter(output)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := handler(ctx, line)
		if resp == nil {
			continue
		}
		if err := writeLine(writer, resp); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
