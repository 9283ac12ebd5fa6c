package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// maxLineSize bounds a single request line (4 MB).
const maxLineSize = 4 * 1024 * 1024

// StdioTransport serves a Server over newline-delimited JSON-RPC 2.0, one
// message per line in each direction. Nothing but response frames may be
// written to out, so the logger must write elsewhere.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewStdioTransport reads requests from in and writes responses to out. A
// nil logger discards output.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: logger,
	}
}

// Serve handles requests in arrival order until the input ends or ctx is
// done. Lines are read on a separate goroutine so cancellation does not wait
// for the next line.
func (t *StdioTransport) Serve(ctx context.Context) error {
	lines, readErr := t.readLines(ctx)

	for {
		var line []byte
		select {
		case <-ctx.Done():
			t.logger.Info("context cancelled, shutting down")
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := <-readErr; err != nil {
					t.logger.Error("stdin read error", zap.Error(err))
					return fmt.Errorf("stdin scanner: %w", err)
				}
				t.logger.Info("stdin closed, shutting down")
				return nil
			}
			line = l
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Error("handler error", zap.Error(err))
			resp = t.internalErrorResponse(line, err)
		}
		if resp == nil {
			continue
		}
		if err := t.writeResponse(resp); err != nil {
			t.logger.Error("write error", zap.Error(err))
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// readLines scans t.in into a channel that is closed at end of input. The
// scanner error, possibly nil, is sent before the close unless ctx ended
// first.
func (t *StdioTransport) readLines(ctx context.Context) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// writeResponse writes a single JSON-RPC response line.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse answers an unexpected handler error, echoing the
// request id when the line has one.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
