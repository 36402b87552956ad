// Copyright 2026 Yulong Bai
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/jsonrpc"
)

// replier delivers JSON-RPC responses back to the transport.
type replier interface {
	Reply(msg *jsonrpc.Message)
}

// toolFunc executes one tool call.
type toolFunc func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// toolHandler serves a small built-in tool set so the endpoint answers
// tools/list and tools/call end to end.
type toolHandler struct {
	logger   *slog.Logger
	replier  replier
	tools    []mcp.Tool
	handlers map[string]toolFunc

	serverName    string
	serverVersion string
}

func newToolHandler(name, version string, logger *slog.Logger) *toolHandler {
	h := &toolHandler{
		logger:        logger,
		handlers:      make(map[string]toolFunc),
		serverName:    name,
		serverVersion: version,
	}

	h.register(mcp.Tool{
		Name:        "echo",
		Description: "Echo the given text back to the caller.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to echo back",
				},
			},
			Required: []string{"text"},
		},
	}, h.handleEcho)

	h.register(mcp.Tool{
		Name:        "current_time",
		Description: "Return the server's current time in RFC 3339 format.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.handleCurrentTime)

	return h
}

// setReplier wires the transport in after construction; the transport
// needs the handler first.
func (h *toolHandler) setReplier(r replier) {
	h.replier = r
}

func (h *toolHandler) register(tool mcp.Tool, fn toolFunc) {
	h.tools = append(h.tools, tool)
	h.handlers[tool.Name] = fn
}

// Dispatch routes an inbound JSON-RPC message to the built-in tool
// set. Replies are delivered through the transport's correlator.
func (h *toolHandler) Dispatch(ctx context.Context, msg *jsonrpc.Message) error {
	if msg.IsNotification() {
		h.logger.Debug("ignoring notification", "method", msg.Method)
		return nil
	}

	switch msg.Method {
	case "initialize":
		h.reply(msg.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": true},
			},
			"serverInfo": map[string]any{
				"name":    h.serverName,
				"version": h.serverVersion,
			},
		})
		return nil

	case jsonrpc.NamePing:
		h.reply(msg.ID, struct{}{})
		return nil

	case jsonrpc.NameToolsList:
		h.reply(msg.ID, mcp.ListToolsResult{Tools: h.tools})
		return nil

	case jsonrpc.NameToolsCall:
		return h.dispatchToolCall(ctx, msg)

	default:
		h.replier.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method)))
		return nil
	}
}

func (h *toolHandler) dispatchToolCall(ctx context.Context, msg *jsonrpc.Message) error {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		h.replier.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, fmt.Sprintf("invalid tools/call params: %v", err)))
		return nil
	}

	fn, ok := h.handlers[params.Name]
	if !ok {
		h.replier.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name)))
		return nil
	}

	result, err := fn(ctx, params.Arguments)
	if err != nil {
		result = mcp.NewToolResultError(err.Error())
	}
	h.reply(msg.ID, result)
	return nil
}

func (h *toolHandler) reply(id json.RawMessage, result any) {
	resp, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		h.logger.Error("failed to build response", "error", err)
		h.replier.Reply(jsonrpc.NewError(id, jsonrpc.CodeInternalError, err.Error()))
		return
	}
	h.replier.Reply(resp)
}

func (h *toolHandler) handleEcho(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid echo arguments: %w", err)
	}
	if in.Text == "" {
		return nil, fmt.Errorf("text is required")
	}
	return mcp.NewToolResultText(in.Text), nil
}

func (h *toolHandler) handleCurrentTime(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().Format(time.RFC3339)), nil
}
