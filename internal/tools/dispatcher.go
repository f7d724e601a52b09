// Package tools adapts the PTY session engine's seven operations to the
// Model Context Protocol tool-calling convention. This layer is
// deliberately thin: schema declaration and dispatch only, translating
// MCP tool calls into Registry/Session operations and flattening every
// error into the user-visible text the protocol expects.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ianremillard/ptybridge/internal/ptyerr"
	"github.com/ianremillard/ptybridge/internal/registry"
	"github.com/ianremillard/ptybridge/internal/session"
)

// Dispatcher wires the Registry into MCP tool handlers.
type Dispatcher struct {
	reg           *registry.Registry
	defaultShell  string
	defaultBuffer int
	defaultIdle   time.Duration
}

// NewDispatcher builds a Dispatcher. defaultShell is used for
// start_session calls that omit command; defaultBuffer and defaultIdle
// back-fill buffer_size and timeout_seconds when omitted.
func NewDispatcher(reg *registry.Registry, defaultShell string, defaultBuffer int, defaultIdle time.Duration) *Dispatcher {
	return &Dispatcher{
		reg:           reg,
		defaultShell:  defaultShell,
		defaultBuffer: defaultBuffer,
		defaultIdle:   defaultIdle,
	}
}

// Register adds all seven PTY tools to an MCP server.
func (d *Dispatcher) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a new PTY session. Returns a session_id to use with other tools."),
		mcp.WithString("command", mcp.Description("Executable to run (default: $SHELL or /bin/sh)")),
		mcp.WithArray("args", mcp.Description("Additional arguments for command")),
		mcp.WithString("cwd", mcp.Description("Working directory for the session (default: current directory)")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Idle timeout in seconds (default: 1800)")),
		mcp.WithNumber("buffer_size", mcp.Description("Scrollback buffer size in lines (default: 1000)")),
		mcp.WithString("sentinel_command", mcp.Description("Template to echo the sentinel, e.g. \"print('{sentinel}')\" for a Python REPL. Must contain {sentinel}. Default: 'echo {sentinel}'")),
	), d.startSession)

	s.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run a command in a PTY session and wait for completion using sentinel-based detection."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID returned by start_session")),
		mcp.WithString("command", mcp.Required(), mcp.Description("The command to run")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in seconds to wait for completion (default: 30)")),
	), d.runCommand)

	s.AddTool(mcp.NewTool("send_keys",
		mcp.WithDescription("Send raw input to a PTY session without waiting for completion. Use for interactive input, Ctrl+C (\\x03), etc."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("keys", mcp.Required(), mcp.Description(`Raw input to send. \n for Enter, \x03 for Ctrl+C, etc.`)),
	), d.sendKeys)

	s.AddTool(mcp.NewTool("get_buffer",
		mcp.WithDescription("Get the scrollback buffer from a PTY session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithNumber("lines", mcp.Description("Number of lines to return from the end of the buffer. Omit for the full buffer.")),
	), d.getBuffer)

	s.AddTool(mcp.NewTool("stop_session",
		mcp.WithDescription("Stop and clean up a PTY session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID to stop")),
	), d.stopSession)

	s.AddTool(mcp.NewTool("set_sentinel",
		mcp.WithDescription("Change the sentinel command for a session. Use when switching between shells/REPLs."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("sentinel_command", mcp.Required(), mcp.Description("New sentinel template. Must contain {sentinel}.")),
	), d.setSentinel)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List all active PTY sessions."),
	), d.listSessions)
}

func (d *Dispatcher) startSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := req.GetString("command", "")
	args := req.GetStringSlice("args", nil)
	cwd := req.GetString("cwd", "")
	idleSeconds := req.GetInt("timeout_seconds", 0)
	bufferSize := req.GetInt("buffer_size", 0)
	sentinelCmd := req.GetString("sentinel_command", "")

	if command == "" {
		command = d.defaultShell
		args = nil
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	idle := d.defaultIdle
	if idleSeconds > 0 {
		idle = time.Duration(idleSeconds) * time.Second
	}
	bufSize := d.defaultBuffer
	if bufferSize > 0 {
		bufSize = bufferSize
	}

	cfg := session.Config{
		Command:     command,
		Args:        args,
		Cwd:         cwd,
		IdleTimeout: idle,
		BufferSize:  bufSize,
	}

	sess, err := d.reg.Create(cfg)
	if err != nil {
		return errorResult(err), nil
	}

	if sentinelCmd != "" {
		if err := sess.SetSentinel(sentinelCmd); err != nil {
			return errorResult(err), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session started: %s\nCommand: %s\nCWD: %s", sess.ID, command, cwd)), nil
}

func (d *Dispatcher) runCommand(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	command := req.GetString("command", "")
	timeoutSeconds := req.GetFloat("timeout", 30)

	sess, ok := d.reg.Get(sessionID)
	if !ok {
		return notFoundResult(sessionID), nil
	}

	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	output, completed, err := sess.RunCommand(command, timeout)
	if err != nil {
		return errorResult(err), nil
	}
	if !completed {
		output = fmt.Sprintf("[TIMEOUT: Command did not complete within %gs]\n%s", timeoutSeconds, output)
	}
	return mcp.NewToolResultText(output), nil
}

func (d *Dispatcher) sendKeys(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	keys := req.GetString("keys", "")

	sess, ok := d.reg.Get(sessionID)
	if !ok {
		return notFoundResult(sessionID), nil
	}

	if err := sess.SendKeys(decodeKeys(keys)); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText("Keys sent"), nil
}

func (d *Dispatcher) getBuffer(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")

	sess, ok := d.reg.Get(sessionID)
	if !ok {
		return notFoundResult(sessionID), nil
	}

	var lines *int
	if raw, present := req.GetArguments()["lines"]; present {
		if f, ok := raw.(float64); ok {
			n := int(f)
			lines = &n
		}
	}
	return mcp.NewToolResultText(sess.GetBuffer(lines)), nil
}

func (d *Dispatcher) stopSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")

	if !d.reg.Remove(sessionID) {
		return notFoundResult(sessionID), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session stopped: %s", sessionID)), nil
}

func (d *Dispatcher) setSentinel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	sentinelCmd := req.GetString("sentinel_command", "")

	sess, ok := d.reg.Get(sessionID)
	if !ok {
		return notFoundResult(sessionID), nil
	}

	if err := sess.SetSentinel(sentinelCmd); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sentinel command updated to: %s", sentinelCmd)), nil
}

func (d *Dispatcher) listSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := d.reg.List()
	if len(infos) == 0 {
		return mcp.NewToolResultText("No active sessions"), nil
	}

	lines := []string{"Active sessions:"}
	for _, info := range infos {
		lines = append(lines, fmt.Sprintf("  %s: %s (cwd: %s, alive: %t)", info.ID, info.Command, info.Cwd, info.IsAlive))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func notFoundResult(sessionID string) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf("Session not found: %s", sessionID))
}

// errorResult renders err as the user-visible text the tool surface
// returns; NotFound and Capacity kinds are rendered verbatim (they are
// already phrased for display), everything else gets an "Error: " prefix.
func errorResult(err error) *mcp.CallToolResult {
	var pe *ptyerr.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case ptyerr.NotFound, ptyerr.Capacity:
			return mcp.NewToolResultText(pe.Error())
		}
	}
	return mcp.NewToolResultText("Error: " + err.Error())
}
