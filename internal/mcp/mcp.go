// Package mcp provides the suiterun MCP server, exposing the run registry
// as tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/deixis/suiterun"
	"github.com/deixis/suiterun/internal/run"
)

//go:embed instructions.md
var Instructions string

// Registry is the view of the run registry the tools need.
type Registry interface {
	Suites() []string
	Start(ctx context.Context, suite string) (string, error)
	Status(id string) (run.Status, error)
	Cancel(id string) error
	List() []run.Status
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	registry Registry
	log      zerolog.Logger
}

// ServerOption configures the MCP server.
type ServerOption func(*handler)

// WithLogger logs tool failures to log.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(h *handler) { h.log = log }
}

// NewServer creates an MCP server with all suiterun tools registered.
func NewServer(reg Registry, opts ...ServerOption) *mcp.Server {
	h := &handler{registry: reg, log: zerolog.Nop()}
	for _, o := range opts {
		o(h)
	}

	s := mcp.NewServer(&mcp.Implementation{Name: "suiterun", Version: suiterun.Version}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "suite_list",
		Description: "List the test suites that can be started.",
	}, h.suiteListHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "suite_start",
		Description: `Start a test suite in the background and return its run ID.

The call returns as soon as the process is spawned. Poll suite_status with the
run ID to follow it.`,
	}, h.suiteStartHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "suite_status",
		Description: `Report the status of a run: active, completed, error or cancelled.

Includes the elapsed runtime in milliseconds, the decoded result of a completed
run, or the error of a failed or cancelled one.`,
	}, h.suiteStatusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "suite_cancel",
		Description: `Cancel an active run by killing its process.

The run becomes cancelled once the exit is observed; poll suite_status to confirm.
Cancelling a finished run has no effect.`,
	}, h.suiteCancelHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_list",
		Description: "List every known run, oldest first, with its status and runtime.",
	}, h.runListHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
