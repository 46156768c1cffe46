package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/suiterun/internal/run"
)

type suiteListParams struct{}

func (h *handler) suiteListHandler(ctx context.Context, req *mcp.CallToolRequest, _ suiteListParams) (*mcp.CallToolResult, any, error) {
	suites := h.registry.Suites()
	if len(suites) == 0 {
		return textResult("No suites configured.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Suites (%d):\n", len(suites))
	for _, s := range suites {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	return textResult(b.String())
}

type suiteStartParams struct {
	Suite string `json:"suite" jsonschema:"name of the suite to start, as listed by suite_list"`
}

func (h *handler) suiteStartHandler(ctx context.Context, req *mcp.CallToolRequest, params suiteStartParams) (*mcp.CallToolResult, any, error) {
	if params.Suite == "" {
		return errorResult("suite is required")
	}
	id, err := h.registry.Start(ctx, params.Suite)
	if err != nil {
		h.log.Debug().Err(err).Str("suite", params.Suite).Msg("suite_start failed")
		if run.IsNotFound(err) {
			return errorResult(fmt.Sprintf("Unknown suite %q. Use suite_list to see the available suites.", params.Suite))
		}
		return errorResult(fmt.Sprintf("Failed to start %s: %v", params.Suite, err))
	}
	return textResult(fmt.Sprintf("Run: %s\nSuite: %s\nStatus: active\n\nPoll suite_status with run_id %q until the run finishes.", id, params.Suite, id))
}

type runIDParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID returned by suite_start"`
}

func (h *handler) suiteStatusHandler(ctx context.Context, req *mcp.CallToolRequest, params runIDParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	st, err := h.registry.Status(params.RunID)
	if err != nil {
		return lookupError(params.RunID, err)
	}
	return textResult(formatStatus(&st))
}

func (h *handler) suiteCancelHandler(ctx context.Context, req *mcp.CallToolRequest, params runIDParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if err := h.registry.Cancel(params.RunID); err != nil {
		return lookupError(params.RunID, err)
	}
	return textResult(fmt.Sprintf("Run %s: cancellation requested. Poll suite_status to confirm it is cancelled.", params.RunID))
}

type runListParams struct{}

func (h *handler) runListHandler(ctx context.Context, req *mcp.CallToolRequest, _ runListParams) (*mcp.CallToolResult, any, error) {
	runs := h.registry.List()
	if len(runs) == 0 {
		return textResult("No runs.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Runs (%d):\n", len(runs))
	for _, st := range runs {
		fmt.Fprintf(&b, "  %s  %-10s %-9s %dms", st.ID, st.Suite, st.Status, st.Runtime)
		if st.ErrorKind != "" {
			fmt.Fprintf(&b, "  (%s)", st.ErrorKind)
		}
		b.WriteByte('\n')
	}
	return textResult(b.String())
}

func lookupError(runID string, err error) (*mcp.CallToolResult, any, error) {
	if run.IsNotFound(err) {
		return errorResult(fmt.Sprintf("Run %s not found. Use run_list to see known runs.", runID))
	}
	return errorResult(fmt.Sprintf("Run %s: %v", runID, err))
}

func formatStatus(st *run.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", st.ID)
	fmt.Fprintf(&b, "Suite: %s\n", st.Suite)
	fmt.Fprintf(&b, "Status: %s\n", st.Status)
	fmt.Fprintf(&b, "Runtime: %dms\n", st.Runtime)

	switch {
	case st.Error != "":
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Error (%s): %s\n", st.ErrorKind, st.Error)
	case st.Result != nil:
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Result:")
		if s, ok := st.Result.(fmt.Stringer); ok {
			fmt.Fprintln(&b, s.String())
			break
		}
		data, err := json.MarshalIndent(st.Result, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "%v\n", st.Result)
			break
		}
		fmt.Fprintln(&b, string(data))
	}
	return b.String()
}
