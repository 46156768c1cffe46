package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// LintSummary holds the findings of a linter run.
type LintSummary struct {
	Status string      `json:"status"` // OK or FAIL
	Issues []LintIssue `json:"issues,omitempty"`
}

// LintIssue holds a single lint finding.
type LintIssue struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Source   string `json:"source"` // linter name or check code
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

func (s *LintSummary) String() string {
	var b strings.Builder

	if len(s.Issues) == 0 {
		fmt.Fprintln(&b, "Status: OK")
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "No lint issues found.")
		return b.String()
	}
	fmt.Fprintf(&b, "Status: %d issues found\n", len(s.Issues))
	fmt.Fprintln(&b)
	for _, issue := range s.Issues {
		fmt.Fprintf(&b, "%s:%d:%d (%s): %s\n", issue.File, issue.Line, issue.Column, issue.Source, issue.Message)
	}
	return b.String()
}

func newLintSummary(issues []LintIssue) *LintSummary {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		return issues[i].Line < issues[j].Line
	})
	s := &LintSummary{Status: "OK", Issues: issues}
	if len(issues) > 0 {
		s.Status = "FAIL"
	}
	return s
}

// golangciLintOutput is the top-level JSON output of `golangci-lint run`
// with JSON output enabled.
type golangciLintOutput struct {
	Issues []golangciLintIssue `json:"Issues"`
}

type golangciLintIssue struct {
	FromLinter string          `json:"FromLinter"`
	Text       string          `json:"Text"`
	Severity   string          `json:"Severity"`
	Pos        golangciLintPos `json:"Pos"`
}

type golangciLintPos struct {
	Filename string `json:"Filename"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

func decodeGolangci(data []byte) (any, error) {
	var out golangciLintOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid golangci-lint output: %w", err)
	}
	issues := make([]LintIssue, 0, len(out.Issues))
	for _, issue := range out.Issues {
		issues = append(issues, LintIssue{
			File:     issue.Pos.Filename,
			Line:     issue.Pos.Line,
			Column:   issue.Pos.Column,
			Source:   issue.FromLinter,
			Severity: issue.Severity,
			Message:  issue.Text,
		})
	}
	return newLintSummary(issues), nil
}

// staticcheckEvent represents a single JSON line from `staticcheck -f json`.
type staticcheckEvent struct {
	Code     string              `json:"code"`
	Severity string              `json:"severity"`
	Message  string              `json:"message"`
	Location staticcheckLocation `json:"location"`
}

type staticcheckLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func decodeStaticcheck(data []byte) (any, error) {
	var issues []LintIssue
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev staticcheckEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("invalid staticcheck output at line %d: %w", n, err)
		}
		if ev.Code == "" {
			continue
		}
		issues = append(issues, LintIssue{
			File:     ev.Location.File,
			Line:     ev.Location.Line,
			Column:   ev.Location.Column,
			Source:   ev.Code,
			Severity: ev.Severity,
			Message:  ev.Message,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading staticcheck output: %w", err)
	}
	return newLintSummary(issues), nil
}
