package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TestSummary holds parsed `go test -json` results.
type TestSummary struct {
	Status      string        `json:"status"` // PASS or FAIL
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	BuildErrors []BuildError  `json:"build_errors,omitempty"`
	Failures    []TestFailure `json:"failures,omitempty"`
}

// BuildError holds a build failure from go test -json.
type BuildError struct {
	ImportPath string `json:"import_path"`
	Output     string `json:"output"`
}

// TestFailure holds a single test failure from go test -json.
type TestFailure struct {
	Package string `json:"package"`
	Test    string `json:"test"`
	Output  string `json:"output,omitempty"`
}

// maxFailureLines is the maximum number of output lines shown per test failure.
const maxFailureLines = 20

func (s *TestSummary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintln(&b)

	if s.Status == "PASS" {
		fmt.Fprintf(&b, "All %d tests passed", s.Total)
		if s.Skipped > 0 {
			fmt.Fprintf(&b, " (%d skipped)", s.Skipped)
		}
		fmt.Fprintln(&b, ".")
		return b.String()
	}

	if len(s.BuildErrors) > 0 {
		fmt.Fprintln(&b, "Build errors:")
		for _, be := range s.BuildErrors {
			fmt.Fprintf(&b, "  %s:\n", be.ImportPath)
			for _, line := range strings.Split(truncateLines(be.Output, maxFailureLines), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "Failed %d of %d tests.\n", s.Failed, s.Total)
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "  - %s.%s\n", f.Package, f.Test)
		if f.Output == "" {
			continue
		}
		for _, line := range strings.Split(truncateLines(f.Output, maxFailureLines), "\n") {
			fmt.Fprintf(&b, "      %s\n", line)
		}
	}
	return b.String()
}

// test2jsonEvent represents a single event from `go test -json`.
type test2jsonEvent struct {
	Action     string  `json:"Action"`
	Package    string  `json:"Package"`
	Test       string  `json:"Test"`
	Output     string  `json:"Output"`
	Elapsed    float64 `json:"Elapsed"`
	ImportPath string  `json:"ImportPath"`
}

// parseTestOutput folds a test2json event stream into a summary. It also
// returns how many lines parsed as events; non-JSON lines are skipped.
func parseTestOutput(data []byte) (*TestSummary, int) {
	s := &TestSummary{Status: "PASS"}
	events := 0

	type testKey struct{ pkg, test string }
	outputs := make(map[testKey]*strings.Builder)
	failedTests := make(map[testKey]bool)

	buildOutputs := make(map[string]*strings.Builder)
	failedBuilds := make(map[string]bool)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev test2jsonEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Action == "" {
			continue
		}
		events++

		key := testKey{ev.Package, ev.Test}

		switch ev.Action {
		case "output":
			if ev.Test != "" {
				if _, ok := outputs[key]; !ok {
					outputs[key] = &strings.Builder{}
				}
				outputs[key].WriteString(ev.Output)
			}
		case "pass":
			if ev.Test != "" {
				s.Total++
				s.Passed++
			}
		case "fail":
			if ev.Test != "" {
				s.Total++
				s.Failed++
				failedTests[key] = true
			}
			s.Status = "FAIL"
		case "skip":
			if ev.Test != "" {
				s.Total++
				s.Skipped++
			}
		case "build-output":
			ip := ev.ImportPath
			if ip == "" {
				ip = ev.Package
			}
			if ip != "" {
				if _, ok := buildOutputs[ip]; !ok {
					buildOutputs[ip] = &strings.Builder{}
				}
				buildOutputs[ip].WriteString(ev.Output)
			}
		case "build-fail":
			ip := ev.ImportPath
			if ip == "" {
				ip = ev.Package
			}
			if ip != "" {
				failedBuilds[ip] = true
			}
			s.Status = "FAIL"
		}
	}

	for key := range failedTests {
		output := ""
		if b, ok := outputs[key]; ok {
			output = b.String()
		}
		s.Failures = append(s.Failures, TestFailure{
			Package: key.pkg,
			Test:    key.test,
			Output:  output,
		})
	}
	sort.Slice(s.Failures, func(i, j int) bool {
		if s.Failures[i].Package != s.Failures[j].Package {
			return s.Failures[i].Package < s.Failures[j].Package
		}
		return s.Failures[i].Test < s.Failures[j].Test
	})

	for ip := range failedBuilds {
		output := ""
		if b, ok := buildOutputs[ip]; ok {
			output = strings.TrimRight(b.String(), "\n")
		}
		s.BuildErrors = append(s.BuildErrors, BuildError{
			ImportPath: ip,
			Output:     output,
		})
	}
	sort.Slice(s.BuildErrors, func(i, j int) bool {
		return s.BuildErrors[i].ImportPath < s.BuildErrors[j].ImportPath
	})

	return s, events
}

func truncateLines(s string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	result := strings.Join(lines[:maxLines], "\n")
	result += fmt.Sprintf("\n... (%d more lines)", len(lines)-maxLines)
	return result
}
