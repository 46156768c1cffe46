package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Decoder turns raw process output into a structured result.
type Decoder interface {
	Name() string
	Decode(data []byte) (any, error)
}

type decoderFunc struct {
	name string
	fn   func([]byte) (any, error)
	zero func() any // new result value; nil when results are plain JSON values
}

func (d decoderFunc) Name() string                    { return d.name }
func (d decoderFunc) Decode(data []byte) (any, error) { return d.fn(data) }

// restore converts a result that went through a JSON round trip back into
// the type Decode returns.
func (d decoderFunc) restore(result any) (any, error) {
	if d.zero == nil || result == nil {
		return result, nil
	}
	target := d.zero()
	if reflect.TypeOf(result) == reflect.TypeOf(target) {
		return result, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("restoring %s result: %w", d.name, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("restoring %s result: %w", d.name, err)
	}
	return target, nil
}

var (
	// JSON decodes stdout as a single JSON value.
	JSON Decoder = decoderFunc{name: "json", fn: decodeJSON}
	// GoTest decodes a `go test -json` event stream into a *TestSummary.
	GoTest Decoder = decoderFunc{name: "gotest", fn: decodeGoTest, zero: func() any { return new(TestSummary) }}
	// Golangci decodes `golangci-lint run` JSON output into a *LintSummary.
	Golangci Decoder = decoderFunc{name: "golangci", fn: decodeGolangci, zero: func() any { return new(LintSummary) }}
	// Staticcheck decodes `staticcheck -f json` output into a *LintSummary.
	Staticcheck Decoder = decoderFunc{name: "staticcheck", fn: decodeStaticcheck, zero: func() any { return new(LintSummary) }}
)

var decoders = map[string]Decoder{
	JSON.Name():        JSON,
	GoTest.Name():      GoTest,
	Golangci.Name():    Golangci,
	Staticcheck.Name(): Staticcheck,
}

// Lookup returns the decoder registered under name. An empty name selects
// JSON.
func Lookup(name string) (Decoder, error) {
	if name == "" {
		return JSON, nil
	}
	d, ok := decoders[name]
	if !ok {
		known := make([]string, 0, len(decoders))
		for k := range decoders {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown decoder %q (known: %v)", name, known)
	}
	return d, nil
}

func decodeJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

func decodeGoTest(data []byte) (any, error) {
	s, events := parseTestOutput(data)
	if events == 0 {
		return nil, errors.New("no go test events in output")
	}
	return s, nil
}
