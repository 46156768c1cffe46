// Package catalog resolves suite names to command lines and decodes the
// output of finished suite processes.
package catalog

import (
	"fmt"
	"sort"

	"github.com/deixis/suiterun/internal/config"
)

// Catalog is the registry's view of the configured suites.
type Catalog interface {
	// Has reports whether suite exists.
	Has(suite string) bool
	// Command returns the command line for suite.
	Command(suite string) (Command, error)
	// Decode turns the captured stdout of a suite process into a result.
	Decode(suite string, stdout []byte) (any, error)
	// Restore retypes the result of a snapshot reloaded from storage to
	// what Decode returned for suite.
	Restore(suite string, result any) (any, error)
	// Names lists the known suites, sorted.
	Names() []string
}

// Command is an executable command line.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// Suite is one entry of a Static catalog.
type Suite struct {
	Name    string
	Command Command
	Decoder Decoder
}

// Static is an immutable in-memory Catalog.
type Static struct {
	suites map[string]Suite
}

// New builds a Static catalog. Suites without a decoder decode JSON.
func New(suites ...Suite) *Static {
	c := &Static{suites: make(map[string]Suite, len(suites))}
	for _, s := range suites {
		if s.Decoder == nil {
			s.Decoder = JSON
		}
		c.suites[s.Name] = s
	}
	return c
}

// FromConfig builds a Static catalog from the suites in cfg.
func FromConfig(cfg *config.Config) (*Static, error) {
	var suites []Suite
	for _, name := range cfg.SuiteNames() {
		sc := cfg.Suites[name]
		dec, err := Lookup(sc.Decoder)
		if err != nil {
			return nil, fmt.Errorf("suite %q: %w", name, err)
		}
		suites = append(suites, Suite{
			Name: name,
			Command: Command{
				Program: sc.Command,
				Args:    sc.Args,
				Dir:     sc.Dir,
				Env:     sc.Env,
			},
			Decoder: dec,
		})
	}
	return New(suites...), nil
}

func (c *Static) Has(suite string) bool {
	_, ok := c.suites[suite]
	return ok
}

func (c *Static) Command(suite string) (Command, error) {
	s, ok := c.suites[suite]
	if !ok {
		return Command{}, fmt.Errorf("unknown suite %q", suite)
	}
	cmd := s.Command
	cmd.Args = append([]string(nil), cmd.Args...)
	cmd.Env = append([]string(nil), cmd.Env...)
	return cmd, nil
}

func (c *Static) Decode(suite string, stdout []byte) (any, error) {
	s, ok := c.suites[suite]
	if !ok {
		return nil, fmt.Errorf("unknown suite %q", suite)
	}
	return s.Decoder.Decode(stdout)
}

func (c *Static) Restore(suite string, result any) (any, error) {
	s, ok := c.suites[suite]
	if !ok {
		return result, nil
	}
	if r, ok := s.Decoder.(interface{ restore(any) (any, error) }); ok {
		return r.restore(result)
	}
	return result, nil
}

// Names returns the suite names, sorted.
func (c *Static) Names() []string {
	names := make([]string, 0, len(c.suites))
	for name := range c.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suite returns the named suite.
func (c *Static) Suite(name string) (Suite, bool) {
	s, ok := c.suites[name]
	return s, ok
}
