package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/deixis/suiterun/internal/catalog"
	"github.com/deixis/suiterun/internal/run"
)

func newSuitesCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "suites",
		Short: "List the configured suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			names := e.catalog.Names()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No suites configured.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatSuites(e.catalog, names))
			return nil
		},
	}
}

func formatSuites(cat *catalog.Static, names []string) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Suite", "Command", "Dir", "Decoder"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Command", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, name := range names {
		s, _ := cat.Suite(name)
		dir := s.Command.Dir
		if dir == "" {
			dir = "."
		}
		t.AppendRow(table.Row{name, strings.Join(s.Command.Argv(), " "), dir, s.Decoder.Name()})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return buf.String()
}

// formatStatus renders a finished run as a one-row table followed by its
// result or error.
func formatStatus(st *run.Status) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Run", "Suite", "Status", "Runtime"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Runtime", Align: text.AlignRight},
	})
	t.AppendRow(table.Row{st.ID, st.Suite, st.Status.String(), fmt.Sprintf("%dms", st.Runtime)})
	switch st.Status {
	case run.Completed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case run.Cancelled:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Render()

	switch {
	case st.Error != "":
		fmt.Fprintf(&buf, "\nerror (%s): %s\n", st.ErrorKind, st.Error)
	case st.Result != nil:
		buf.WriteByte('\n')
		if s, ok := st.Result.(fmt.Stringer); ok {
			buf.WriteString(s.String())
			break
		}
		data, err := json.MarshalIndent(st.Result, "", "  ")
		if err != nil {
			fmt.Fprintf(&buf, "%v\n", st.Result)
			break
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.String()
}
