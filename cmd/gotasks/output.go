package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/task"
)

// wantJSON reports whether output should be machine readable: forced by
// --json, or when stdout is not a terminal.
func wantJSON(cmd *cobra.Command, opts *rootOptions) bool {
	if opts.json {
		return true
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// printTask writes the non-null columns of row, sorted by name.
func printTask(w io.Writer, row task.Values) {
	cols := make([]string, 0, len(row))
	for c, v := range row {
		if v != nil {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	tw := newTable(w)
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%s\n", c, formatValue(c, row[c]))
	}
	_ = tw.Flush()
}

var timestampColumns = map[string]bool{
	task.ColDTStart:              true,
	task.ColDue:                  true,
	task.ColCompleted:            true,
	task.ColCreated:              true,
	task.ColLastModified:         true,
	task.ColOriginalInstanceTime: true,
}

func formatValue(col string, v any) string {
	if timestampColumns[col] {
		if ms, ok := (task.Values{col: v}).Int64(col); ok {
			return time.UnixMilli(ms).UTC().Format(time.RFC3339)
		}
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return strings.ReplaceAll(x, "\n", `\n`)
	}
	return fmt.Sprint(v)
}
