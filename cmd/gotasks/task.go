package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/input"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/task"
)

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Insert, update, delete and inspect tasks",
	}
	cmd.AddCommand(
		newTaskInsertCmd(opts),
		newTaskUpdateCmd(opts),
		newTaskDeleteCmd(opts),
		newTaskShowCmd(opts),
		newTaskLsCmd(opts),
		newTaskRelateCmd(opts),
	)
	return cmd
}

type taskFlags struct {
	file        string
	list        int64
	title       string
	description string
	location    string
	start       string
	due         string
	tz          string
	status      int
	percent     int
	priority    int
	parent      int64
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "JSON payload file, - for stdin")
	cmd.Flags().Int64Var(&f.list, "list", 0, "list id")
	cmd.Flags().StringVar(&f.title, "title", "", "title")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.location, "location", "", "location")
	cmd.Flags().StringVar(&f.start, "start", "", "start time (RFC 3339 or date)")
	cmd.Flags().StringVar(&f.due, "due", "", "due time (RFC 3339 or date)")
	cmd.Flags().StringVar(&f.tz, "tz", "", "time zone of start and due")
	cmd.Flags().IntVar(&f.status, "status", 0, "status (0 needs-action, 1 in-process, 2 completed, 3 cancelled)")
	cmd.Flags().IntVar(&f.percent, "percent", 0, "percent complete")
	cmd.Flags().IntVar(&f.priority, "priority", 0, "priority (0 clears)")
	cmd.Flags().Int64Var(&f.parent, "parent", 0, "parent task id")
}

// values merges the JSON payload, if any, with the flags that were set.
func (f *taskFlags) values(cmd *cobra.Command) (task.Values, error) {
	out := task.Values{}
	if f.file != "" {
		r, closeFn, err := openPayload(cmd, f.file)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		dec, err := input.NewDecoder()
		if err != nil {
			return nil, err
		}
		if out, err = dec.Task(r); err != nil {
			return nil, err
		}
	}
	set := cmd.Flags().Changed
	if set("list") {
		out[task.ColListID] = f.list
	}
	for _, s := range []struct {
		flag, col, val string
	}{
		{"title", task.ColTitle, f.title},
		{"description", task.ColDescription, f.description},
		{"location", task.ColLocation, f.location},
		{"tz", task.ColTZ, f.tz},
	} {
		if set(s.flag) {
			out[s.col] = s.val
		}
	}
	for _, t := range []struct {
		flag, col, val string
	}{
		{"start", task.ColDTStart, f.start},
		{"due", task.ColDue, f.due},
	} {
		if !set(t.flag) {
			continue
		}
		if t.val == "" {
			out[t.col] = nil
			continue
		}
		ms, err := input.ParseTime(t.val)
		if err != nil {
			return nil, fmt.Errorf("%w: --%s: %v", input.ErrInvalid, t.flag, err)
		}
		out[t.col] = ms
		if len(t.val) == len("2006-01-02") && !set("tz") {
			out[task.ColAllDay] = true
		}
	}
	if set("status") {
		out[task.ColStatus] = int64(f.status)
	}
	if set("percent") {
		out[task.ColPercentComplete] = int64(f.percent)
	}
	if set("priority") {
		out[task.ColPriority] = int64(f.priority)
	}
	if set("parent") {
		if f.parent == 0 {
			out[task.ColParentID] = nil
		} else {
			out[task.ColParentID] = f.parent
		}
	}
	return out, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: task id %q", input.ErrInvalid, s)
	}
	return id, nil
}

func newTaskInsertCmd(opts *rootOptions) *cobra.Command {
	f := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a task",
		Example: `  gotasks task insert --list 1 --title "Call Bob" --due 2024-05-01
  echo '{"list_id": 1, "title": "Call Bob"}' | gotasks task insert -f -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := f.values(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.svc.InsertTask(opts.context(cmd.Context()), opts.request(), values)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted task %d\n", id)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newTaskUpdateCmd(opts *rootOptions) *cobra.Command {
	f := &taskFlags{}
	var requestInstance bool
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			values, err := f.values(cmd)
			if err != nil {
				return err
			}
			if requestInstance {
				values[task.PseudoUpdateRequested] = true
			}
			if len(values) == 0 {
				return fmt.Errorf("%w: nothing to update", input.ErrInvalid)
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.UpdateTask(opts.context(cmd.Context()), opts.request(), id, values); err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated task %d\n", id)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&requestInstance, "recompute-instance", false, "recompute the instance row without changing fields")
	return cmd
}

func newTaskDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteTask(opts.context(cmd.Context()), opts.request(), id); err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted task %d\n", id)
			return nil
		},
	}
}

type taskDetail struct {
	Task      task.Values            `json:"task"`
	Instance  persistence.Instance   `json:"instance"`
	Relations []persistence.Relation `json:"relations"`
}

func newTaskShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a task with its instance and relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, req := cmd.Context(), opts.request()
			d := taskDetail{Relations: []persistence.Relation{}}
			if d.Task, err = a.svc.Task(ctx, req, id); err != nil {
				return err
			}
			if d.Instance, err = a.svc.Instance(ctx, req, id); err != nil {
				return err
			}
			rels, err := a.svc.Relations(ctx, req, id)
			if err != nil {
				return err
			}
			if rels != nil {
				d.Relations = rels
			}

			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), d)
			}
			w := cmd.OutOrStdout()
			printTask(w, d.Task)
			if d.Instance.Start != nil || d.Instance.Due != nil {
				fmt.Fprintln(w, "\ninstance")
				printTask(w, task.Values{
					task.ColDTStart: deref(d.Instance.Start),
					task.ColDue:     deref(d.Instance.Due),
					"duration_ms":   deref(d.Instance.Duration),
				})
			}
			for _, r := range d.Relations {
				fmt.Fprintf(w, "relation %d: task %d -> %s (type %d)\n", r.ID, r.TaskID, relatedName(r), r.Type)
			}
			return nil
		},
	}
}

func deref(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func relatedName(r persistence.Relation) string {
	if r.RelatedID != nil {
		return strconv.FormatInt(*r.RelatedID, 10)
	}
	return "uid:" + r.RelatedUID
}

func newTaskLsCmd(opts *rootOptions) *cobra.Command {
	var (
		listID int64
		limit  int
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.svc.Tasks(cmd.Context(), opts.request(), persistence.TaskFilter{ListID: listID, Limit: limit, IncludeDeleted: all})
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				if rows == nil {
					rows = []task.Values{}
				}
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tLIST\tSTATUS\tDUE\tTITLE")
			for _, row := range rows {
				id, _ := row.Int64(task.ColID)
				list, _ := row.Int64(task.ColListID)
				status, _ := row.Int64(task.ColStatus)
				title, _ := row.String(task.ColTitle)
				due := ""
				if v, ok := row[task.ColDue]; ok && v != nil {
					due = formatValue(task.ColDue, v)
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", id, list, status, due, title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&listID, "list", 0, "only tasks of this list")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().BoolVar(&all, "all", false, "include deleted tasks (sync adapters only)")
	return cmd
}

func newTaskRelateCmd(opts *rootOptions) *cobra.Command {
	var (
		uid     string
		relType string
	)
	types := map[string]int{"parent": task.RelParent, "child": task.RelChild, "sibling": task.RelSibling}
	cmd := &cobra.Command{
		Use:   "relate ID",
		Short: "Add a relation to a task by uid (sync adapters only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, ok := types[relType]
			if !ok {
				return fmt.Errorf("%w: relation type %q", input.ErrInvalid, relType)
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			relID, err := a.svc.AddRelation(opts.context(cmd.Context()), opts.request(), id, uid, t)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": relID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added relation %d\n", relID)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "uid of the related task")
	cmd.Flags().StringVar(&relType, "type", "parent", "parent, child or sibling")
	return cmd
}
