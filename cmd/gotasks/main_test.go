package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

type cli struct {
	t    *testing.T
	home string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("GOTASKS_DB_PATH", "")
	t.Setenv("GOTASKS_TIMEZONE", "UTC")
	return &cli{t: t, home: t.TempDir()}
}

// run executes one command line against the test home.
func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--home", c.home}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustJSON(v any, args ...string) {
	c.t.Helper()
	out, err := c.run("", append(args, "--json")...)
	if err != nil {
		c.t.Fatalf("%v: %v", args, err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		c.t.Fatalf("%v: decode %q: %v", args, out, err)
	}
}

func (c *cli) id(args ...string) int64 {
	c.t.Helper()
	var got struct{ ID int64 }
	c.mustJSON(&got, args...)
	if got.ID <= 0 {
		c.t.Fatalf("%v: id = %d", args, got.ID)
	}
	return got.ID
}

func TestCLI_TaskLifecycle(t *testing.T) {
	c := newCLI(t)
	list := c.id("list", "create", "--account", "me", "--type", "local", "--name", "Inbox")
	id := c.id("task", "insert", "--list", itoa(list), "--title", "Buy milk", "--due", "2024-05-01T18:00:00Z")

	var detail struct {
		Task     map[string]any
		Instance struct {
			Due *int64 `json:"due"`
		}
	}
	c.mustJSON(&detail, "task", "show", itoa(id))
	if detail.Task["title"] != "Buy milk" {
		t.Fatalf("task = %+v", detail.Task)
	}
	if detail.Instance.Due == nil || *detail.Instance.Due != 1714586400000 {
		t.Fatalf("instance due = %v", detail.Instance.Due)
	}

	var results []struct {
		TaskID int64 `json:"task_id"`
	}
	c.mustJSON(&results, "search", "milk")
	if len(results) != 1 || results[0].TaskID != id {
		t.Fatalf("search = %+v", results)
	}

	if _, err := c.run("", "task", "update", itoa(id), "--status", "2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	c.mustJSON(&detail, "task", "show", itoa(id))
	if pct, _ := detail.Task["percent_complete"].(float64); pct != 100 {
		t.Fatalf("percent_complete = %v", detail.Task["percent_complete"])
	}

	if _, err := c.run("", "task", "delete", itoa(id)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := c.run("", "task", "show", itoa(id))
	if code := exitCode(err); code != 3 {
		t.Fatalf("show after delete: err = %v, exit %d", err, code)
	}
}

func TestCLI_InsertFromStdin(t *testing.T) {
	c := newCLI(t)
	list := c.id("list", "create", "--account", "me", "--name", "Inbox")

	out, err := c.run(`{"list_id": `+itoa(list)+`, "title": "From JSON", "priority": 3}`, "task", "insert", "-f", "-")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasPrefix(out, "inserted task ") {
		t.Fatalf("out = %q", out)
	}

	_, err = c.run(`{"list_id": `+itoa(list)+`, "colour": "red"}`, "task", "insert", "-f", "-")
	if code := exitCode(err); code != 2 {
		t.Fatalf("bad payload: err = %v, exit %d", err, code)
	}
}

func TestCLI_ExitCodes(t *testing.T) {
	c := newCLI(t)
	list := c.id("list", "create", "--account", "me", "--name", "Inbox")
	id := c.id("task", "insert", "--list", itoa(list), "--title", "x")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"status out of range", []string{"task", "insert", "--list", itoa(list), "--status", "9"}, 2},
		{"missing list", []string{"task", "insert", "--list", "99", "--title", "y"}, 2},
		{"missing task", []string{"task", "update", "42", "--title", "y"}, 3},
		{"bad id", []string{"task", "delete", "abc"}, 2},
		{"relate needs sync", []string{"task", "relate", itoa(id), "--uid", "p"}, 4},
		{"empty update", []string{"task", "update", itoa(id)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run("", tt.args...)
			if got := exitCode(err); err == nil || got != tt.want {
				t.Fatalf("err = %v, exit %d, want %d", err, got, tt.want)
			}
		})
	}

	if _, err := c.run("", "--sync-adapter", "task", "relate", itoa(id), "--uid", "p"); err != nil {
		t.Fatalf("sync relate: %v", err)
	}
}

func TestCLI_TimezoneAndRecompute(t *testing.T) {
	c := newCLI(t)
	t.Setenv("GOTASKS_TIMEZONE", "")
	if _, err := c.run("", "timezone", "set", "Europe/Berlin"); err != nil {
		t.Fatalf("timezone set: %v", err)
	}
	if _, err := c.run("", "timezone", "set", "Mars/Olympus"); err == nil {
		t.Fatal("expected unknown zone error")
	}

	var rec struct {
		Recomputed int    `json:"recomputed"`
		Timezone   string `json:"timezone"`
	}
	c.mustJSON(&rec, "instances", "recompute")
	if rec.Timezone != "Europe/Berlin" {
		t.Fatalf("recompute = %+v", rec)
	}

	var show map[string]string
	c.mustJSON(&show, "timezone", "show")
	if show["configured"] != "Europe/Berlin" || show["recorded"] != "Europe/Berlin" {
		t.Fatalf("show = %+v", show)
	}
}

func TestCLI_DoctorAndVersion(t *testing.T) {
	c := newCLI(t)
	var diag struct {
		Results []struct {
			Name   string
			Status string
		}
	}
	c.mustJSON(&diag, "doctor")
	if len(diag.Results) == 0 {
		t.Fatal("no doctor results")
	}
	for _, r := range diag.Results {
		if r.Status == "FAIL" {
			t.Fatalf("check %s failed", r.Name)
		}
	}

	out, err := c.run("", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestCLI_ReindexEmpty(t *testing.T) {
	c := newCLI(t)
	var got map[string]int
	c.mustJSON(&got, "reindex")
	if got["rebuilt"] != 0 {
		t.Fatalf("rebuilt = %d", got["rebuilt"])
	}
}

func TestCLI_Backup(t *testing.T) {
	c := newCLI(t)
	c.id("list", "create", "--account", "me", "--name", "Inbox")

	dest := filepath.Join(t.TempDir(), "copy", "gotasks.db")
	var got map[string]string
	c.mustJSON(&got, "backup", dest)
	if got["backup"] != dest {
		t.Fatalf("backup = %v", got)
	}

	copied := newCLI(t)
	t.Setenv("GOTASKS_DB_PATH", dest)
	var lists []map[string]any
	copied.mustJSON(&lists, "list", "ls")
	if len(lists) != 1 {
		t.Fatalf("lists in backup = %v", lists)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
