// Package input decodes JSON task and list payloads after checking them
// against the embedded JSON Schemas.
package input

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/task"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalid wraps every rejected payload.
var ErrInvalid = errors.New("invalid payload")

// Columns that accept RFC 3339 strings in place of epoch milliseconds.
var timeColumns = map[string]bool{
	task.ColDTStart:              true,
	task.ColDue:                  true,
	task.ColCompleted:            true,
	task.ColCreated:              true,
	task.ColLastModified:         true,
	task.ColOriginalInstanceTime: true,
}

type Decoder struct {
	task *jsonschema.Schema
	list *jsonschema.Schema
}

// NewDecoder compiles the embedded schemas.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	for _, name := range []string{"task.json", "list.json"} {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	d := &Decoder{}
	var err error
	if d.task, err = c.Compile("task.json"); err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	if d.list, err = c.Compile("list.json"); err != nil {
		return nil, fmt.Errorf("compile list schema: %w", err)
	}
	return d, nil
}

func (d *Decoder) decode(r io.Reader, schema *jsonschema.Schema) (map[string]any, error) {
	doc, err := jsonschema.UnmarshalJSON(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalid)
	}
	return obj, nil
}

// Task decodes a task payload into column values ready for the provider.
// Integers become int64, timestamps given as strings become epoch
// milliseconds.
func (d *Decoder) Task(r io.Reader) (task.Values, error) {
	obj, err := d.decode(r, d.task)
	if err != nil {
		return nil, err
	}
	out := make(task.Values, len(obj))
	for col, v := range obj {
		cv, err := convert(col, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, col, err)
		}
		out[col] = cv
	}
	return out, nil
}

func convert(col string, v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case string:
		if timeColumns[col] {
			return ParseTime(x)
		}
		return x, nil
	}
	return v, nil
}

// ParseTime accepts RFC 3339 timestamps and bare dates and returns epoch
// milliseconds. Bare dates are midnight UTC.
func ParseTime(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, fmt.Errorf("not an RFC 3339 time or date: %q", s)
	}
	return t.UnixMilli(), nil
}

type listPayload struct {
	AccountName string `json:"account_name"`
	AccountType string `json:"account_type"`
	Name        string `json:"name"`
	Color       *int64 `json:"color"`
	Owner       string `json:"owner"`
	AccessLevel int    `json:"access_level"`
	Visible     *bool  `json:"visible"`
	SyncEnabled *bool  `json:"sync_enabled"`
	SyncID      string `json:"sync_id"`
}

// List decodes a list payload. Visible and sync_enabled default to true.
func (d *Decoder) List(r io.Reader) (persistence.List, error) {
	obj, err := d.decode(r, d.list)
	if err != nil {
		return persistence.List{}, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return persistence.List{}, err
	}
	var p listPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return persistence.List{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	l := persistence.List{
		AccountName: p.AccountName,
		AccountType: p.AccountType,
		Name:        p.Name,
		Color:       p.Color,
		Owner:       p.Owner,
		AccessLevel: p.AccessLevel,
		Visible:     true,
		SyncEnabled: true,
		SyncID:      p.SyncID,
	}
	if p.Visible != nil {
		l.Visible = *p.Visible
	}
	if p.SyncEnabled != nil {
		l.SyncEnabled = *p.SyncEnabled
	}
	return l, nil
}
