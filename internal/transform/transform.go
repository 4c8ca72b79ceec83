package transform

import (
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"mysql-binlog-watcher/internal/models"
)

// ErrRejected is returned when a rule or the JavaScript transform function
// drops an event by returning null or undefined.
var ErrRejected = errors.New("event rejected by transform")

// Rule reshapes the row payloads of events matching a database/table glob.
// Include wins over Exclude when both are set. Renames apply after the
// include/exclude pass; Add puts static fields on every row.
type Rule struct {
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Include  []string          `yaml:"include_fields"`
	Exclude  []string          `yaml:"exclude_fields"`
	Rename   map[string]string `yaml:"rename_fields"`
	Add      map[string]string `yaml:"add_fields"`
}

// Config enables the transform stage. Script points to a JavaScript file
// exporting a transform(event) function; returning null or undefined rejects
// the event.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Script  string `yaml:"script"`
	Rules   []Rule `yaml:"rules"`
}

type compiledRule struct {
	database glob.Glob
	table    glob.Glob
	include  map[string]bool
	exclude  map[string]bool
	rename   map[string]string
	add      map[string]string
}

// Transformer applies configured rules and the optional script to change
// records before dispatch. It is not safe for concurrent use; the dispatch
// path calls it from a single goroutine.
type Transformer struct {
	logger *logrus.Logger
	rules  []*compiledRule
	vm     *goja.Runtime
	fn     goja.Callable
}

// New compiles the rule globs and loads the script, if any. A nil or disabled
// config yields a pass-through transformer.
func New(cfg *Config, logger *logrus.Logger) (*Transformer, error) {
	t := &Transformer{logger: logger}
	if cfg == nil || !cfg.Enabled {
		return t, nil
	}

	for _, r := range cfg.Rules {
		cr := &compiledRule{
			rename: r.Rename,
			add:    r.Add,
		}
		var err error
		if cr.database, err = glob.Compile(orAny(r.Database)); err != nil {
			return nil, fmt.Errorf("invalid database pattern %q: %w", r.Database, err)
		}
		if cr.table, err = glob.Compile(orAny(r.Table)); err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", r.Table, err)
		}
		if len(r.Include) > 0 {
			cr.include = make(map[string]bool, len(r.Include))
			for _, f := range r.Include {
				cr.include[f] = true
			}
		}
		if len(r.Exclude) > 0 {
			cr.exclude = make(map[string]bool, len(r.Exclude))
			for _, f := range r.Exclude {
				cr.exclude[f] = true
			}
		}
		t.rules = append(t.rules, cr)
	}

	if cfg.Script != "" {
		src, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read transform script: %w", err)
		}
		vm := goja.New()
		if _, err := vm.RunString(string(src)); err != nil {
			return nil, fmt.Errorf("failed to evaluate transform script: %w", err)
		}
		fn, ok := goja.AssertFunction(vm.Get("transform"))
		if !ok {
			return nil, errors.New("transform script does not define a transform function")
		}
		t.vm = vm
		t.fn = fn
	}

	return t, nil
}

func orAny(pattern string) string {
	if pattern == "" {
		return "*"
	}
	return pattern
}

// Transform returns the reshaped record, ErrRejected when it should be
// dropped, or another error when the script fails.
func (t *Transformer) Transform(rec *models.ChangeRecord) (*models.ChangeRecord, error) {
	for _, r := range t.rules {
		if !r.database.Match(rec.Schema) || !r.table.Match(rec.Table) {
			continue
		}
		rec = &models.ChangeRecord{
			Schema:    rec.Schema,
			Table:     rec.Table,
			Op:        rec.Op,
			Timestamp: rec.Timestamp,
			Rows:      applyRule(r, rec.Rows),
			OldRows:   applyRule(r, rec.OldRows),
		}
	}

	if t.fn == nil {
		return rec, nil
	}
	return t.runScript(rec)
}

func applyRule(r *compiledRule, rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		shaped := make(map[string]interface{}, len(row))
		for field, value := range row {
			if r.include != nil && !r.include[field] {
				continue
			}
			if r.exclude[field] {
				continue
			}
			if renamed, ok := r.rename[field]; ok {
				field = renamed
			}
			shaped[field] = value
		}
		for field, value := range r.add {
			shaped[field] = value
		}
		out = append(out, shaped)
	}
	return out
}

func (t *Transformer) runScript(rec *models.ChangeRecord) (*models.ChangeRecord, error) {
	in := map[string]interface{}{
		"type":      rec.Op.String(),
		"database":  rec.Schema,
		"table":     rec.Table,
		"timestamp": rec.Timestamp,
		"rows":      rec.Rows,
		"old_rows":  rec.OldRows,
	}

	res, err := t.fn(goja.Undefined(), t.vm.ToValue(in))
	if err != nil {
		return nil, fmt.Errorf("transform script failed: %w", err)
	}
	if res == nil || goja.IsNull(res) || goja.IsUndefined(res) {
		return nil, ErrRejected
	}

	exported, ok := res.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform script returned %T, want object", res.Export())
	}

	out := &models.ChangeRecord{
		Schema:    rec.Schema,
		Table:     rec.Table,
		Op:        rec.Op,
		Timestamp: rec.Timestamp,
		Rows:      rec.Rows,
		OldRows:   rec.OldRows,
	}
	if v, ok := exported["database"].(string); ok {
		out.Schema = v
	}
	if v, ok := exported["table"].(string); ok {
		out.Table = v
	}
	switch ts := exported["timestamp"].(type) {
	case int64:
		out.Timestamp = ts
	case float64:
		out.Timestamp = int64(ts)
	}
	if v, ok := exported["rows"]; ok {
		out.Rows = toRows(v)
	}
	if v, ok := exported["old_rows"]; ok {
		out.OldRows = toRows(v)
	}
	return out, nil
}

// toRows accepts both shapes goja hands back: the original Go slice when the
// script mutated the input in place, or a fresh []interface{} when it built a
// new object.
func toRows(v interface{}) []map[string]interface{} {
	switch items := v.(type) {
	case []map[string]interface{}:
		return items
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			if row, ok := item.(map[string]interface{}); ok {
				rows = append(rows, row)
			}
		}
		return rows
	}
	return nil
}
