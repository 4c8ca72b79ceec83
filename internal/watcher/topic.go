package watcher

import (
	"fmt"

	"github.com/gobwas/glob"

	"mysql-binlog-watcher/internal/models"
)

// Topic is the hierarchical routing key an event is published on:
// schema.table.operation.
type Topic struct {
	Schema string
	Table  string
	Op     models.Op
}

func (t Topic) String() string {
	return t.Schema + "." + t.Table + "." + t.Op.String()
}

// compilePattern compiles a listener pattern such as "shop.*.update". The
// dot is the segment separator, so a * wildcard matches exactly one segment.
func compilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	return g, nil
}
