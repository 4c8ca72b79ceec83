package models

import (
	"errors"
	"strings"
)

// Op is the kind of change carried by a ChangeRecord.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
	OpTableMeta // table map / metadata, no row images
)

var opNames = map[Op]string{
	OpInsert:    "insert",
	OpUpdate:    "update",
	OpDelete:    "delete",
	OpTableMeta: "tablemeta",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

func (o Op) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// OpFromName parses an operation name as it appears in configuration
// (case-insensitive).
func OpFromName(name string) (Op, error) {
	for op, n := range opNames {
		if n == strings.ToLower(name) {
			return op, nil
		}
	}
	return 0, errors.New("unknown operation name: " + name)
}

// ChangeRecord is one decoded unit of change from the binlog. It is produced
// by the source and treated as immutable afterward. For OpUpdate, Rows holds
// the new row images and OldRows the prior ones, index-aligned; for OpInsert
// and OpDelete only Rows is populated; for OpTableMeta both are empty.
type ChangeRecord struct {
	Schema    string                   `json:"database"`
	Table     string                   `json:"table"`
	Op        Op                       `json:"type"`
	Timestamp int64                    `json:"timestamp"`
	Rows      []map[string]interface{} `json:"rows"`
	OldRows   []map[string]interface{} `json:"old_rows,omitempty"`
}
