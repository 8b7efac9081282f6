package ir

import (
	"encoding/json"
	"strings"
)

// SingletonKey is the entity key of tables that declare no key fields.
// It matches the all-zero bytes32 key used on chain.
const SingletonKey = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Field types allowed in a table schema.
const (
	TypeUint8   = "uint8"
	TypeUint16  = "uint16"
	TypeUint32  = "uint32"
	TypeInt32   = "int32"
	TypeInt64   = "int64"
	TypeBool    = "bool"
	TypeString  = "string"
	TypeAddress = "address"
	TypeBytes32 = "bytes32"
)

// FieldRange returns the inclusive numeric range of an integer field type.
// ok is false for non-integer types.
func FieldRange(fieldType string) (lo, hi int64, ok bool) {
	switch fieldType {
	case TypeUint8:
		return 0, 1<<8 - 1, true
	case TypeUint16:
		return 0, 1<<16 - 1, true
	case TypeUint32:
		return 0, 1<<32 - 1, true
	case TypeInt32:
		return -1 << 31, 1<<31 - 1, true
	case TypeInt64:
		return -1 << 63, 1<<63 - 1, true
	default:
		return 0, 0, false
	}
}

// ValidFieldTypes lists every accepted schema field type.
var ValidFieldTypes = map[string]bool{
	TypeUint8:   true,
	TypeUint16:  true,
	TypeUint32:  true,
	TypeInt32:   true,
	TypeInt64:   true,
	TypeBool:    true,
	TypeString:  true,
	TypeAddress: true,
	TypeBytes32: true,
}

// WorldConfig is the compiled world layout: the tables replicated from chain
// and the actions its systems expose.
type WorldConfig struct {
	Namespace string        `json:"namespace"`
	Tables    []TableSchema `json:"tables"`
	Actions   []ActionDef   `json:"actions"`
}

// Table returns the schema for the named table.
func (w WorldConfig) Table(name string) (TableSchema, bool) {
	for _, t := range w.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// Action returns the definition for the named action.
func (w WorldConfig) Action(name string) (ActionDef, bool) {
	for _, a := range w.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionDef{}, false
}

// TableSchema describes one on-chain table, i.e. one component kind.
// Fields keep declaration order.
type TableSchema struct {
	Name   string  `json:"name"`
	Key    []Field `json:"key"`
	Schema []Field `json:"schema"`
}

// Singleton reports whether the table has no key fields.
func (t TableSchema) Singleton() bool {
	return len(t.Key) == 0
}

// FieldType returns the declared type of a value field.
func (t TableSchema) FieldType(name string) (string, bool) {
	for _, f := range t.Schema {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// Field is a named, typed table column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ActionDef is a system call that adds Delta to one integer field of one
// record. The default world declares exactly one: increment.
type ActionDef struct {
	Name   string `json:"name"`
	System string `json:"system"`
	Table  string `json:"table"`
	Field  string `json:"field"`
	Delta  int64  `json:"delta"`
}

// Record is the current state of one entity in one table.
type Record struct {
	Component string `json:"component"`
	Key       string `json:"key"`
	Value     Object `json:"value"`
	Version   int64  `json:"version"`
	Block     int64  `json:"block"`
}

// Update is an entity update notification: one changed record of one
// component, in the order the replicated store produced it.
//
// Seq is global arrival order; Version is per (Component, Key) and never
// decreases in delivery order.
type Update struct {
	ID        string `json:"id"`
	Component string `json:"component"`
	Key       string `json:"key"`
	Value     Object `json:"value"`
	PrevValue Object `json:"prev_value,omitempty"`
	Version   int64  `json:"version"`
	Block     int64  `json:"block"`
	Seq       int64  `json:"seq"`
}

// Identity returns the (component, key) pair the update belongs to.
func (u Update) Identity() string {
	return u.Component + "/" + u.Key
}

// ActionResult is the confirmed outcome of one submitted action.
type ActionResult struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Value  Value  `json:"value"`
	Block  int64  `json:"block"`
}

// Write statuses, in lifecycle order.
const (
	WriteStatusPending   = "pending"
	WriteStatusConfirmed = "confirmed"
	WriteStatusFailed    = "failed"
)

// Write is the log entry of one submitted action transaction.
type Write struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
	Result Value  `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Block  int64  `json:"block"`
	Seq    int64  `json:"seq"`
}

// NormalizeKey lowercases hex keys and maps the empty key to SingletonKey.
func NormalizeKey(key string) string {
	if key == "" {
		return SingletonKey
	}
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		return "0x" + strings.ToLower(key[2:])
	}
	return key
}

// UnmarshalJSON decodes an ActionResult, parsing Value strictly.
func (r *ActionResult) UnmarshalJSON(data []byte) error {
	type plain ActionResult
	var aux struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ActionResult(aux.plain)
	r.Value = nil
	if len(aux.Value) > 0 && string(aux.Value) != "null" {
		v, err := ParseValue(aux.Value)
		if err != nil {
			return err
		}
		r.Value = v
	}
	return nil
}

// UnmarshalJSON decodes a Write, parsing Result strictly.
func (w *Write) UnmarshalJSON(data []byte) error {
	type plain Write
	var aux struct {
		plain
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*w = Write(aux.plain)
	w.Result = nil
	if len(aux.Result) > 0 && string(aux.Result) != "null" {
		v, err := ParseValue(aux.Result)
		if err != nil {
			return err
		}
		w.Result = v
	}
	return nil
}
