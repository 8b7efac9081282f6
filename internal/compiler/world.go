package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/mudbridge/internal/ir"
)

// CompileWorld parses a CUE value into a WorldConfig.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the whole world file, e.g.:
//
//	namespace: "app"
//	tables: Counter: {
//		schema: value: "uint32"
//	}
//	actions: increment: {
//		system: "IncrementSystem"
//		table:  "Counter"
//		field:  "value"
//	}
//
// Tables and fields keep declaration order.
func CompileWorld(v cue.Value) (*ir.WorldConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &ir.WorldConfig{}

	nsVal := v.LookupPath(cue.ParsePath("namespace"))
	if nsVal.Exists() {
		ns, err := nsVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		cfg.Namespace = ns
	}

	var err error
	cfg.Tables, err = parseTables(v)
	if err != nil {
		return nil, err
	}
	if len(cfg.Tables) == 0 {
		return nil, &CompileError{
			Field:   "tables",
			Message: "at least one table is required",
			Pos:     v.Pos(),
		}
	}

	cfg.Actions, err = parseActions(v)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseTables(v cue.Value) ([]ir.TableSchema, error) {
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, nil
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tables []ir.TableSchema
	for iter.Next() {
		name := iter.Label()
		tableVal := iter.Value()

		table := ir.TableSchema{Name: name}

		keyVal := tableVal.LookupPath(cue.ParsePath("key"))
		if keyVal.Exists() {
			table.Key, err = parseFields(keyVal, "tables."+name+".key")
			if err != nil {
				return nil, err
			}
		}

		schemaVal := tableVal.LookupPath(cue.ParsePath("schema"))
		if !schemaVal.Exists() {
			return nil, &CompileError{
				Field:   "tables." + name + ".schema",
				Message: "table schema is required",
				Pos:     tableVal.Pos(),
			}
		}
		table.Schema, err = parseFields(schemaVal, "tables."+name+".schema")
		if err != nil {
			return nil, err
		}
		if len(table.Schema) == 0 {
			return nil, &CompileError{
				Field:   "tables." + name + ".schema",
				Message: "table schema must declare at least one field",
				Pos:     schemaVal.Pos(),
			}
		}

		tables = append(tables, table)
	}
	return tables, nil
}

// parseFields reads a struct of field name to on-chain type name.
func parseFields(v cue.Value, path string) ([]ir.Field, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []ir.Field
	for iter.Next() {
		name := iter.Label()
		typ, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   path + "." + name,
				Message: "field type must be a type name string such as \"uint32\"",
				Pos:     iter.Value().Pos(),
			}
		}
		if isFloatType(typ) {
			return nil, &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("float type %q forbidden for field %q - use an integer type", typ, name),
				Pos:     iter.Value().Pos(),
			}
		}
		if !ir.ValidFieldTypes[typ] {
			return nil, &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("unsupported field type %q for field %q", typ, name),
				Pos:     iter.Value().Pos(),
			}
		}
		fields = append(fields, ir.Field{Name: name, Type: typ})
	}
	return fields, nil
}

func parseActions(v cue.Value) ([]ir.ActionDef, error) {
	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []ir.ActionDef
	for iter.Next() {
		name := iter.Label()
		actionVal := iter.Value()

		action := ir.ActionDef{Name: name, Delta: 1}

		for _, f := range []struct {
			label string
			dst   *string
		}{
			{"system", &action.System},
			{"table", &action.Table},
			{"field", &action.Field},
		} {
			fv := actionVal.LookupPath(cue.ParsePath(f.label))
			if !fv.Exists() {
				return nil, &CompileError{
					Field:   fmt.Sprintf("actions.%s.%s", name, f.label),
					Message: f.label + " is required",
					Pos:     actionVal.Pos(),
				}
			}
			s, err := fv.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			*f.dst = s
		}

		deltaVal := actionVal.LookupPath(cue.ParsePath("delta"))
		if deltaVal.Exists() {
			if deltaVal.IncompleteKind() != cue.IntKind {
				return nil, &CompileError{
					Field:   "type",
					Message: fmt.Sprintf("action %q delta must be an integer", name),
					Pos:     deltaVal.Pos(),
				}
			}
			d, err := deltaVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			action.Delta = d
		}

		actions = append(actions, action)
	}
	return actions, nil
}

func isFloatType(t string) bool {
	t = strings.ToLower(t)
	return strings.HasPrefix(t, "float") || t == "double" || t == "number"
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
