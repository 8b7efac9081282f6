package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/mudbridge/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Table errors (E101-E109)
	ErrNamespaceTooLong   = "E101" // namespace longer than 14 bytes
	ErrNoTables           = "E102" // at least one table required
	ErrTableNameTooLong   = "E103" // table name longer than 16 bytes
	ErrInvalidFieldType   = "E104" // invalid type string
	ErrDuplicateName      = "E105" // duplicate table/field/action name
	ErrFloatTypeForbidden = "E106" // float types not allowed
	ErrEmptySchema        = "E107" // table has no value fields

	// Action errors (E110-E119)
	ErrUnknownTable      = "E110" // action references an undeclared table
	ErrUnknownField      = "E111" // action references an undeclared field
	ErrNonIntegerField   = "E112" // action field is not an integer type
	ErrZeroDelta         = "E113" // action delta is zero
	ErrInvalidSystemName = "E114" // system name must end in "System"
	ErrKeyedActionTable  = "E115" // action tables must be singletons
)

// On-chain resource id limits: ResourceId packs a 14-byte namespace and a
// 16-byte name.
const (
	maxNamespaceLen = 14
	maxTableNameLen = 16
)

// ValidationError represents a world config validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateWorld validates a compiled world config.
// Returns all errors found (does not fail-fast).
func ValidateWorld(cfg *ir.WorldConfig) []ValidationError {
	var errs []ValidationError

	if len(cfg.Namespace) > maxNamespaceLen {
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("namespace %q exceeds %d bytes", cfg.Namespace, maxNamespaceLen),
			Code:    ErrNamespaceTooLong,
		})
	}

	if len(cfg.Tables) == 0 {
		errs = append(errs, ValidationError{
			Field:   "tables",
			Message: "at least one table is required",
			Code:    ErrNoTables,
		})
	}

	tableNames := make(map[string]bool)
	for i, table := range cfg.Tables {
		path := fmt.Sprintf("tables[%d]", i)

		if tableNames[table.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate table name: %q", table.Name),
				Code:    ErrDuplicateName,
			})
		}
		tableNames[table.Name] = true

		if len(table.Name) > maxTableNameLen {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("table name %q exceeds %d bytes", table.Name, maxTableNameLen),
				Code:    ErrTableNameTooLong,
			})
		}

		if len(table.Schema) == 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".schema",
				Message: fmt.Sprintf("table %q must declare at least one value field", table.Name),
				Code:    ErrEmptySchema,
			})
		}

		// Key and value fields share one namespace in the generated table.
		fieldNames := make(map[string]bool)
		for j, f := range table.Key {
			errs = append(errs, validateField(f, fmt.Sprintf("%s.key[%d]", path, j), fieldNames)...)
		}
		for j, f := range table.Schema {
			errs = append(errs, validateField(f, fmt.Sprintf("%s.schema[%d]", path, j), fieldNames)...)
		}
	}

	actionNames := make(map[string]bool)
	for i, action := range cfg.Actions {
		errs = append(errs, validateAction(cfg, action, fmt.Sprintf("actions[%d]", i), actionNames)...)
	}

	return errs
}

func validateField(f ir.Field, path string, seen map[string]bool) []ValidationError {
	var errs []ValidationError

	if seen[f.Name] {
		errs = append(errs, ValidationError{
			Field:   path + ".name",
			Message: fmt.Sprintf("duplicate field name: %q", f.Name),
			Code:    ErrDuplicateName,
		})
	}
	seen[f.Name] = true

	if isFloatType(f.Type) {
		errs = append(errs, ValidationError{
			Field:   path + ".type",
			Message: fmt.Sprintf("float type forbidden for field %q, use an integer type instead", f.Name),
			Code:    ErrFloatTypeForbidden,
		})
	} else if !ir.ValidFieldTypes[f.Type] {
		errs = append(errs, ValidationError{
			Field:   path + ".type",
			Message: fmt.Sprintf("invalid type %q for field %q", f.Type, f.Name),
			Code:    ErrInvalidFieldType,
		})
	}

	return errs
}

func validateAction(cfg *ir.WorldConfig, action ir.ActionDef, path string, seen map[string]bool) []ValidationError {
	var errs []ValidationError

	if seen[action.Name] {
		errs = append(errs, ValidationError{
			Field:   path + ".name",
			Message: fmt.Sprintf("duplicate action name: %q", action.Name),
			Code:    ErrDuplicateName,
		})
	}
	seen[action.Name] = true

	if !strings.HasSuffix(action.System, "System") || action.System == "System" {
		errs = append(errs, ValidationError{
			Field:   path + ".system",
			Message: fmt.Sprintf("system name %q must end in \"System\"", action.System),
			Code:    ErrInvalidSystemName,
		})
	}

	if action.Delta == 0 {
		errs = append(errs, ValidationError{
			Field:   path + ".delta",
			Message: fmt.Sprintf("action %q has a zero delta", action.Name),
			Code:    ErrZeroDelta,
		})
	}

	table, ok := cfg.Table(action.Table)
	if !ok {
		errs = append(errs, ValidationError{
			Field:   path + ".table",
			Message: fmt.Sprintf("action %q references unknown table %q", action.Name, action.Table),
			Code:    ErrUnknownTable,
		})
		return errs
	}

	if !table.Singleton() {
		errs = append(errs, ValidationError{
			Field:   path + ".table",
			Message: fmt.Sprintf("action %q targets keyed table %q; only singleton tables are supported", action.Name, action.Table),
			Code:    ErrKeyedActionTable,
		})
	}

	fieldType, ok := table.FieldType(action.Field)
	if !ok {
		errs = append(errs, ValidationError{
			Field:   path + ".field",
			Message: fmt.Sprintf("table %q has no field %q", action.Table, action.Field),
			Code:    ErrUnknownField,
		})
		return errs
	}
	if _, _, isInt := ir.FieldRange(fieldType); !isInt {
		errs = append(errs, ValidationError{
			Field:   path + ".field",
			Message: fmt.Sprintf("field %q has non-integer type %q", action.Field, fieldType),
			Code:    ErrNonIntegerField,
		})
	}

	return errs
}
