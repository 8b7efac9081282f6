package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mudbridge/internal/ir"
)

func TestCompileWorldBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		namespace: "app"
		tables: {
			Counter: schema: value: "uint32"
			Position: {
				key: entity: "bytes32"
				schema: { y: "int32", x: "int32" }
			}
		}
		actions: increment: {
			system: "IncrementSystem"
			table: "Counter"
			field: "value"
			delta: 2
		}
	`)
	require.NoError(t, v.Err())

	cfg, err := CompileWorld(v)
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Namespace)
	require.Len(t, cfg.Tables, 2)
	assert.Equal(t, "Counter", cfg.Tables[0].Name)
	assert.True(t, cfg.Tables[0].Singleton())

	pos := cfg.Tables[1]
	assert.Equal(t, []ir.Field{{Name: "entity", Type: ir.TypeBytes32}}, pos.Key)
	// Declaration order, not alphabetical.
	assert.Equal(t, []ir.Field{{Name: "y", Type: ir.TypeInt32}, {Name: "x", Type: ir.TypeInt32}}, pos.Schema)

	require.Len(t, cfg.Actions, 1)
	assert.Equal(t, ir.ActionDef{
		Name: "increment", System: "IncrementSystem", Table: "Counter", Field: "value", Delta: 2,
	}, cfg.Actions[0])
}

func TestCompileWorldDefaultDelta(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		tables: Counter: schema: value: "uint32"
		actions: increment: { system: "IncrementSystem", table: "Counter", field: "value" }
	`)

	cfg, err := CompileWorld(v)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.Actions[0].Delta)
}

func TestCompileWorldErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no tables",
			src:     `namespace: "app"`,
			wantErr: "at least one table is required",
		},
		{
			name:    "missing schema",
			src:     `tables: Counter: key: {}`,
			wantErr: "table schema is required",
		},
		{
			name:    "empty schema",
			src:     `tables: Counter: schema: {}`,
			wantErr: "at least one field",
		},
		{
			name:    "float field",
			src:     `tables: Counter: schema: value: "float64"`,
			wantErr: "float type",
		},
		{
			name:    "unknown type",
			src:     `tables: Counter: schema: value: "uint7"`,
			wantErr: "unsupported field type",
		},
		{
			name:    "non-string type",
			src:     `tables: Counter: schema: value: 3`,
			wantErr: "type name string",
		},
		{
			name: "action missing system",
			src: `
				tables: Counter: schema: value: "uint32"
				actions: increment: { table: "Counter", field: "value" }
			`,
			wantErr: "system is required",
		},
		{
			name: "float delta",
			src: `
				tables: Counter: schema: value: "uint32"
				actions: increment: { system: "IncrementSystem", table: "Counter", field: "value", delta: 1.5 }
			`,
			wantErr: "delta must be an integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := cuecontext.New()
			v := ctx.CompileString(tt.src)
			_, err := CompileWorld(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var compileErr *CompileError
			assert.True(t, errors.As(err, &compileErr), "expected *CompileError, got %T", err)
		})
	}
}

func TestCompileWorldCUEError(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		namespace: "a"
		namespace: "b"
		tables: Counter: schema: value: "uint32"
	`)

	_, err := CompileWorld(v)
	require.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "tables", Message: "at least one table is required"}
	assert.Equal(t, "tables: at least one table is required", err.Error())
}
