package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeysUTF16Order(t *testing.T) {
	obj := Object{"a": Int(1), "A": Int(2), "aa": Int(3), "Aa": Int(4), "AA": Int(5)}
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aa"}, obj.SortedKeys())

	// U+FF61 sorts after a surrogate pair in UTF-8 but before it in UTF-16.
	obj = Object{"\U0001F600": Int(1), "\uff61": Int(2)}
	assert.Equal(t, []string{"\U0001F600", "\uff61"}, obj.SortedKeys())
}

func TestObjectInt(t *testing.T) {
	obj := Object{"value": Int(7), "name": String("x")}

	n, ok := obj.Int("value")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = obj.Int("name")
	assert.False(t, ok)
	_, ok = obj.Int("missing")
	assert.False(t, ok)
}

func TestObjectClone(t *testing.T) {
	obj := Object{"value": Int(1)}
	clone := obj.Clone()
	clone["value"] = Int(2)

	assert.Equal(t, Int(1), obj["value"])
	assert.Nil(t, Object(nil).Clone())
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"value": Int(3),
		"tags":  Array{String("a"), Bool(true)},
		"inner": Object{"z": Int(-1)},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"inner":{"z":-1},"tags":["a",true],"value":3}`, string(data))

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, obj, decoded)
}

func TestParseValueRejectsFloatsAndNull(t *testing.T) {
	for _, input := range []string{`1.5`, `1e3`, `null`, `{"a":null}`, `[0.1]`} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseValue([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestObjectUnmarshalAllowsNull(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"a":null}`), &obj))
	assert.Equal(t, Null{}, obj["a"])
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"int":   3,
		"whole": float64(4),
		"list":  []any{"a", true},
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"int":   Int(3),
		"whole": Int(4),
		"list":  Array{String("a"), Bool(true)},
	}, v)

	_, err = FromGo(2.5)
	assert.Error(t, err)
	_, err = FromGo(nil)
	assert.Error(t, err)
}

func TestFieldRange(t *testing.T) {
	lo, hi, ok := FieldRange(TypeUint32)
	require.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(4294967295), hi)

	lo, hi, ok = FieldRange(TypeInt32)
	require.True(t, ok)
	assert.Equal(t, int64(-2147483648), lo)
	assert.Equal(t, int64(2147483647), hi)

	_, _, ok = FieldRange(TypeString)
	assert.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, SingletonKey, NormalizeKey(""))
	assert.Equal(t, "0xabcd", NormalizeKey("0xABCD"))
	assert.Equal(t, "counter", NormalizeKey("counter"))
}

func TestWriteAndResultUnmarshal(t *testing.T) {
	var w Write
	require.NoError(t, json.Unmarshal([]byte(`{"id":"tx-1","action":"increment","status":"confirmed","result":3,"block":2,"seq":5}`), &w))
	assert.Equal(t, Write{ID: "tx-1", Action: "increment", Status: WriteStatusConfirmed, Result: Int(3), Block: 2, Seq: 5}, w)

	var pending Write
	require.NoError(t, json.Unmarshal([]byte(`{"id":"tx-2","status":"pending"}`), &pending))
	assert.Nil(t, pending.Result)

	var r ActionResult
	require.NoError(t, json.Unmarshal([]byte(`{"id":"tx-1","action":"increment","value":"x","block":1}`), &r))
	assert.Equal(t, String("x"), r.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"value":1.5}`), &r))
}
