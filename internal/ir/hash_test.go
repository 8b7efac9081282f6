package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateIDDeterminism(t *testing.T) {
	value := Object{"value": Int(1)}

	id1, err := UpdateID("Counter", SingletonKey, value, 1)
	require.NoError(t, err)
	id2, err := UpdateID("Counter", SingletonKey, value, 1)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "UpdateID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestUpdateIDChangesWithInput(t *testing.T) {
	value := Object{"value": Int(1)}

	base := MustUpdateID("Counter", SingletonKey, value, 1)

	assert.NotEqual(t, base, MustUpdateID("Counter", SingletonKey, value, 2), "version")
	assert.NotEqual(t, base, MustUpdateID("Score", SingletonKey, value, 1), "component")
	assert.NotEqual(t, base, MustUpdateID("Counter", "0x01", value, 1), "key")
	assert.NotEqual(t, base, MustUpdateID("Counter", SingletonKey, Object{"value": Int(2)}, 1), "value")
}

func TestUpdateIDNilValue(t *testing.T) {
	id, err := UpdateID("Counter", SingletonKey, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, MustUpdateID("Counter", SingletonKey, Object{}, 1), id)
}

func TestWorldAddress(t *testing.T) {
	cfg := WorldConfig{Namespace: "app", Tables: []TableSchema{{Name: "Counter"}}}

	addr, err := WorldAddress(cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 42)

	again, err := WorldAddress(cfg)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	other, err := WorldAddress(WorldConfig{Namespace: "other", Tables: cfg.Tables})
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}
