package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/oscmix/graph"
)

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oscmix.json")
	store := NewStore(path)

	doc := &Document{
		Tree: map[string]any{
			"strip": []any{
				map[string]any{"enable": true, "type": "loopback", "channels": int32(2), "name": "main"},
			},
		},
		Connections: []graph.Connection{{Source: "strip0:out_1", Destination: "strip1:in_1"}},
	}
	require.NoError(t, store.Save(doc))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, doc.Connections, loaded.Connections)

	tree, ok := loaded.Tree.(map[string]any)
	require.True(t, ok)
	strips, ok := tree["strip"].([]any)
	require.Len(t, strips, 1)
	first := strips[0].(map[string]any)
	assert.Equal(t, true, first["enable"])
	assert.Equal(t, "loopback", first["type"])
	assert.EqualValues(t, 2, first["channels"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, doc.Tree)
	assert.Empty(t, doc.Connections)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"tree": {"strip": [`},
		{"not an object", `[1, 2, 3]`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			doc, err := NewStore(path).Load()
			assert.ErrorIs(t, err, ErrCorrupt)
			require.NotNil(t, doc)
			assert.Nil(t, doc.Tree)
		})
	}
}

func TestDecodeSkipsIncompleteConnections(t *testing.T) {
	doc, err := Decode(`{
		"connections": [
			{"source": "a:out_1", "destination": "b:in_1"},
			{"source": "a:out_2"},
			"a:out_3 b:in_3",
			{"source": "a:out_4", "destination": "b:in_4"}
		]
	}`)
	require.NoError(t, err)
	assert.Nil(t, doc.Tree)
	assert.Equal(t, []graph.Connection{
		{Source: "a:out_1", Destination: "b:in_1"},
		{Source: "a:out_4", Destination: "b:in_4"},
	}, doc.Connections)
}

func TestEncodeIsStable(t *testing.T) {
	doc := &Document{Tree: map[string]any{"b": int32(1), "a": "x"}}
	first := Encode(doc)
	assert.Equal(t, first, Encode(doc))
	assert.Less(t, strings.Index(first, `"a"`), strings.Index(first, `"b"`))
	assert.Contains(t, first, `"connections"`)
}
