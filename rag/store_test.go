package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChunkStore_LoadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"chunk_id":"c1","document_id":"d1","content":"alpha","chunk_index":0,"embedding":[1,0]},
		{"chunk_id":"c2","document_id":"d1","content":"beta","chunk_index":1,"metadata":{"lang":"en"}}
	]`), 0o600))

	s := NewMemoryChunkStore(nil)
	n, err := s.LoadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Count())

	chunks, err := s.ListChunks(ctx, Filters{Metadata: map[string]string{"lang": "en"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c2", chunks[0].ID)

	_, err = s.LoadFile(ctx, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"document_id":"d2","content":"no id"}]`), 0o600))
	_, err = s.LoadFile(ctx, bad)
	assert.Error(t, err)
}
