package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("docs")

	_, err := m.Get(ctx, SourceObject("d1"))
	assert.ErrorIs(t, err, ErrObjectNotFound)

	data := []byte("%PDF-1.4")
	wrote, err := m.PutIfAbsent(ctx, SourceObject("d1"), data, "application/pdf")
	require.NoError(t, err)
	assert.True(t, wrote)
	data[0] = 'X'

	wrote, err = m.PutIfAbsent(ctx, SourceObject("d1"), []byte("other"), "application/pdf")
	require.NoError(t, err)
	assert.False(t, wrote)

	got, err := m.Get(ctx, "d1/source.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(got))

	require.NoError(t, m.Put(ctx, "d1/source.pdf", []byte("v2"), ""))
	got, _ = m.Get(ctx, "d1/source.pdf")
	assert.Equal(t, "v2", string(got))

	require.NoError(t, m.Put(ctx, "d2/source.pdf", nil, ""))
	assert.Equal(t, []string{"d1/source.pdf"}, m.List("d1/"))
	assert.Equal(t, "mem://docs/d1/source.pdf", m.URI("d1/source.pdf"))
}
