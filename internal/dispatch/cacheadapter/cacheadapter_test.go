package cacheadapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutThenHit(t *testing.T) {
	a := New(1024)

	_, ok := a.Get("missing")
	require.False(t, ok)

	a.Put("missing", []byte("object bytes"))
	data, ok := a.Get("missing")
	require.True(t, ok)
	require.Equal(t, []byte("object bytes"), data)
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	a := New(1024)
	a.Put("k", []byte("first"))
	a.Put("k", []byte("second"))

	data, ok := a.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("second"), data)
}
