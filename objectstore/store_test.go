package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
	}{
		{"report.pdf", "acme/d1/report.pdf"},
		{"../../etc/passwd", "acme/d1/passwd"},
		{`C:\docs\notes.md`, "acme/d1/notes.md"},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			assert.Equal(t, tt.want, Key("acme", "d1", tt.fileName))
		})
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	obj, err := m.Put(ctx, "k", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "k", obj.Key)
	assert.Equal(t, 1, m.Len())

	r, err := m.Get("k")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "hello", string(data))

	_, err = m.Put(ctx, "short", strings.NewReader("hi"), 5, "text/plain")
	assert.Error(t, err)

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get("k")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
