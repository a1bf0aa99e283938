package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderIsDeterministic(t *testing.T) {
	e := NewMockEmbedder()
	a, err := e.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	b, err := e.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	c, err := e.EmbedText(context.Background(), "world")
	require.NoError(t, err)

	assert.Len(t, a, DefaultDimension)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, Vector("hello"), a)
	assert.Equal(t, 3, e.CallCount())

	e.Reset()
	assert.Zero(t, e.CallCount())
}

func TestMockEmbedderBatch(t *testing.T) {
	e := NewMockEmbedder()
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, Vector("b"), vecs[1])
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider(nil)
	e, err := p.Embedder("m1")
	require.NoError(t, err)
	assert.Same(t, p.MockEmbedder(), e)

	boom := errors.New("boom")
	p.WithError(boom)
	_, err = p.Embedder("m2")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"m1", "m2"}, p.Models())
	assert.NoError(t, p.Close())
}
