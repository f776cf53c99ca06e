package retrieval

import (
	"context"
	"testing"

	"github.com/poiesic/ragify/ai/mock"
	"github.com/poiesic/ragify/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssistant(t *testing.T) {
	f := newRetrieverFixture(t)
	s, err := NewSynthesizer(mock.NewMockGenerator())
	require.NoError(t, err)

	_, err = NewAssistant(nil, s)
	assert.Equal(t, ErrRetrieverRequired, err)
	_, err = NewAssistant(f.retriever(t), nil)
	assert.Equal(t, ErrSynthesizerRequired, err)
}

func TestAsk(t *testing.T) {
	f := newRetrieverFixture(t)
	tenant := core.Tenant{ID: "acme"}
	f.seed(t, tenant, "guide.pdf", "the proxy listens on port 8080")

	gen := mock.NewMockGenerator()
	gen.Response = `{"text": "8080", "file_name": "guide.pdf", "page_number": 1, "score": 1}`
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)
	a, err := NewAssistant(f.retriever(t), s)
	require.NoError(t, err)

	turn, err := a.Ask(context.Background(), tenant, "the proxy listens on port 8080", 3)
	require.NoError(t, err)
	assert.Equal(t, "acme", turn.TenantID)
	assert.Len(t, turn.Results, 1)
	assert.Equal(t, "8080", turn.Answer.Text)
	assert.False(t, turn.CreatedAt.IsZero())
}

func TestAsk_EmptyTenant(t *testing.T) {
	f := newRetrieverFixture(t)
	gen := mock.NewMockGenerator()
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)
	a, err := NewAssistant(f.retriever(t), s)
	require.NoError(t, err)

	turn, err := a.Ask(context.Background(), core.Tenant{ID: "new"}, "anything?", 3)
	require.NoError(t, err)
	assert.Empty(t, turn.Results)
	assert.Equal(t, NoContextAnswer, turn.Answer.Text)
	assert.Zero(t, gen.CallCount())
}
