package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	backend := errors.New("status 503")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"unsupported format", fmt.Errorf("%w: pptx", ErrUnsupportedFormat), KindUnsupportedFormat},
		{"empty document", ErrEmptyDocument, KindEmptyDocument},
		{"embedding", &EmbeddingError{Failures: []BatchFailure{{Batch: 1, Err: backend}}}, KindEmbeddingBackend},
		{"index", fmt.Errorf("upsert: %w", ErrIndexUnavailable), KindIndexUnavailable},
		{"ingestion wraps cause", &IngestionError{Stage: StageIndex, Err: ErrIndexUnavailable}, KindIngestionFailed},
		{"invalid query", ErrInvalidQuery, KindInvalidQuery},
		{"validation", fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyFileName), KindInvalidInput},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIngestionError(t *testing.T) {
	err := error(&IngestionError{DocumentID: "d1", Stage: StageEmbed, Err: ErrEmbeddingBackend})

	assert.ErrorIs(t, err, ErrIngestionFailed)
	assert.ErrorIs(t, err, ErrEmbeddingBackend)
	assert.Contains(t, err.Error(), "embed")

	var ie *IngestionError
	assert.True(t, errors.As(err, &ie))
	assert.False(t, ie.IndexWriteUncertain())
	assert.True(t, (&IngestionError{Stage: StagePersist}).IndexWriteUncertain())
}

func TestEmbeddingError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &EmbeddingError{Failures: []BatchFailure{{Batch: 2, Start: 200, End: 250, Detail: "connection reset", Err: cause}}}

	assert.ErrorIs(t, err, ErrEmbeddingBackend)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "batch 2")
}
