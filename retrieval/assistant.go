package retrieval

import (
	"context"
	"time"

	"github.com/poiesic/ragify/core"
)

// Assistant answers a query from a tenant's documents in one turn.
type Assistant struct {
	retriever   *Retriever
	synthesizer *Synthesizer
}

// NewAssistant creates an assistant.
func NewAssistant(retriever *Retriever, synthesizer *Synthesizer) (*Assistant, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if synthesizer == nil {
		return nil, ErrSynthesizerRequired
	}
	return &Assistant{retriever: retriever, synthesizer: synthesizer}, nil
}

// Ask retrieves up to limit results for query and answers from them.
func (a *Assistant) Ask(ctx context.Context, tenant core.Tenant, query string, limit int) (*core.ConversationTurn, error) {
	return a.AskWithMonitor(ctx, tenant, query, limit, nil)
}

// AskWithMonitor is Ask with retrieval callbacks.
func (a *Assistant) AskWithMonitor(ctx context.Context, tenant core.Tenant, query string, limit int, monitor Monitor) (*core.ConversationTurn, error) {
	results, err := a.retriever.RetrieveWithMonitor(ctx, tenant, query, limit, monitor)
	if err != nil {
		return nil, err
	}
	answer, err := a.synthesizer.Answer(ctx, query, results)
	if err != nil {
		return nil, err
	}
	return &core.ConversationTurn{
		TenantID:  tenant.ID,
		Query:     query,
		Answer:    *answer,
		Results:   results,
		CreatedAt: time.Now().UTC(),
	}, nil
}
