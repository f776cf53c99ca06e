package retrieval

import (
	"time"

	"github.com/poiesic/ragify/core"
)

// Monitor provides hooks to observe a retrieval.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(tenant core.Tenant, query string)
	AfterEmbedding(dimensions int)
	AfterSearch(points []core.ScoredPoint)
	KeywordHit(result core.RetrievalResult)
	Finish(results []core.RetrievalResult, err error, elapsed time.Duration)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.Tenant, _ string)                             {}
func (n *noopMonitor) AfterEmbedding(_ int)                                      {}
func (n *noopMonitor) AfterSearch(_ []core.ScoredPoint)                          {}
func (n *noopMonitor) KeywordHit(_ core.RetrievalResult)                         {}
func (n *noopMonitor) Finish(_ []core.RetrievalResult, _ error, _ time.Duration) {}
