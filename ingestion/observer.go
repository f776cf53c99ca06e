package ingestion

import (
	"time"

	"github.com/poiesic/ragify/core"
)

// Event reports a state transition of an ingestion request.
type Event struct {
	DocumentID string
	TenantID   string
	FileName   string
	State      core.JobState
	// Stage and Err are set when State is failed.
	Stage   core.Stage
	Err     error
	Chunks  int
	Elapsed time.Duration
}

// Observer receives ingestion events. Observe is called synchronously on the
// ingesting goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

type observers []Observer

func (os observers) Observe(ev Event) {
	for _, o := range os {
		if o != nil {
			o.Observe(ev)
		}
	}
}
