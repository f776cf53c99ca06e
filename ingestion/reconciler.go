package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	"github.com/poiesic/ragify/storage"
)

// DefaultGracePeriod is how old an intent must be before it is reconciled.
// It must exceed the longest expected ingestion.
const DefaultGracePeriod = 15 * time.Minute

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Examined  int
	Committed int // intents whose document had been committed
	Cleaned   int // intents whose orphaned points were deleted
	Failed    int
}

// Reconciler removes vector points left behind by ingestions that wrote to
// the index but never committed their metadata.
type Reconciler struct {
	store  storage.Store
	index  *index.Manager
	grace  time.Duration
	now    func() time.Time
	report func(*ReconcileReport)
	logger *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler) error

// WithGracePeriod sets the minimum intent age.
// Default is DefaultGracePeriod.
func WithGracePeriod(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) error {
		if d < 0 {
			d = 0
		}
		r.grace = d
		return nil
	}
}

// WithReportFunc registers fn to receive the report of every completed pass.
func WithReportFunc(fn func(*ReconcileReport)) ReconcilerOption {
	return func(r *Reconciler) error {
		r.report = fn
		return nil
	}
}

// WithReconcilerLogger sets a custom logger.
// Default is slog.Default().
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(store storage.Store, manager *index.Manager, opts ...ReconcilerOption) (*Reconciler, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if manager == nil {
		return nil, ErrIndexRequired
	}
	r := &Reconciler{
		store:  store,
		index:  manager,
		grace:  DefaultGracePeriod,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reconciler")
	return r, nil
}

// Reconcile processes every intent older than the grace period once.
// Intents that cannot be cleaned are counted as failed and kept for the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	intents, err := r.store.ListIntents(ctx, r.now().Add(-r.grace))
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++
		if err := r.reconcile(ctx, intent, report); err != nil {
			report.Failed++
			r.logger.Error("failed to reconcile intent",
				"document", intent.DocumentID, "collection", intent.Collection, "err", err)
		}
	}
	if r.report != nil {
		r.report(report)
	}
	if report.Examined > 0 {
		r.logger.Info("reconciliation finished", "examined", report.Examined,
			"committed", report.Committed, "cleaned", report.Cleaned, "failed", report.Failed)
	}
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, intent *core.IndexIntent, report *ReconcileReport) error {
	_, err := r.store.GetDocument(ctx, intent.TenantID, intent.DocumentID)
	switch {
	case err == nil:
		if err := r.store.DeleteIntent(ctx, intent.DocumentID); err != nil {
			return err
		}
		report.Committed++
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	if err := r.index.DeletePoints(ctx, intent.Collection, intent.PointIDs); err != nil {
		return err
	}
	// chunks of an interrupted metadata commit
	if err := r.store.DeleteChunks(ctx, intent.TenantID, intent.DocumentID); err != nil {
		return err
	}
	if err := r.store.DeleteIntent(ctx, intent.DocumentID); err != nil {
		return err
	}
	r.logger.Info("removed orphaned points", "document", intent.DocumentID,
		"file", intent.FileName, "points", len(intent.PointIDs))
	report.Cleaned++
	return nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconciliation failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
