package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/notify"
	"github.com/roach88/strainline/internal/session"
	"github.com/roach88/strainline/internal/store"
)

// ReloadResult reports one catalog reload.
type ReloadResult struct {
	Stats     catalog.Stats          `json:"stats"`
	Reconcile *store.ReconcileReport `json:"reconcile,omitempty"`
}

// ReloadCatalog builds a snapshot from records on the worker pool and
// publishes it. In-flight matches keep the snapshot they started with.
// When reconciliation is enabled the records are also persisted.
func (e *Engine) ReloadCatalog(ctx context.Context, records []model.Record) (ReloadResult, error) {
	var res ReloadResult
	err := e.pool.Do(ctx, func(poolCtx context.Context) error {
		snap := catalog.Build(e.holder.NextVersion(), records, catalog.BuildOptions{
			Aliases: e.aliases,
			Now:     e.now,
		})
		if !e.holder.Publish(snap) {
			return fmt.Errorf("reload catalog: version %d superseded by a newer snapshot", snap.Version())
		}
		res.Stats = snap.Stats()
		e.logger.Info("catalog published",
			"version", res.Stats.Version,
			"products", res.Stats.Products,
			"exact_keys", res.Stats.ExactKeys,
			"vendor_keys", res.Stats.VendorKeys,
			"terms", res.Stats.Terms,
			"build_duration", res.Stats.BuildDuration,
			"built_at", snap.BuiltAt(),
			"pool_pending", e.pool.Pending())

		if !e.cfg.Store.Reconcile {
			return nil
		}
		// Persist exactly what was published.
		published := make([]model.Record, 0, snap.Len())
		for _, p := range snap.Products() {
			published = append(published, p.Fields)
		}
		report, err := e.store.ReconcileCatalog(poolCtx, published)
		if err != nil {
			return fmt.Errorf("reload catalog: %w", err)
		}
		res.Reconcile = &report
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// Snapshot returns the catalog snapshot currently served.
func (e *Engine) Snapshot() *catalog.Snapshot {
	return e.holder.Current()
}

// Match resolves every record against the current snapshot. Failures are
// per record; the batch itself never fails.
func (e *Engine) Match(ctx context.Context, inputs []model.IncomingRecord) []model.MatchResult {
	return e.matcher.Match(ctx, e.holder.Current(), inputs)
}

// GetStrainLineage returns the canonical, sovereign and effective lineage.
func (e *Engine) GetStrainLineage(ctx context.Context, name string) (model.LineageView, error) {
	return e.store.GetStrainLineage(ctx, name)
}

// SetSovereignLineage stores a human override. A non-nil error means
// nothing was saved.
func (e *Engine) SetSovereignLineage(ctx context.Context, name, lineage, reason string) error {
	st, err := e.store.SetSovereignLineage(ctx, name, lineage, reason)
	if err != nil {
		e.logger.Warn("sovereign lineage not saved", "strain", name, "lineage", lineage, "error", err)
		return err
	}
	e.logger.Info("sovereign lineage saved", "strain", st.Name, "lineage", st.SovereignLineage, "state", st.State)
	return nil
}

// ClearSovereignLineage drops a human override.
func (e *Engine) ClearSovereignLineage(ctx context.Context, name, reason string) error {
	st, err := e.store.ClearSovereignLineage(ctx, name, reason)
	if err != nil {
		e.logger.Warn("sovereign lineage not cleared", "strain", name, "error", err)
		return err
	}
	e.logger.Info("sovereign lineage cleared", "strain", st.Name, "effective", st.Effective())
	return nil
}

// GetLineageHistory returns the strain's history, most recent first.
func (e *Engine) GetLineageHistory(ctx context.Context, name string, limit int) ([]model.HistoryEntry, error) {
	return e.store.GetLineageHistory(ctx, name, limit)
}

// GetStrainProductCount returns the number of products referencing name.
func (e *Engine) GetStrainProductCount(ctx context.Context, name string) (int, error) {
	return e.store.GetStrainProductCount(ctx, name)
}

// ListConflicts returns strains whose override disagrees with the catalog.
func (e *Engine) ListConflicts(ctx context.Context) ([]model.Strain, error) {
	return e.store.ListConflicts(ctx)
}

// OpenSession registers a viewer session. It fails fast with
// CAPACITY_EXCEEDED instead of queueing.
func (e *Engine) OpenSession(ctx context.Context) (session.Session, error) {
	return e.sessions.Register(ctx)
}

// Subscribe attaches a lineage-change handler to a session.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, h notify.Handler) error {
	return e.sessions.Subscribe(ctx, sessionID, h)
}

// Touch keeps a session alive.
func (e *Engine) Touch(ctx context.Context, sessionID string) (session.Session, error) {
	return e.sessions.Touch(ctx, sessionID)
}

// CloseSession ends a session and detaches its subscription.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	return e.sessions.Close(ctx, sessionID)
}

// ExpireIdle removes sessions idle for longer than ttl.
func (e *Engine) ExpireIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	return e.sessions.ExpireIdle(ctx, ttl)
}

// Sessions lists live sessions.
func (e *Engine) Sessions(ctx context.Context) ([]session.Session, error) {
	return e.sessions.List(ctx)
}
