package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/strainline/internal/model"
)

// GetStrain returns the stored strain called name.
func (s *Store) GetStrain(ctx context.Context, name string) (model.Strain, error) {
	st, found, err := loadStrain(ctx, s.db, nameKey(name))
	if err != nil {
		return model.Strain{}, fmt.Errorf("get strain: %w", err)
	}
	if !found {
		return model.Strain{}, model.NewError(model.CodeNotFound, "get strain", fmt.Sprintf("strain %q not found", name), nil)
	}
	return st, nil
}

// GetStrainLineage returns the canonical, sovereign and effective lineage of
// a strain. The effective value is the sovereign one whenever it is set.
func (s *Store) GetStrainLineage(ctx context.Context, name string) (model.LineageView, error) {
	st, err := s.GetStrain(ctx, name)
	if err != nil {
		return model.LineageView{}, err
	}
	return model.LineageView{
		Name:      st.Name,
		Canonical: st.CanonicalLineage,
		Sovereign: st.SovereignLineage,
		Effective: st.Effective(),
	}, nil
}

// GetLineageHistory returns up to limit history entries of a strain,
// most recent first. limit <= 0 returns everything. An unknown strain has
// an empty history.
//
// Query uses ORDER BY ts DESC, seq DESC for deterministic ordering.
func (s *Store) GetLineageHistory(ctx context.Context, name string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.seq, h.strain_id, h.old_lineage, h.new_lineage, h.ts, h.reason
		FROM lineage_history h
		JOIN strains s ON s.id = h.strain_id
		WHERE s.name_key = ?
		ORDER BY h.ts DESC, h.seq DESC
		LIMIT ?
	`, nameKey(name), limit)
	if err != nil {
		return nil, fmt.Errorf("get lineage history: %w", err)
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		var (
			e         model.HistoryEntry
			old, next string
			ts        int64
		)
		if err := rows.Scan(&e.Seq, &e.StrainID, &old, &next, &ts, &e.Reason); err != nil {
			return nil, fmt.Errorf("get lineage history: scan: %w", err)
		}
		e.OldLineage = model.Lineage(old)
		e.NewLineage = model.Lineage(next)
		e.Timestamp = time.UnixMicro(ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get lineage history: %w", err)
	}
	return entries, nil
}

// GetStrainProductCount returns the number of products that reference the
// strain. An unknown strain has zero products.
func (s *Store) GetStrainProductCount(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE strain_key = ?`, nameKey(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("get strain product count: %w", err)
	}
	return n, nil
}

// ListConflicts returns strains whose sovereign lineage disagrees with a
// non-empty canonical lineage, ordered by name key.
func (s *Store) ListConflicts(ctx context.Context) ([]model.Strain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+strainColumns+`
		FROM strains
		WHERE sovereign_lineage != ''
		  AND canonical_lineage != ''
		  AND sovereign_lineage != canonical_lineage
		ORDER BY name_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	out := []model.Strain{}
	for rows.Next() {
		st, err := scanStrain(rows)
		if err != nil {
			return nil, fmt.Errorf("list conflicts: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return out, nil
}

// CountStrains returns the number of stored strains.
func (s *Store) CountStrains(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strains`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count strains: %w", err)
	}
	return n, nil
}
