package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/textutil"
)

// ReconcileReport summarizes one ReconcileCatalog pass.
type ReconcileReport struct {
	Products int `json:"products"`
	Observed int `json:"observed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// productKey identifies a catalog product by vendor and name.
func productKey(rec model.Record) string {
	name := textutil.Normalize(rec.Name())
	if name == "" {
		return ""
	}
	v := rec.Vendor()
	if v == "" {
		v = rec.Brand()
	}
	return textutil.Normalize(v) + "|" + name
}

func productLineage(rec model.Record) string {
	if rec.Lineage() == "" {
		return ""
	}
	return string(model.NormalizeLineage(rec.Lineage()))
}

// UpsertProduct inserts or refreshes the product row for rec and links it
// to its strain. It reports whether the strain or lineage of the row
// changed (true for a new row).
func (s *Store) UpsertProduct(ctx context.Context, rec model.Record) (id int64, changed bool, err error) {
	const op = "upsert product"
	key := productKey(rec)
	if key == "" {
		return 0, false, model.NewError(model.CodeMalformedInput, op, "product has no name", nil)
	}
	strainKey := nameKey(rec.Strain())
	lineage := productLineage(rec)

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, s.writeError(ctx, op, key, "begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var prevStrain, prevLineage string
	err = tx.QueryRowContext(ctx, `SELECT strain_key, lineage FROM products WHERE product_key = ?`, key).Scan(&prevStrain, &prevLineage)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		changed = true
	case err != nil:
		return 0, false, s.writeError(ctx, op, key, "select existing", err)
	default:
		changed = prevStrain != strainKey || prevLineage != lineage
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products
		(product_key, name, vendor, product_type, strain_key, strain_id, lineage, updated_at)
		VALUES (?, ?, ?, ?, ?, (SELECT id FROM strains WHERE name_key = ?), ?, ?)
		ON CONFLICT(product_key) DO UPDATE SET
			name = excluded.name,
			vendor = excluded.vendor,
			product_type = excluded.product_type,
			strain_key = excluded.strain_key,
			strain_id = excluded.strain_id,
			lineage = excluded.lineage,
			updated_at = excluded.updated_at
	`,
		key,
		rec.Name(),
		rec.Vendor(),
		rec.Type(),
		strainKey,
		strainKey,
		lineage,
		s.now().UTC().UnixMicro(),
	)
	if err != nil {
		return 0, false, s.writeError(ctx, op, key, "insert", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE product_key = ?`, key).Scan(&id); err != nil {
		return 0, false, s.writeError(ctx, op, key, "select id", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, s.writeError(ctx, op, key, "commit", err)
	}
	return id, changed, nil
}

// productChanged reports whether upserting rec would change the strain or
// lineage recorded for its product row.
func (s *Store) productChanged(ctx context.Context, rec model.Record) (bool, error) {
	var prevStrain, prevLineage string
	err := s.db.QueryRowContext(ctx, `SELECT strain_key, lineage FROM products WHERE product_key = ?`, productKey(rec)).Scan(&prevStrain, &prevLineage)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("product changed: %w", err)
	}
	return prevStrain != nameKey(rec.Strain()) || prevLineage != productLineage(rec), nil
}

// ReconcileCatalog persists a catalog snapshot: every named record becomes
// a product row, and records whose strain or lineage is new or changed
// count as one observation of that strain. Re-reconciling an unchanged
// catalog adds no votes.
//
// Per-record failures are logged and counted; only cancellation of ctx
// stops the pass early.
func (s *Store) ReconcileCatalog(ctx context.Context, records []model.Record) (ReconcileReport, error) {
	var report ReconcileReport
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("reconcile catalog: %w", err)
		}
		if productKey(rec) == "" {
			report.Skipped++
			continue
		}

		changed, err := s.productChanged(ctx, rec)
		if err != nil {
			report.Failed++
			s.logger.Warn("reconcile: product lookup failed", "index", i, "error", err)
			continue
		}

		if changed && rec.Strain() != "" && rec.Lineage() != "" {
			_, err := s.AddOrUpdateStrain(ctx, rec.Strain(), rec.Lineage())
			switch {
			case err == nil:
				report.Observed++
			case model.IsInvalidLineage(err):
				s.logger.Debug("reconcile: lineage not recognized", "index", i, "strain", rec.Strain(), "lineage", rec.Lineage())
			default:
				report.Failed++
				s.logger.Warn("reconcile: strain observation failed", "index", i, "strain", rec.Strain(), "error", err)
				continue
			}
		}

		if _, _, err := s.UpsertProduct(ctx, rec); err != nil {
			report.Failed++
			s.logger.Warn("reconcile: product upsert failed", "index", i, "error", err)
			continue
		}
		report.Products++
	}

	s.logger.Info("catalog reconciled",
		"records", len(records),
		"products", report.Products,
		"observed", report.Observed,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}
