package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strainline/internal/model"
)

func catalogRecords() []model.Record {
	return []model.Record{
		{model.FieldName: "Blue Dream Pre-Roll 1g", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "Blue Dream", model.FieldLineage: "HYBRID"},
		{model.FieldName: "Blue Dream Flower 3.5g", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "Blue Dream", model.FieldLineage: "HYBRID"},
		{model.FieldName: "Blue Dream Cart 1g", model.FieldVendor: "JSM LLC", model.FieldStrain: "blue dream", model.FieldLineage: "SATIVA"},
		{model.FieldName: "Gelato Flower 3.5g", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "Gelato", model.FieldLineage: "Hybrid Indica"},
		{model.FieldName: "Glass Pipe", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "", model.FieldLineage: "PARAPHERNALIA"},
		{model.FieldName: "Mystery Flower 1g", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "Mystery", model.FieldLineage: "Unknown"},
		{model.FieldVendor: "Sweet Leaf"},
	}
}

func TestReconcileCatalog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	report, err := s.ReconcileCatalog(ctx, catalogRecords())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Products: 6, Observed: 4, Skipped: 1}, report)

	st, err := s.GetStrain(ctx, "Blue Dream")
	require.NoError(t, err)
	assert.Equal(t, 3, st.OccurrenceCount)
	assert.Equal(t, model.LineageHybrid, st.CanonicalLineage)
	assert.Equal(t, model.StateClassified, st.State)

	gelato, err := s.GetStrainLineage(ctx, "Gelato")
	require.NoError(t, err)
	assert.Equal(t, model.LineageHybridIndica, gelato.Effective)

	_, err = s.GetStrain(ctx, "Mystery")
	assert.True(t, model.IsNotFound(err))

	for name, want := range map[string]int{"Blue Dream": 3, "GELATO": 1, "Mystery": 1, "Nobody": 0} {
		n, err := s.GetStrainProductCount(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, n, name)
	}
}

func TestReconcileCatalog_UnchangedCatalogAddsNoVotes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ReconcileCatalog(ctx, catalogRecords())
	require.NoError(t, err)
	report, err := s.ReconcileCatalog(ctx, catalogRecords())
	require.NoError(t, err)
	assert.Zero(t, report.Observed)
	assert.Equal(t, 6, report.Products)

	st, err := s.GetStrain(ctx, "Blue Dream")
	require.NoError(t, err)
	assert.Equal(t, 3, st.OccurrenceCount)

	// A lineage change on one row is a new observation.
	recs := catalogRecords()
	recs[2][model.FieldLineage] = "HYBRID"
	report, err = s.ReconcileCatalog(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Observed)

	st, err = s.GetStrain(ctx, "Blue Dream")
	require.NoError(t, err)
	assert.Equal(t, 4, st.OccurrenceCount)
}

func TestReconcileCatalog_Cancelled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReconcileCatalog(ctx, catalogRecords())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpsertProduct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := model.Record{model.FieldName: "Gelato Flower 3.5g", model.FieldVendor: "Sweet Leaf", model.FieldStrain: "Gelato"}
	id, changed, err := s.UpsertProduct(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	again, changed, err := s.UpsertProduct(ctx, rec)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, id, again)

	// The strain link is filled in once the strain exists.
	_, err = s.AddOrUpdateStrain(ctx, "Gelato", "HYBRID")
	require.NoError(t, err)
	rec[model.FieldLineage] = "HYBRID"
	_, changed, err = s.UpsertProduct(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	var strainID *int64
	require.NoError(t, s.DB().QueryRow(`SELECT strain_id FROM products WHERE id = ?`, id).Scan(&strainID))
	require.NotNil(t, strainID)

	_, _, err = s.UpsertProduct(ctx, model.Record{model.FieldVendor: "Sweet Leaf"})
	assert.True(t, model.IsMalformed(err))
}

func TestListConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.AddOrUpdateStrain(ctx, "Gelato", "HYBRID")
	require.NoError(t, err)
	_, err = s.SetSovereignLineage(ctx, "Gelato", "INDICA", "")
	require.NoError(t, err)

	_, err = s.AddOrUpdateStrain(ctx, "Blue Dream", "HYBRID")
	require.NoError(t, err)
	_, err = s.SetSovereignLineage(ctx, "Blue Dream", "HYBRID", "")
	require.NoError(t, err)

	_, err = s.SetSovereignLineage(ctx, "Runtz", "SATIVA", "")
	require.NoError(t, err)

	_, err = s.AddOrUpdateStrain(ctx, "Apple Fritter", "HYBRID")
	require.NoError(t, err)
	_, err = s.SetSovereignLineage(ctx, "Apple Fritter", "SATIVA", "")
	require.NoError(t, err)

	conflicts, err := s.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "Apple Fritter", conflicts[0].Name)
	assert.Equal(t, "Gelato", conflicts[1].Name)
	assert.Equal(t, model.LineageIndica, conflicts[1].Effective())

	n, err := s.CountStrains(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
