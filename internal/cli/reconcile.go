package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/config"
	"github.com/roach88/strainline/internal/engine"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Catalog string
}

// ReconcileSummary is the reconcile command's output.
type ReconcileSummary struct {
	engine.ReloadResult
	Malformed int `json:"malformed"`
	Strains   int `json:"strains"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Load a catalog into the strain store",
		Long: `Upsert every catalog product into the database and record a lineage
observation for each new or changed product strain.

Re-running an unchanged catalog records nothing new.

Examples:
  strainline reconcile --catalog catalog.json
  strainline reconcile --catalog catalog.json --db strains.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to catalog JSON (required)")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	recs, err := catalog.ReadRecordsFile(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}

	e, err := opts.openEngine(cmd, func(cfg *config.Config) {
		cfg.Store.Reconcile = true
	})
	if err != nil {
		return err
	}
	defer e.Close()

	valid := catalog.ValidRecords(recs)
	res, err := e.ReloadCatalog(cmd.Context(), valid)
	if err != nil {
		return f.Fail(ExitFailure, "reconcile failed", err)
	}

	strains, err := e.Store().CountStrains(cmd.Context())
	if err != nil {
		return f.Fail(ExitFailure, "reconciled, but could not count strains", err)
	}
	out := ReconcileSummary{ReloadResult: res, Malformed: len(recs) - len(valid), Strains: strains}

	return f.Render(out, func(w io.Writer) error {
		return writeReconcileText(w, out)
	})
}

func writeReconcileText(w io.Writer, s ReconcileSummary) error {
	fmt.Fprintf(w, "catalog v%d: %d products\n", s.Stats.Version, s.Stats.Products)
	if s.Malformed > 0 {
		fmt.Fprintf(w, "malformed entries: %d\n", s.Malformed)
	}
	if r := s.Reconcile; r != nil {
		fmt.Fprintf(w, "products: %d  observed: %d  skipped: %d  failed: %d\n",
			r.Products, r.Observed, r.Skipped, r.Failed)
	}
	_, err := fmt.Fprintf(w, "strains known: %d\n", s.Strains)
	return err
}
