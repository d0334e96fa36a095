package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/model"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Catalog string
	Input   string
}

// MatchSummary is the match command's output.
type MatchSummary struct {
	CatalogVersion uint64              `json:"catalog_version"`
	Results        []model.MatchResult `json:"results"`
	Matched        int                 `json:"matched"`
	Unmatched      int                 `json:"unmatched"`
	Failed         int                 `json:"failed"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match incoming records against a catalog",
		Long: `Load a catalog snapshot and match every incoming record against it.

Both files hold a JSON array of objects. Elements that are not objects are
reported as failed records; the rest of the batch is unaffected.

Exit codes:
  0 - Batch processed (individual records may still be unmatched or failed)
  2 - Command error (unreadable files, invalid config, etc.)

Examples:
  strainline match --catalog catalog.json --input incoming.json
  strainline match --catalog catalog.json --input incoming.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to catalog JSON (required)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "path to incoming records JSON (required)")
	_ = cmd.MarkFlagRequired("catalog")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runMatch(opts *MatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	catalogRecs, err := catalog.ReadRecordsFile(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}
	inputs, err := catalog.ReadRecordsFile(opts.Input)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	e, err := opts.openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	valid := catalog.ValidRecords(catalogRecs)
	if skipped := len(catalogRecs) - len(valid); skipped > 0 {
		f.VerboseLog("skipped %d malformed catalog entries", skipped)
	}
	reload, err := e.ReloadCatalog(ctx, valid)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	f.VerboseLog("catalog v%d: %d products, %d vendors, %d terms",
		reload.Stats.Version, reload.Stats.Products, reload.Stats.VendorKeys, reload.Stats.Terms)

	summary := MatchSummary{
		CatalogVersion: reload.Stats.Version,
		Results:        e.Match(ctx, inputs),
	}
	for _, r := range summary.Results {
		switch {
		case r.Error != "":
			summary.Failed++
		case r.Matched():
			summary.Matched++
		default:
			summary.Unmatched++
		}
	}

	return f.Render(summary, func(w io.Writer) error {
		return writeMatchText(w, summary)
	})
}

func writeMatchText(w io.Writer, s MatchSummary) error {
	for _, r := range s.Results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "#%-4d failed     %s\n", r.Index, r.Error)
		case r.Matched():
			fmt.Fprintf(w, "#%-4d matched    score=%.2f strategy=%s vendor=%q -> [%d] %s\n",
				r.Index, r.Score, r.Strategy, r.Vendor, r.Candidate.ID, r.Candidate.Fields.Name())
		default:
			fmt.Fprintf(w, "#%-4d no match   best=%.2f strategy=%s\n", r.Index, r.Score, r.Strategy)
		}
	}
	_, err := fmt.Fprintf(w, "%d matched, %d unmatched, %d failed\n", s.Matched, s.Unmatched, s.Failed)
	return err
}
