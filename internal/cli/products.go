package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ProductCount is the output of products count.
type ProductCount struct {
	Strain string `json:"strain"`
	Count  int    `json:"count"`
}

// NewProductsCommand creates the products command group.
func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Query reconciled products",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "count <strain>",
		Short:         "Count products that reference a strain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			e, err := rootOpts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.GetStrainProductCount(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitFailure, "failed to count products", err)
			}
			out := ProductCount{Strain: args[0], Count: n}
			return f.Render(out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %d products\n", out.Strain, out.Count)
				return err
			})
		},
	})

	return cmd
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List strains whose override disagrees with the catalog",
		Long: `List every strain with a sovereign lineage that differs from its
canonical (catalog-derived) lineage.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			e, err := rootOpts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			strains, err := e.ListConflicts(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, "failed to list conflicts", err)
			}
			return f.Render(strains, func(w io.Writer) error {
				if len(strains) == 0 {
					_, err := fmt.Fprintln(w, "no conflicts")
					return err
				}
				for _, s := range strains {
					fmt.Fprintf(w, "%-30s canonical=%-14s sovereign=%-14s confidence=%.2f\n",
						s.Name, s.CanonicalLineage, s.SovereignLineage, s.Confidence)
				}
				return nil
			})
		},
	}
}
