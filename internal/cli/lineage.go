package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strainline/internal/model"
)

// NewLineageCommand creates the lineage command group.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Inspect and override strain lineage",
		Long: `Read a strain's canonical, sovereign and effective lineage, set or clear
a human override, and show the audit history.

Known lineages: SATIVA, INDICA, HYBRID, HYBRID/SATIVA, HYBRID/INDICA, CBD,
MIXED, PARAPHERNALIA. Short forms such as S, I, H are accepted.`,
	}

	cmd.AddCommand(newLineageGetCommand(rootOpts))
	cmd.AddCommand(newLineageSetCommand(rootOpts))
	cmd.AddCommand(newLineageClearCommand(rootOpts))
	cmd.AddCommand(newLineageHistoryCommand(rootOpts))

	return cmd
}

func newLineageGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <strain>",
		Short:         "Show a strain's lineage",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			e, err := opts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			view, err := e.GetStrainLineage(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitFailure, fmt.Sprintf("strain %q not found", args[0]), err)
			}
			return f.Render(view, func(w io.Writer) error {
				return writeLineageView(w, view)
			})
		},
	}
}

// LineageSetOptions holds flags for lineage set and clear.
type LineageSetOptions struct {
	*RootOptions
	Reason string
}

func newLineageSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LineageSetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <strain> <lineage>",
		Short: "Set a sovereign lineage override",
		Long: `Set a human override for a strain. The override always wins over the
catalog-derived lineage. An unseen strain is created.

Exit codes:
  0 - Saved
  1 - Not saved (invalid lineage, timeout); nothing was applied`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			e, err := opts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			if err := e.SetSovereignLineage(ctx, args[0], args[1], opts.Reason); err != nil {
				return f.Fail(ExitFailure, notSavedMessage(err), err)
			}
			view, err := e.GetStrainLineage(ctx, args[0])
			if err != nil {
				return f.Fail(ExitFailure, "saved, but could not read back", err)
			}
			return f.Render(view, func(w io.Writer) error {
				fmt.Fprintln(w, "saved")
				return writeLineageView(w, view)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the history (default sovereign-override)")

	return cmd
}

func newLineageClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LineageSetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "clear <strain>",
		Short:         "Remove a sovereign lineage override",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			e, err := opts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			if err := e.ClearSovereignLineage(ctx, args[0], opts.Reason); err != nil {
				return f.Fail(ExitFailure, notSavedMessage(err), err)
			}
			view, err := e.GetStrainLineage(ctx, args[0])
			if err != nil {
				return f.Fail(ExitFailure, "cleared, but could not read back", err)
			}
			return f.Render(view, func(w io.Writer) error {
				fmt.Fprintln(w, "cleared")
				return writeLineageView(w, view)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the history (default override-cleared)")

	return cmd
}

// LineageHistoryOptions holds flags for lineage history.
type LineageHistoryOptions struct {
	*RootOptions
	Limit int
}

func newLineageHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LineageHistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history <strain>",
		Short:         "Show lineage history, most recent first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			e, err := opts.openEngine(cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.GetLineageHistory(cmd.Context(), args[0], opts.Limit)
			if err != nil {
				return f.Fail(ExitFailure, "failed to read history", err)
			}
			return f.Render(entries, func(w io.Writer) error {
				if len(entries) == 0 {
					_, err := fmt.Fprintf(w, "no history for %q\n", args[0])
					return err
				}
				for _, h := range entries {
					fmt.Fprintf(w, "%s  %-14s -> %-14s %s\n",
						h.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
						orDash(h.OldLineage), h.NewLineage, h.Reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum entries to show (0 for all)")

	return cmd
}

// notSavedMessage is the user-facing text for a rejected write.
func notSavedMessage(err error) string {
	switch {
	case model.IsInvalidLineage(err):
		return "not saved: unknown lineage"
	case model.IsNotFound(err):
		return "not saved: strain not found"
	case model.IsTimeout(err):
		return "not saved, try again"
	default:
		return "not saved, try again"
	}
}

func writeLineageView(w io.Writer, v model.LineageView) error {
	fmt.Fprintf(w, "strain:    %s\n", v.Name)
	fmt.Fprintf(w, "canonical: %s\n", orDash(v.Canonical))
	fmt.Fprintf(w, "sovereign: %s\n", orDash(v.Sovereign))
	_, err := fmt.Fprintf(w, "effective: %s\n", orDash(v.Effective))
	return err
}

func orDash(l model.Lineage) string {
	if l == "" {
		return "-"
	}
	return string(l)
}
