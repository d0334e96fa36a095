package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/strainline/internal/model"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Duration time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print lineage changes as they happen",
		Long: `Open a viewer session and print every lineage change event.

Changes made by other processes arrive through the Redis relay, so
redis.addr (or STRAINLINE_REDIS_ADDR) must be set for watch to see them.

Examples:
  strainline watch
  strainline watch --duration 10m --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 waits for interrupt)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx := base
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	e, err := opts.openEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	// The registry outlives ctx so the session can be closed cleanly.
	if err := e.Start(base); err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	sess, err := e.OpenSession(ctx)
	if err != nil {
		if model.IsCapacity(err) {
			return f.Fail(ExitFailure, "too many open sessions, try again later", err)
		}
		return f.Fail(ExitFailure, "could not open session", err)
	}

	// Handlers run concurrently; serialize writes.
	var mu sync.Mutex
	err = e.Subscribe(ctx, sess.ID, func(_ context.Context, ev model.ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if f.Format == "json" {
			return f.Success(ev)
		}
		_, err := fmt.Fprintf(f.Writer, "%s  %-24s %s -> %s (%s, %s)\n",
			ev.At.UTC().Format(time.RFC3339), ev.Strain,
			orDash(ev.OldLineage), orDash(ev.NewLineage), ev.Reason, ev.Source)
		return err
	})
	if err != nil {
		return f.Fail(ExitFailure, "could not subscribe", err)
	}
	f.VerboseLog("watching as session %s", sess.ID)

	keepAlive := e.Config().Sessions.IdleTTL / 2
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = e.CloseSession(closeCtx, sess.ID)
			cancel()
			st := e.NotifierStats()
			f.VerboseLog("delivered %d, failed %d, timed out %d, dropped %d",
				st.Delivered, st.Failed, st.TimedOut, st.Dropped)
			return nil
		case <-ticker.C:
			if _, err := e.Touch(ctx, sess.ID); err != nil && ctx.Err() == nil {
				return f.Fail(ExitFailure, "session lost", err)
			}
		}
	}
}
