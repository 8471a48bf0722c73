package lock

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	lease   time.Duration
	maxWait time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Perform lock operations",
		Long: `Perform lock operations. General purpose locks are addressed by name, user
defined locks by the id returned from 'lock create'. Locks are leases: a lock
that is not released is free again once its lease ended.`,
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a general purpose lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				if err := s.AcquireGeneralLock(ctx, args[0], lease, maxWait); err != nil {
					return fmt.Errorf("failed to acquire lock: %w", err)
				}
				fmt.Println("acquired=true")
				return nil
			})
		},
	}

	releaseCmd = &cobra.Command{
		Use:   "release [name]",
		Short: "Release a general purpose lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				return s.ReleaseGeneralLock(ctx, args[0])
			})
		},
	}

	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a user defined lock or return the id of the existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				id, err := s.CreateOrGetLock(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}

	takeCmd = &cobra.Command{
		Use:   "take [id]",
		Short: "Acquire a user defined lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withLock(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
				if err := s.AcquireLock(ctx, id, lease, maxWait); err != nil {
					return fmt.Errorf("failed to acquire lock: %w", err)
				}
				fmt.Println("acquired=true")
				return nil
			})
		},
	}

	giveCmd = &cobra.Command{
		Use:   "give [id]",
		Short: "Release a user defined lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withLock(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
				return s.ReleaseLock(ctx, id)
			})
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a user defined lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withLock(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
				return s.RemoveLock(ctx, id)
			})
		},
	}

	pidCmd = &cobra.Command{
		Use:   "pid [name]",
		Short: "Print the process holding a user defined lock (0 if free)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				pid, err := s.GetPidForLock(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(pid)
				return nil
			})
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all user defined locks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				locks, err := s.ListLocks(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tHELD\tPID\tEXPIRES")
				now := time.Now()
				for _, l := range locks {
					expires := "-"
					if l.Held(now) {
						expires = humanize.Time(l.ExpiresAt)
					}
					fmt.Fprintf(w, "%d\t%s\t%v\t%d\t%s\n", l.ID, l.Name, l.Held(now), l.PID, expires)
				}
				return w.Flush()
			})
		},
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd, releaseCmd, createCmd, takeCmd, giveCmd, removeCmd, pidCmd, listCmd)

	for _, c := range []*cobra.Command{acquireCmd, takeCmd} {
		c.Flags().DurationVar(&lease, "lease", 30*time.Second, util.WrapString("Lease of the lock (0 = the configured lock lease)"))
		c.Flags().DurationVar(&maxWait, "wait", 0, util.WrapString("Maximum time to wait for the lock (0 = the configured lock wait)"))
	}
}

// withLock parses the lock id argument and runs fn on a session
func withLock(arg string, fn func(ctx context.Context, s *store.Session, id uint64) error) error {
	id, err := util.ParseID(arg)
	if err != nil {
		return err
	}
	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		return fn(ctx, s, id)
	})
}
