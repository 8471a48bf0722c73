package ttl

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	ttl time.Duration

	// TTLCommands represents the ttl command group
	TTLCommands = &cobra.Command{
		Use:   "ttl",
		Short: "Work with the expiring key space",
		Long: `Work with the expiring key space. Entries written here disappear once their
time to live has passed, natively on backends that support it and through
the reaper everywhere else.`,
	}

	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Insert or overwrite an expiring entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				if err := s.PutTTL(ctx, []byte(args[0]), []byte(args[1]), ttl); err != nil {
					return err
				}
				fmt.Printf("expires %s\n", expiry(ttl, time.Now()))
				return nil
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Print the value of an expiring entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				value, err := s.GetTTL(ctx, []byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(string(value))
				return nil
			})
		},
	}

	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Check whether an expiring entry exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				ok, err := s.HasTTL(ctx, []byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Delete an expiring entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				return s.RemoveTTL(ctx, []byte(args[0]))
			})
		},
	}

	reapCmd = &cobra.Command{
		Use:   "reap",
		Short: "Delete every expired entry now",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				n, err := s.ReapExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("reaped %s entries\n", humanize.Comma(int64(n)))
				return nil
			})
		},
	}
)

// expiry describes when an entry written with ttl at now expires
func expiry(ttl time.Duration, now time.Time) string {
	if ttl <= 0 {
		return "never"
	}
	return humanize.RelTime(now.Add(ttl), now, "ago", "from now")
}

func init() {
	TTLCommands.AddCommand(putCmd, getCmd, hasCmd, removeCmd, reapCmd)
	putCmd.Flags().DurationVar(&ttl, "ttl", time.Minute, util.WrapString("Time to live of the entry (0 = never expires)"))
}
