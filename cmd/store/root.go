package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:   "store",
		Short: "Create, inspect and modify stores",
	}

	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a store, or return the existing one with --or-get",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}

	findCmd = &cobra.Command{
		Use:   "find [name]",
		Short: "Print the id of a store",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all stores",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	infoCmd = &cobra.Command{
		Use:   "info [id]",
		Short: "Print name, type tags and size of a store",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	dropCmd = &cobra.Command{
		Use:   "drop [id]",
		Short: "Remove a store with all its contents",
		Args:  cobra.ExactArgs(1),
		RunE:  runDrop,
	}

	putCmd = &cobra.Command{
		Use:   "put [id] [key] [value]",
		Short: "Insert or overwrite an entry",
		Args:  cobra.ExactArgs(3),
		RunE:  runPut,
	}

	getCmd = &cobra.Command{
		Use:   "get [id] [key]",
		Short: "Print the value of an entry",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	hasCmd = &cobra.Command{
		Use:   "has [id] [key]",
		Short: "Check whether an entry exists",
		Args:  cobra.ExactArgs(2),
		RunE:  runHas,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [id] [key]",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(2),
		RunE:  runDelete,
	}

	clearCmd = &cobra.Command{
		Use:   "clear [id]",
		Short: "Delete every entry of a store but keep the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runClear,
	}

	sizeCmd = &cobra.Command{
		Use:   "size [id]",
		Short: "Print the number of entries of a store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSize,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [id]",
		Short: "Write every entry of a store as a binary dump",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}

	loadCmd = &cobra.Command{
		Use:   "load [id]",
		Short: "Write the entries of a dump into an existing store",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoad,
	}

	iterateCmd = &cobra.Command{
		Use:   "iterate [id]",
		Short: "Print every entry of a store in key order",
		Args:  cobra.ExactArgs(1),
		RunE:  runIterate,
	}
)

var (
	keyTag, valueTag string
	orGet            bool
	safe             bool
	dumpFile         string
)

func init() {
	StoreCommands.AddCommand(createCmd, findCmd, listCmd, infoCmd, dropCmd,
		putCmd, getCmd, hasCmd, deleteCmd, clearCmd, sizeCmd, iterateCmd, dumpCmd, loadCmd)

	createCmd.Flags().StringVar(&keyTag, "key-type", "string", util.WrapString("Type tag of the keys"))
	createCmd.Flags().StringVar(&valueTag, "value-type", "string", util.WrapString("Type tag of the values"))
	createCmd.Flags().BoolVar(&orGet, "or-get", false, util.WrapString("Return the id of an existing store instead of failing"))

	for _, c := range []*cobra.Command{putCmd, getCmd, hasCmd, deleteCmd} {
		c.Flags().BoolVar(&safe, "safe", false, util.WrapString("Hold the store lock during the operation"))
	}
	dumpCmd.Flags().StringVarP(&dumpFile, "out", "o", "-", util.WrapString("File to write the dump to ('-' = stdout)"))
	loadCmd.Flags().StringVarP(&dumpFile, "in", "i", "-", util.WrapString("File to read the dump from ('-' = stdin)"))
}

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

func runCreate(_ *cobra.Command, args []string) error {
	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		create := s.CreateStore
		if orGet {
			create = s.CreateOrGetStore
		}
		id, err := create(ctx, args[0], keyTag, valueTag)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
}

func runFind(_ *cobra.Command, args []string) error {
	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		id, err := s.FindStore(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
}

func runList(_ *cobra.Command, _ []string) error {
	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		stores, err := s.ListStores(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKEY TYPE\tVALUE TYPE\tENTRIES")
		for _, info := range stores {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", info.ID, info.Name, info.KeyTag, info.ValueTag, humanize.Comma(int64(info.ItemCount)))
		}
		return w.Flush()
	})
}

func runInfo(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		info, err := s.ReadStoreInformation(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("id:         %d\n", info.ID)
		fmt.Printf("name:       %s\n", info.Name)
		fmt.Printf("key type:   %s\n", info.KeyTag)
		fmt.Printf("value type: %s\n", info.ValueTag)
		fmt.Printf("entries:    %s\n", humanize.Comma(int64(info.ItemCount)))
		return nil
	})
}

func runDrop(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		return s.RemoveStore(ctx, id)
	})
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

func runPut(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		put := s.Put
		if safe {
			put = s.PutSafe
		}
		return put(ctx, id, []byte(args[1]), []byte(args[2]))
	})
}

func runGet(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		get := s.Get
		if safe {
			get = s.GetSafe
		}
		value, err := get(ctx, id, []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil
	})
}

func runHas(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		has := s.Has
		if safe {
			has = s.HasSafe
		}
		ok, err := has(ctx, id, []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	})
}

func runDelete(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		remove := s.Remove
		if safe {
			remove = s.RemoveSafe
		}
		return remove(ctx, id, []byte(args[1]))
	})
}

func runClear(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		return s.Clear(ctx, id)
	})
}

func runSize(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		n, err := s.Size(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	})
}

func runIterate(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		it, err := s.NewIterator(ctx, id)
		if err != nil {
			return err
		}
		defer s.DeleteIterator(id, it)

		var total uint64
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for {
			key, value, ok, err := s.GetNext(ctx, id, it)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			total += uint64(len(value))
			fmt.Fprintf(w, "%s\t%s\n", key, value)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s of values\n", humanize.Bytes(total))
		return nil
	})
}

// --------------------------------------------------------------------------
// Dump
// --------------------------------------------------------------------------

func runDump(_ *cobra.Command, args []string) error {
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		data, err := s.SerializeStore(ctx, id)
		if err != nil {
			return err
		}
		if dumpFile == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(dumpFile, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s to %s\n", humanize.Bytes(uint64(len(data))), dumpFile)
		return nil
	})
}

func runLoad(_ *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if dumpFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(dumpFile)
	}
	if err != nil {
		return err
	}
	return withStore(args[0], func(ctx context.Context, s *store.Session, id uint64) error {
		if err := s.DeserializeStore(ctx, id, data); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "loaded %s\n", humanize.Bytes(uint64(len(data))))
		return nil
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// withStore parses the store id argument and runs fn on a session
func withStore(arg string, fn func(ctx context.Context, s *store.Session, id uint64) error) error {
	id, err := util.ParseID(arg)
	if err != nil {
		return err
	}
	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		return fn(ctx, s, id)
	})
}
