package info

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

var (
	// InfoCommands represents the info command group
	InfoCommands = &cobra.Command{
		Use:   "info",
		Short: "Describe the backend, this machine and the session metrics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				info := s.BackendInfo()
				caps := s.Capabilities()
				fmt.Printf("product:     %s\n", info.Product)
				if info.Version != "" {
					fmt.Printf("version:     %s\n", info.Version)
				}
				fmt.Printf("location:    %s\n", info.Location)
				fmt.Printf("features:    %s\n", caps.Features)
				fmt.Printf("consistency: %s\n", caps.Consistency)
				if caps.BoundedIDSpace > 0 {
					fmt.Printf("id space:    %d\n", caps.BoundedIDSpace)
				}
				fmt.Printf("connected:   %v\n", s.IsConnected(ctx))
				return nil
			})
		},
	}

	productCmd = &cobra.Command{
		Use:   "product",
		Short: "Print the product name of the backend",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(_ context.Context, s *store.Session) error {
				fmt.Println(s.GetNoSqlDbProductName())
				return nil
			})
		},
	}

	machineCmd = &cobra.Command{
		Use:   "machine",
		Short: "Print host name, operating system and cpu architecture",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				details, err := s.GetDetailsAboutThisMachine(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("name: %s\nos:   %s\narch: %s\n", details.Name, details.OSVersion, details.CPUArch)
				return nil
			})
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective backend and session configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			backendCfg, err := util.GetBackendConfig()
			if err != nil {
				return err
			}
			storeCfg, err := util.GetStoreConfig()
			if err != nil {
				return err
			}
			fmt.Print(backendCfg.String())
			fmt.Print(storeCfg.String())
			return nil
		},
	}

	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Check connectivity and print the metrics of this process",
		Long: `Check connectivity and print the metrics of this process in the
Prometheus text format. Counters only cover what this invocation did.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return util.WithSession(func(ctx context.Context, s *store.Session) error {
				s.IsConnected(ctx)
				if _, err := s.ListStores(ctx); err != nil {
					return err
				}
				metrics.WritePrometheus(os.Stdout, true)
				return nil
			})
		},
	}
)

func init() {
	InfoCommands.AddCommand(productCmd, machineCmd, configCmd, metricsCmd)
}
