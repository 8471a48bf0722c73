package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dps/cmd/info"
	"github.com/ValentinKolb/dps/cmd/lock"
	"github.com/ValentinKolb/dps/cmd/perf"
	"github.com/ValentinKolb/dps/cmd/serve"
	"github.com/ValentinKolb/dps/cmd/store"
	"github.com/ValentinKolb/dps/cmd/ttl"
	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dps",
		Short: "key-value stores and locks on any backend",
		Long: fmt.Sprintf(`dps (v%s)

Named key-value stores, expiring entries and lease based locks on top of
interchangeable storage backends: in-memory, badger, bolt, S3, a raft
replicated cluster or a backend served by another dps process.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dps",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dps v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(ttl.TTLCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(info.InfoCommands)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	util.SetupBackendFlags(RootCmd)
}

// setup binds the flags of the invoked command and configures the loggers
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
