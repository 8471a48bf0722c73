package serve

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/common"
	rpccommon "github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ServeCmd represents the serve command
	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured backend to remote sessions",
		Long: `Serve the configured backend over rpc. Sessions in other processes reach it
with --backend=remote. With --backend=raft this process is a raft replica and
every replica of the cluster can be served this way.

The configuration can be set via command line flags or environment variables.
The format of the environment variables is DPS_<flag> (e.g. DPS_LISTEN=:5000).`,
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	f := ServeCmd.Flags()
	f.String("listen", "0.0.0.0:5000", util.WrapString("The address on which the rpc server listens (host:port, or a socket path for unix)"))
	f.String("listen-transport", "tcp", util.WrapString(fmt.Sprintf("Transport of the rpc server (%s)", strings.Join(rpccommon.Transports, ", "))))
	f.String("listen-serializer", "binary", util.WrapString(fmt.Sprintf("Serializer of the rpc server (%s)", strings.Join(rpccommon.Serializers, ", "))))
	f.Uint64("shard", 1, util.WrapString("Shard id the backend is served under"))
	f.Int("workers-per-conn", 64, util.WrapString("Concurrent requests per connection (tcp and unix)"))
	f.Int("buffer-size", 512, util.WrapString("Read buffer size in KB (tcp and unix)"))
	f.Int("tcp-keepalive", 30, util.WrapString("TCP keep-alive interval in seconds (0 = disabled)"))
}

// run opens the backend and serves it until interrupted
func run(_ *cobra.Command, _ []string) error {
	if viper.GetString("backend") == common.KindRemote {
		return fmt.Errorf("serve needs a local backend, not %q", common.KindRemote)
	}

	config := rpccommon.DefaultServerConfig(viper.GetString("listen"))
	config.Transport = viper.GetString("listen-transport")
	config.Serializer = viper.GetString("listen-serializer")
	config.TimeoutSecond = viper.GetInt64("timeout")
	config.WorkersPerConn = viper.GetInt("workers-per-conn")
	config.BufferSize = viper.GetInt("buffer-size") * 1024
	config.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	config.LogLevel = viper.GetString("log-level")

	srv, err := server.NewFromConfig(config)
	if err != nil {
		return err
	}

	ctx, cancel := util.Context()
	defer cancel()

	b, backendCfg, err := util.OpenBackend(ctx)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer b.Close()

	server.Logger.Infof("%s", backendCfg.String())
	srv.Register(viper.GetUint64("shard"), b)

	return srv.Serve(ctx)
}
