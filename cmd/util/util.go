package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	butil "github.com/ValentinKolb/dps/lib/backend/util"
	"github.com/ValentinKolb/dps/lib/backend/engines/badger"
	"github.com/ValentinKolb/dps/lib/backend/engines/raft"
	"github.com/ValentinKolb/dps/lib/backend/engines/s3"
	"github.com/ValentinKolb/dps/lib/common"
	"github.com/ValentinKolb/dps/lib/store"
	rpccommon "github.com/ValentinKolb/dps/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration sources
// --------------------------------------------------------------------------

// InitConfig loads .env files and maps DPS_<FLAG> environment variables onto
// the flags (e.g. DPS_BOLT_PATH for --bolt-path)
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dps")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupBackendFlags adds the flags selecting and configuring the backend
func SetupBackendFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	f.String("backend", "bolt", WrapString(fmt.Sprintf("Backend to run on (%s)", strings.Join(common.Kinds, ", "))))
	f.String("log-level", "warn", WrapString("Level at which logs are written to stderr (debug, info, warn, error, none)"))
	f.Int("timeout", 5, WrapString("Timeout in seconds of a single raft proposal or remote request"))

	// session
	f.Duration("lock-lease", 5*time.Second, WrapString("Lease of store and general purpose locks"))
	f.Duration("lock-wait", 3*time.Second, WrapString("Maximum time to wait for a lock"))
	f.String("clear-strategy", "auto", WrapString("How clear empties a store (auto, scan-delete, drop-recreate)"))
	f.Int("workers", 0, WrapString("Size of the worker pool (0 = number of CPUs)"))
	f.Int("max-value-size", 0, WrapString("Values larger than this many bytes are rejected (0 = unlimited)"))

	// maple
	f.Int("maple-shards", 0, WrapString("(maple) Number of shards (0 = number of CPUs)"))
	f.Uint64("maple-id-space", 0, WrapString("(maple) Bounded store id space (0 = unbounded)"))

	// badger
	f.String("badger-dir", "dps-badger", WrapString("(badger) Data directory"))
	f.Bool("badger-in-memory", false, WrapString("(badger) Keep everything in memory"))
	f.Bool("badger-sync-writes", false, WrapString("(badger) fsync every write"))

	// bolt
	f.String("bolt-path", "dps.db", WrapString("(bolt) Path of the database file"))

	// s3
	f.String("s3-endpoint", "", WrapString("(s3) Endpoint host:port"))
	f.String("s3-region", "", WrapString("(s3) Region"))
	f.String("s3-bucket", "", WrapString("(s3) Bucket"))
	f.String("s3-prefix", "dps", WrapString("(s3) Prefix of every object name"))
	f.String("s3-access-key", "", WrapString("(s3) Access key"))
	f.String("s3-secret-key", "", WrapString("(s3) Secret key"))
	f.Bool("s3-insecure", false, WrapString("(s3) Use plain http"))
	f.Bool("s3-create-bucket", false, WrapString("(s3) Create the bucket if it does not exist"))
	f.Bool("s3-conditional-writes", false, WrapString("(s3) Use If-None-Match for atomic create, only for services that support it"))

	// raft
	f.Uint64("raft-shard", 1, WrapString("(raft) Raft shard id"))
	f.String("raft-replica-id", "1", WrapString("(raft) Id of this replica, a number or a name (e.g. 'node-1')"))
	f.String("raft-members", "1=localhost:63001", WrapString("(raft) Comma-separated list of initial members in the format 'node-1=localhost:63001,node-2=localhost:63002'"))
	f.Bool("raft-join", false, WrapString("(raft) Join a running cluster as a new member"))
	f.String("raft-data-dir", "dps-raft", WrapString("(raft) Directory for the raft log and snapshots"))
	f.Uint64("raft-rtt-millisecond", 100, WrapString("(raft) Average round trip time between replicas, election and heartbeat timing are derived from it"))
	f.Uint64("raft-snapshot-entries", 10_000, WrapString("(raft) Applied entries between automatic snapshots (0 = disabled)"))
	f.Uint64("raft-compaction-overhead", 5_000, WrapString("(raft) Entries kept in the log after a snapshot"))

	// remote
	f.String("remote-endpoints", "localhost:5000", WrapString("(remote) Comma-separated list of rpc server addresses"))
	f.String("remote-transport", "tcp", WrapString(fmt.Sprintf("(remote) Transport (%s)", strings.Join(rpccommon.Transports, ", "))))
	f.String("remote-serializer", "binary", WrapString(fmt.Sprintf("(remote) Serializer (%s)", strings.Join(rpccommon.Serializers, ", "))))
	f.Uint64("remote-shard", 1, WrapString("(remote) Shard id of the served backend"))
	f.Int("remote-retries", 3, WrapString("(remote) How many times a request is tried"))
	f.Int("remote-conn-per-endpoint", 1, WrapString("(remote) Simultaneous connections per endpoint"))
}

// --------------------------------------------------------------------------
// Configuration readers
// --------------------------------------------------------------------------

// GetBackendConfig reads the backend configuration from viper
func GetBackendConfig() (common.BackendConfig, error) {
	timeout := viper.GetInt("timeout")

	cfg := common.BackendConfig{
		Kind: viper.GetString("backend"),
		Maple: common.MapleConfig{
			Shards:  viper.GetInt("maple-shards"),
			IDSpace: viper.GetUint64("maple-id-space"),
		},
		Badger: badger.Options{
			Dir:        viper.GetString("badger-dir"),
			InMemory:   viper.GetBool("badger-in-memory"),
			SyncWrites: viper.GetBool("badger-sync-writes"),
		},
		Bolt: common.BoltConfig{Path: viper.GetString("bolt-path")},
		S3: s3.Config{
			Endpoint:          viper.GetString("s3-endpoint"),
			Region:            viper.GetString("s3-region"),
			Bucket:            viper.GetString("s3-bucket"),
			Prefix:            viper.GetString("s3-prefix"),
			AccessKey:         viper.GetString("s3-access-key"),
			SecretKey:         viper.GetString("s3-secret-key"),
			Insecure:          viper.GetBool("s3-insecure"),
			CreateBucket:      viper.GetBool("s3-create-bucket"),
			ConditionalWrites: viper.GetBool("s3-conditional-writes"),
		},
		Raft: raft.Config{
			ShardID:            viper.GetUint64("raft-shard"),
			ReplicaID:          ParseReplicaID(viper.GetString("raft-replica-id")),
			Join:               viper.GetBool("raft-join"),
			DataDir:            viper.GetString("raft-data-dir"),
			RTTMillisecond:     viper.GetUint64("raft-rtt-millisecond"),
			SnapshotEntries:    viper.GetUint64("raft-snapshot-entries"),
			CompactionOverhead: viper.GetUint64("raft-compaction-overhead"),
			Timeout:            time.Duration(timeout) * time.Second,
		},
		Remote: rpccommon.ClientConfig{
			Transport:              viper.GetString("remote-transport"),
			Endpoints:              splitList(viper.GetString("remote-endpoints")),
			Serializer:             viper.GetString("remote-serializer"),
			ShardID:                viper.GetUint64("remote-shard"),
			TimeoutSecond:          timeout,
			RetryCount:             viper.GetInt("remote-retries"),
			ConnectionsPerEndpoint: viper.GetInt("remote-conn-per-endpoint"),
			TCPNoDelay:             true,
		},
	}

	members, err := ParseMembers(viper.GetString("raft-members"))
	if err != nil {
		return cfg, err
	}
	cfg.Raft.Members = members

	return cfg, cfg.Validate()
}

// GetStoreConfig reads the session configuration from viper
func GetStoreConfig() (store.Config, error) {
	strategy, err := store.ParseClearStrategy(viper.GetString("clear-strategy"))
	if err != nil {
		return store.Config{}, err
	}

	cfg := store.DefaultConfig()
	cfg.LockLease = viper.GetDuration("lock-lease")
	cfg.LockWait = viper.GetDuration("lock-wait")
	cfg.ClearStrategy = strategy
	cfg.MaxValueSize = viper.GetInt("max-value-size")
	if workers := viper.GetInt("workers"); workers > 0 {
		cfg.Workers = workers
	}
	return cfg, nil
}

// ParseReplicaID accepts a numeric id or a name, names are hashed to a stable id
func ParseReplicaID(s string) uint64 {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return id
	}
	return butil.StableID(s)
}

// ParseMembers parses 'id=address' pairs separated by commas
func ParseMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range splitList(s) {
		parts := strings.SplitN(member, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[ParseReplicaID(parts[0])] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Bootstrap
// --------------------------------------------------------------------------

// Context returns a context that is cancelled on SIGINT and SIGTERM
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// OpenBackend opens the configured backend
func OpenBackend(ctx context.Context) (backend.Backend, common.BackendConfig, error) {
	cfg, err := GetBackendConfig()
	if err != nil {
		return nil, cfg, err
	}
	b, err := common.OpenBackend(ctx, cfg)
	return b, cfg, err
}

// OpenSession opens the configured backend and starts a session on it. The
// session owns the backend, closing it closes both.
func OpenSession(ctx context.Context) (*store.Session, error) {
	b, _, err := OpenBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	cfg, err := GetStoreConfig()
	if err != nil {
		b.Close()
		return nil, err
	}
	s, err := store.NewSession(ctx, b, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}

// WithSession runs fn on a fresh session and closes it afterwards
func WithSession(fn func(ctx context.Context, s *store.Session) error) error {
	ctx, cancel := Context()
	defer cancel()

	s, err := OpenSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

// ParseID parses a store or lock id argument
func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
