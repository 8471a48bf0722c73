package common

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/badger"
	"github.com/ValentinKolb/dps/lib/backend/engines/bolt"
	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	"github.com/ValentinKolb/dps/lib/backend/engines/raft"
	"github.com/ValentinKolb/dps/lib/backend/engines/s3"
	"github.com/ValentinKolb/dps/rpc/client"
	rpccommon "github.com/ValentinKolb/dps/rpc/common"
)

// KindRemote selects a backend served by another process over rpc
const KindRemote = "remote"

// Kinds lists every backend OpenBackend can create
var Kinds = []string{
	string(backend.ImplMaple),
	string(backend.ImplBadger),
	string(backend.ImplBolt),
	string(backend.ImplS3),
	string(backend.ImplRaft),
	KindRemote,
}

// --------------------------------------------------------------------------
// Backend configuration struct
// --------------------------------------------------------------------------

// MapleConfig configures the in-memory backend
type MapleConfig struct {
	Shards  int    // 0 = runtime.NumCPU
	IDSpace uint64 // Bounded store id space (0 = unbounded)
}

// BoltConfig configures the bbolt backend
type BoltConfig struct {
	Path string
}

// BackendConfig selects and configures the backend a session runs on. Only
// the section matching Kind is used.
type BackendConfig struct {
	Kind   string
	Maple  MapleConfig
	Badger badger.Options
	Bolt   BoltConfig
	S3     s3.Config
	Raft   raft.Config
	Remote rpccommon.ClientConfig
}

// Validate checks the kind and the fields its backend requires
func (c BackendConfig) Validate() error {
	switch c.Kind {
	case string(backend.ImplMaple):
		return nil
	case string(backend.ImplBadger):
		if !c.Badger.InMemory && c.Badger.Dir == "" {
			return fmt.Errorf("badger: dir required unless in-memory")
		}
	case string(backend.ImplBolt):
		if c.Bolt.Path == "" {
			return fmt.Errorf("bolt: path required")
		}
	case string(backend.ImplS3):
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3: endpoint and bucket required")
		}
	case string(backend.ImplRaft):
		return c.Raft.Validate()
	case KindRemote:
		return c.Remote.Validate()
	default:
		return fmt.Errorf("invalid backend: %q. must be one of %s", c.Kind, strings.Join(Kinds, ", "))
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c BackendConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Backend")
	addField("Kind", c.Kind)

	switch c.Kind {
	case string(backend.ImplMaple):
		addField("Shards", strconv.Itoa(c.Maple.Shards))
		if c.Maple.IDSpace > 0 {
			addField("ID Space", strconv.FormatUint(c.Maple.IDSpace, 10))
		} else {
			addField("ID Space", "unbounded")
		}
	case string(backend.ImplBadger):
		if c.Badger.InMemory {
			addField("Location", "memory")
		} else {
			addField("Location", c.Badger.Dir)
		}
		addField("Sync Writes", strconv.FormatBool(c.Badger.SyncWrites))
	case string(backend.ImplBolt):
		addField("Path", c.Bolt.Path)
	case string(backend.ImplS3):
		addField("Endpoint", c.S3.Endpoint)
		addField("Region", c.S3.Region)
		addField("Bucket", c.S3.Bucket)
		addField("Prefix", c.S3.Prefix)
		addField("TLS", strconv.FormatBool(!c.S3.Insecure))
		addField("Conditional Writes", strconv.FormatBool(c.S3.ConditionalWrites))
	case string(backend.ImplRaft):
		addField("Shard", strconv.FormatUint(c.Raft.ShardID, 10))
		addField("Replica", strconv.FormatUint(c.Raft.ReplicaID, 10))
		addField("Data Directory", c.Raft.DataDir)
		addField("Round Trip Time", fmt.Sprintf("%d ms", c.Raft.RTTMillisecond))
		addField("Timeout", c.Raft.Timeout.String())

		// Sort keys for consistent output
		ids := make([]uint64, 0, len(c.Raft.Members))
		for id := range c.Raft.Members {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			addField(fmt.Sprintf("Member %d", id), c.Raft.Members[id])
		}
	case KindRemote:
		sb.WriteString(c.Remote.String())
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Backend factory
// --------------------------------------------------------------------------

// OpenBackend creates the backend described by cfg. The caller owns the
// result and must close it (a store.Session does so on Close).
func OpenBackend(ctx context.Context, cfg BackendConfig) (backend.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case string(backend.ImplMaple):
		opts := maple.DefaultOptions()
		if cfg.Maple.Shards > 0 {
			opts.NumShards = cfg.Maple.Shards
		}
		opts.IDSpace = cfg.Maple.IDSpace
		return maple.NewMapleDB(opts), nil
	case string(backend.ImplBadger):
		return opened(badger.Open(cfg.Badger))
	case string(backend.ImplBolt):
		return opened(bolt.Open(cfg.Bolt.Path))
	case string(backend.ImplS3):
		return opened(s3.Open(ctx, cfg.S3))
	case string(backend.ImplRaft):
		return opened(raft.Start(ctx, cfg.Raft))
	default:
		return opened(client.NewRPCBackend(ctx, cfg.Remote))
	}
}

// opened keeps a failed constructor's typed nil out of the interface
func opened[B backend.Backend](b B, err error) (backend.Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
