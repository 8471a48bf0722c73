package raft

import (
	"errors"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// Config configures one replica of the raft backend
type Config struct {
	ShardID   uint64
	ReplicaID uint64
	// Members maps replica ids to raft addresses (host:port) of the initial
	// cluster. Must contain ReplicaID.
	Members map[uint64]string
	// Join starts the replica as a new member of a running cluster
	Join               bool
	DataDir            string
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	// Timeout bounds a single proposal or linearizable read
	Timeout time.Duration
}

// DefaultConfig returns a single replica configuration listening on addr
func DefaultConfig(dataDir, addr string) Config {
	return Config{
		ShardID:            1,
		ReplicaID:          1,
		Members:            map[uint64]string{1: addr},
		DataDir:            dataDir,
		RTTMillisecond:     100,
		SnapshotEntries:    10_000,
		CompactionOverhead: 5_000,
		Timeout:            5 * time.Second,
	}
}

// Validate checks the configuration for obvious mistakes
func (c Config) Validate() error {
	if c.ShardID == 0 || c.ReplicaID == 0 {
		return errors.New("raft: shard and replica id must be greater than 0")
	}
	if _, ok := c.Members[c.ReplicaID]; !ok && !c.Join {
		return fmt.Errorf("raft: replica %d is not a member of the initial cluster", c.ReplicaID)
	}
	if c.DataDir == "" {
		return errors.New("raft: data dir required")
	}
	if c.Timeout <= 0 {
		return errors.New("raft: timeout must be positive")
	}
	return nil
}

// ToDragonboatConfig converts the Config to a Dragonboat shard Config
func (c Config) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c Config) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.Members[c.ReplicaID],
	}
}
