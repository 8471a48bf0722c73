package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/dps/lib/backend/engines/maple/internal"
	"github.com/ValentinKolb/dps/lib/backend/util"
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of all live entries to w.
//
// Format (little endian): magic, version (u8), write index (u64), entry count
// (u64), then per entry: namespace length (u16), namespace, key length (u32),
// key, deleteAt (u64), index (u64), value length (u32), value.
//
// Thread-safety: concurrent writes are allowed, the snapshot is fuzzy.
func (maple *MapleDB) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)

	now := maple.now()
	var entries []internal.Entry
	for _, shard := range maple.shards {
		shard.Data.Range(func(_ util.UintKey, e internal.Entry) bool {
			if !e.Expired(now) {
				entries = append(entries, e)
			}
			return true
		})
	}

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, maple.currIndex.Load()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(e.Namespace))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Namespace); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, e.DeleteAt); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, e.Index); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(e.Value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the database content with a snapshot written by Save.
//
// Thread-safety: must not run concurrently with other operations.
func (maple *MapleDB) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var writeIdx, count uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	for _, shard := range maple.shards {
		shard.Data.Clear()
	}

	for i := uint64(0); i < count; i++ {
		var nsLen uint16
		if err := binary.Read(br, binary.LittleEndian, &nsLen); err != nil {
			return err
		}
		ns := make([]byte, nsLen)
		if _, err := io.ReadFull(br, ns); err != nil {
			return err
		}

		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var deleteAt, index uint64
		if err := binary.Read(br, binary.LittleEndian, &deleteAt); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &index); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		intKey := maple.hashKey(string(ns), string(key))
		shard := internal.GetShard(intKey, maple.shards)
		shard.Data.Store(intKey, internal.Entry{
			Namespace: string(ns),
			Key:       string(key),
			Value:     value,
			DeleteAt:  deleteAt,
			Index:     index,
		})
		if deleteAt != 0 {
			shard.Notify(internal.Event{Type: internal.EventTSchedule, Key: intKey, DeleteAt: deleteAt})
		}
	}

	maple.SetWriteIdx(writeIdx)
	return nil
}
