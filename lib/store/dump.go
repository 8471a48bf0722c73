package store

import (
	"context"
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Dump format
// --------------------------------------------------------------------------
//
// A dump is the header followed by one frame per entry in key order:
//
//	"DPSD" | version (1 byte) | { keyLen uint32 | key | valueLen uint32 | value }*
//
// Lengths are big endian. Store name and type tags are not part of a dump,
// it is loaded into an existing store.

const (
	dumpMagic   = "DPSD"
	dumpVersion = 1
	dumpHeader  = len(dumpMagic) + 1
)

// SerializeStore returns every data entry of store id as a dump. The entries
// are read with an iterator, keys written concurrently may or may not be part
// of the result.
func (s *Session) SerializeStore(ctx context.Context, id uint64) ([]byte, error) {
	const op = "serializeStore"
	countOp(op)

	it, err := s.NewIterator(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.DeleteIterator(id, it)

	buf := make([]byte, 0, 4096)
	buf = append(buf, dumpMagic...)
	buf = append(buf, dumpVersion)

	entries := 0
	for {
		key, value, ok, err := s.GetNext(ctx, id, it)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		buf = appendFrame(buf, key)
		buf = appendFrame(buf, value)
		entries++
	}

	log.Debugf("serialized %d entries of store %d into %d bytes", entries, id, len(buf))
	return buf, nil
}

// DeserializeStore writes every entry of a dump into the existing store id.
// Existing keys are overwritten, other entries stay. The whole dump is
// validated before the first write, a malformed dump changes nothing.
func (s *Session) DeserializeStore(ctx context.Context, id uint64, data []byte) error {
	const op = "deserializeStore"
	countOp(op)

	entries, err := parseDump(data)
	if err != nil {
		return newError(KindCorruptStore, op, id, err, "malformed dump")
	}
	if err := s.requireStore(ctx, op, id); err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return newError(KindTimeout, op, id, err, "loading dump")
		}
		if err := s.put(ctx, op, id, e.key, e.value); err != nil {
			return err
		}
	}

	log.Debugf("deserialized %d entries into store %d", len(entries), id)
	return nil
}

// --------------------------------------------------------------------------
// Encoding Helper
// --------------------------------------------------------------------------

type dumpEntry struct {
	key, value []byte
}

func appendFrame(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func parseDump(data []byte) ([]dumpEntry, error) {
	if len(data) < dumpHeader || string(data[:len(dumpMagic)]) != dumpMagic {
		return nil, fmt.Errorf("missing %s header", dumpMagic)
	}
	if v := data[len(dumpMagic)]; v != dumpVersion {
		return nil, fmt.Errorf("unsupported dump version %d", v)
	}

	var entries []dumpEntry
	rest := data[dumpHeader:]
	for len(rest) > 0 {
		key, r, err := readFrame(rest)
		if err != nil {
			return nil, fmt.Errorf("entry %d key: %w", len(entries), err)
		}
		value, r, err := readFrame(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d value: %w", len(entries), err)
		}
		entries = append(entries, dumpEntry{key: key, value: value})
		rest = r
	}
	return entries, nil
}

func readFrame(b []byte) (frame, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated frame, want %d bytes, have %d", n, len(b))
	}
	return b[:n:n], b[n:], nil
}
