package lockmgr

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// ErrMalformedRecord is returned by ParseRecord for values that are not lock records
var ErrMalformedRecord = errors.New("malformed lock record")

const recordSeparator = "|"

// Record is the value stored under a lock key: the holder's signature plus
// acquisition and expiry time in unix ms.
type Record struct {
	Signature  string
	AcquiredAt int64
	ExpiresAt  int64
}

// Encode renders the record as "signature|acquiredAt|expiresAt"
func (r Record) Encode() []byte {
	return []byte(r.Signature + recordSeparator +
		strconv.FormatInt(r.AcquiredAt, 10) + recordSeparator +
		strconv.FormatInt(r.ExpiresAt, 10))
}

// Expired reports whether the lease ended at or before nowMs
func (r Record) Expired(nowMs int64) bool {
	return r.ExpiresAt <= nowMs
}

// Holder returns the process id encoded in the signature, or 0
func (r Record) Holder() int {
	pid, err := strconv.Atoi(strings.SplitN(r.Signature, "-", 2)[0])
	if err != nil {
		return 0
	}
	return pid
}

func (r Record) String() string {
	return fmt.Sprintf("%s (acquired %s, expires %s)", r.Signature,
		time.UnixMilli(r.AcquiredAt).UTC().Format(time.RFC3339Nano),
		time.UnixMilli(r.ExpiresAt).UTC().Format(time.RFC3339Nano))
}

// ParseRecord decodes a value written by Record.Encode
func ParseRecord(data []byte) (Record, error) {
	parts := strings.Split(string(data), recordSeparator)
	if len(parts) != 3 || parts[0] == "" {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, data)
	}
	acquired, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: acquired at: %v", ErrMalformedRecord, err)
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: expires at: %v", ErrMalformedRecord, err)
	}
	return Record{Signature: parts[0], AcquiredAt: acquired, ExpiresAt: expires}, nil
}

// --------------------------------------------------------------------------
// Signatures
// --------------------------------------------------------------------------

// Identity names the process and session a signature belongs to
type Identity struct {
	PID     int
	Session string
}

// NewIdentity returns the identity of the current process with a fresh
// session id
func NewIdentity() Identity {
	return Identity{PID: os.Getpid(), Session: uuid.NewString()}
}

// signature returns a value unique per acquisition attempt:
// <pid>-<session>-<xid>-<unix nanos>. The pid comes first so holders can be
// reported without a lookup.
func (id Identity) signature(now time.Time) string {
	return fmt.Sprintf("%d-%s-%s-%d", id.PID, id.Session, xid.New().String(), now.UnixNano())
}
