package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dps/lib/backend"
)

// ErrCode classifies an error carried in a Message. Only the message text
// crosses the wire, the code lets the client restore the sentinel.
type ErrCode uint8

const (
	CodeNone ErrCode = iota
	CodeInternal
	CodeUnsupported
	CodeClosed
	CodeInvalidNamespace
	CodeDeadline
	CodeCanceled
	CodeUnknownShard
	CodeBadRequest
)

// ErrUnknownShard is returned for requests addressed to a shard the server
// does not host
var ErrUnknownShard = errors.New("shard not found")

// CodeOf maps err to its wire code
func CodeOf(err error) ErrCode {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, backend.ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, backend.ErrClosed):
		return CodeClosed
	case errors.Is(err, backend.ErrInvalidNamespace):
		return CodeInvalidNamespace
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadline
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrUnknownShard):
		return CodeUnknownShard
	default:
		return CodeInternal
	}
}

// sentinel returns the error a code stands for, nil for codes without one
func (c ErrCode) sentinel() error {
	switch c {
	case CodeUnsupported:
		return backend.ErrUnsupported
	case CodeClosed:
		return backend.ErrClosed
	case CodeInvalidNamespace:
		return backend.ErrInvalidNamespace
	case CodeDeadline:
		return context.DeadlineExceeded
	case CodeCanceled:
		return context.Canceled
	case CodeUnknownShard:
		return ErrUnknownShard
	default:
		return nil
	}
}

// ResponseError converts the error fields of a response back into an error.
// errors.Is works for every error that has a code.
func (m *Message) ResponseError() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	if s := m.Code.sentinel(); s != nil {
		return fmt.Errorf("remote: %s: %w", m.Err, s)
	}
	return fmt.Errorf("remote: %s", m.Err)
}

// --------------------------------------------------------------------------
// Info payload
// --------------------------------------------------------------------------

// RemoteInfo is the payload of an Info response
type RemoteInfo struct {
	Capabilities backend.Capabilities `json:"capabilities"`
	Info         backend.Info         `json:"info"`
	Sequencer    bool                 `json:"sequencer,omitempty"` // The backend implements backend.Sequencer
}

// EncodeRemoteInfo describes b for an Info response
func EncodeRemoteInfo(b backend.Backend) ([]byte, error) {
	_, seq := b.(backend.Sequencer)
	return json.Marshal(RemoteInfo{
		Capabilities: b.Capabilities(),
		Info:         b.Info(),
		Sequencer:    seq,
	})
}

// DecodeRemoteInfo is the inverse of EncodeRemoteInfo
func DecodeRemoteInfo(data []byte) (RemoteInfo, error) {
	var info RemoteInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return RemoteInfo{}, fmt.Errorf("decode remote info: %w", err)
	}
	return info, nil
}
