package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/rpc/common"
)

// NewBackendServerAdapter returns the adapter that maps every message type to
// the matching backend.Backend call
func NewBackendServerAdapter() IRPCServerAdapter {
	return &backendServerAdapter{}
}

type backendServerAdapter struct{}

func (adapter *backendServerAdapter) Handle(ctx context.Context, req *common.Message, b backend.Backend) *common.Message {
	if b == nil {
		return common.NewErrorResponse(common.CodeInternal, "handler: backend is nil")
	}

	ttl := time.Duration(req.TTL) * time.Millisecond

	switch req.MsgType {
	case common.MsgTPut:
		err := b.Put(ctx, req.Namespace, req.Key, req.Value, ttl)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTPutIfAbsent:
		created, err := b.PutIfAbsent(ctx, req.Namespace, req.Key, req.Value, ttl)
		resp := common.NewResponse(req.MsgType, err)
		resp.Ok = created
		return resp

	case common.MsgTDelete:
		err := b.Delete(ctx, req.Namespace, req.Key)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTDrop:
		err := b.DropNamespace(ctx, req.Namespace)
		return common.NewResponse(req.MsgType, err)

	case common.MsgTGet:
		value, found, err := b.Get(ctx, req.Namespace, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Value, resp.Ok = value, found
		return resp

	case common.MsgTScan:
		keys, err := b.ScanKeys(ctx, req.Namespace)
		resp := common.NewResponse(req.MsgType, err)
		resp.Keys = keys
		return resp

	case common.MsgTCount:
		n, err := b.CountEntries(ctx, req.Namespace)
		resp := common.NewResponse(req.MsgType, err)
		resp.Number = uint64(n)
		return resp

	case common.MsgTNextID:
		seq, ok := b.(backend.Sequencer)
		if !ok {
			return common.NewResponse(req.MsgType, fmt.Errorf("next id: %w", backend.ErrUnsupported))
		}
		id, err := seq.NextID(ctx, req.Namespace)
		resp := common.NewResponse(req.MsgType, err)
		resp.Number = id
		return resp

	case common.MsgTInfo:
		meta, err := common.EncodeRemoteInfo(b)
		resp := common.NewResponse(req.MsgType, err)
		resp.Meta = meta
		return resp

	default:
		return common.NewErrorResponse(common.CodeBadRequest,
			fmt.Sprintf("unsupported message type: %s", req.MsgType))
	}
}
