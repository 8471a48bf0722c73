package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/serializer"
	"github.com/ValentinKolb/dps/rpc/transport"
	"github.com/ValentinKolb/dps/rpc/transport/http"
	"github.com/ValentinKolb/dps/rpc/transport/tcp"
	"github.com/ValentinKolb/dps/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores everything needed to send requests to one shard
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// NewClientTransport returns the client transport called name
func NewClientTransport(name string) (transport.IRPCClientTransport, error) {
	switch name {
	case "tcp", "":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "http":
		return http.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// invoke sends req to the shard and returns the decoded response.
// Error responses are converted back into errors (see common.Message.ResponseError)
// and the response type must match the request type.
func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("serialize %s request: %w", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(ctx, a.shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("deserialize %s response: %w", req.MsgType, err)
	}

	if err := resp.ResponseError(); err != nil {
		return nil, err
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
