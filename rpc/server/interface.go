package server

import (
	"context"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle executes req against b and returns the response.
	// Errors are never returned directly, they are carried in the response.
	Handle(ctx context.Context, req *common.Message, b backend.Backend) (resp *common.Message)
}
