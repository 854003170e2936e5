// Package ledger defines the narrow surface this service consumes from the
// Fabric client. Components depend on these interfaces, never on the SDK.
package ledger

import (
	"context"
	"errors"
	"fmt"

	cb "github.com/hyperledger/fabric-protos-go/common"
)

// CodeAlreadyExecuted is the chaincode status the book returns when a move
// or rollback replays an instruction that has already been applied.
const CodeAlreadyExecuted int32 = 202

// ChaincodeError is an explicit rejection from chaincode, carrying the
// numeric status the contract responded with.
type ChaincodeError struct {
	Code    int32
	Message string
}

func (e *ChaincodeError) Error() string {
	return fmt.Sprintf("chaincode rejected with status %d: %s", e.Code, e.Message)
}

// IsAlreadyExecuted reports whether err is the book's duplicate-apply
// rejection. The orchestrator treats it as success: at-least-once delivery
// of an event must not double-apply a balance movement.
func IsAlreadyExecuted(err error) bool {
	var cerr *ChaincodeError
	return errors.As(err, &cerr) && cerr.Code == CodeAlreadyExecuted
}

// Invoker submits a chaincode write for endorsement by the given peers and
// returns the transaction id once it is committed.
type Invoker interface {
	Invoke(ctx context.Context, channel, chaincode, fn string, args []string, peers ...string) (string, error)
}

// Querier evaluates a read-only chaincode call on one peer and returns the
// raw response payload.
type Querier interface {
	Query(ctx context.Context, channel, chaincode, fn string, args []string, peer string) ([]byte, error)
}

// ChannelLister lists the channels a peer has joined.
type ChannelLister interface {
	Channels(ctx context.Context, peer string) ([]string, error)
}

// BlockHandler receives delivered blocks one at a time, in arrival order.
type BlockHandler func(*cb.Block)

// BlockSource pushes blocks from a set of channels into a handler and
// notifies registered callbacks whenever a subscription is (re)established.
type BlockSource interface {
	SubscribeBlocks(ctx context.Context, channels []string, handler BlockHandler) error
	OnReconnect(fn func())
}

// Client is the full collaborator surface.
type Client interface {
	Invoker
	Querier
	ChannelLister
	BlockSource
}
