// Package dispatch turns raw ledger blocks into typed application events.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
)

// Event is one chaincode event extracted from a block action.
type Event struct {
	Channel string
	TxType  int32
	Name    string
	Payload []byte
}

// Handler consumes dispatched events. It must not block block delivery;
// long work is expected to be spawned by the handler itself.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// Trigger is poked when a block touched the depository channel, regardless
// of what the block contained. Projecting on every depository block is
// redundant work but keeps the projection independent of block content.
type Trigger interface {
	Trigger()
}

type Dispatcher struct {
	log               logger.Logger
	depositoryChannel string
	handler           Handler
	projector         Trigger
}

func New(depositoryChannel string, handler Handler, projector Trigger, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:               log,
		depositoryChannel: depositoryChannel,
		handler:           handler,
		projector:         projector,
	}
}

// DispatchBlock walks every endorsed transaction action in the block in
// delivery order and hands each named event to the handler. Malformed
// transactions or actions are logged and skipped, never fatal.
func (d *Dispatcher) DispatchBlock(ctx context.Context, block *cb.Block) {
	events, touchedDepository := d.decode(block)
	for _, ev := range events {
		d.handler.HandleEvent(ctx, ev)
	}
	if touchedDepository {
		d.projector.Trigger()
	}
}

func (d *Dispatcher) decode(block *cb.Block) ([]Event, bool) {
	var (
		events            []Event
		touchedDepository bool
	)
	if block == nil || block.Data == nil {
		return nil, false
	}
	number := block.Header.GetNumber()
	for i, envBytes := range block.Data.Data {
		channelID, actions, err := transactionActions(envBytes)
		if err != nil {
			d.log.Warnf("block %d tx %d: %s", number, i, err)
			continue
		}
		if actions == nil {
			// not an endorser transaction
			continue
		}
		if channelID == d.depositoryChannel {
			touchedDepository = true
		}
		for j, action := range actions {
			ev, ok, err := actionEvent(action)
			if err != nil {
				d.log.Warnf("block %d tx %d action %d: %s", number, i, j, err)
				continue
			}
			if !ok {
				continue
			}
			ev.Channel = channelID
			ev.TxType = int32(cb.HeaderType_ENDORSER_TRANSACTION)
			events = append(events, ev)
		}
	}
	return events, touchedDepository
}

// transactionActions unwraps one block data entry down to its endorser
// actions. A nil action slice with a nil error means the transaction is of
// a type the dispatcher skips.
func transactionActions(envBytes []byte) (string, []*pb.TransactionAction, error) {
	env := &cb.Envelope{}
	if err := proto.Unmarshal(envBytes, env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	payload := &cb.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Header == nil {
		return "", nil, fmt.Errorf("transaction payload has no header")
	}
	chdr := &cb.ChannelHeader{}
	if err := proto.Unmarshal(payload.Header.ChannelHeader, chdr); err != nil {
		return "", nil, fmt.Errorf("decode channel header: %w", err)
	}
	if cb.HeaderType(chdr.Type) != cb.HeaderType_ENDORSER_TRANSACTION {
		return chdr.ChannelId, nil, nil
	}
	tx := &pb.Transaction{}
	if err := proto.Unmarshal(payload.Data, tx); err != nil {
		return chdr.ChannelId, nil, fmt.Errorf("decode transaction: %w", err)
	}
	return chdr.ChannelId, tx.Actions, nil
}

// actionEvent extracts the chaincode event from one transaction action.
// Actions without an event name are skipped.
func actionEvent(action *pb.TransactionAction) (Event, bool, error) {
	ccap := &pb.ChaincodeActionPayload{}
	if err := proto.Unmarshal(action.Payload, ccap); err != nil {
		return Event{}, false, fmt.Errorf("decode action payload: %w", err)
	}
	if ccap.Action == nil {
		return Event{}, false, fmt.Errorf("action carries no endorsed action")
	}
	prp := &pb.ProposalResponsePayload{}
	if err := proto.Unmarshal(ccap.Action.ProposalResponsePayload, prp); err != nil {
		return Event{}, false, fmt.Errorf("decode proposal response: %w", err)
	}
	ccAction := &pb.ChaincodeAction{}
	if err := proto.Unmarshal(prp.Extension, ccAction); err != nil {
		return Event{}, false, fmt.Errorf("decode chaincode action: %w", err)
	}
	ccEvent := &pb.ChaincodeEvent{}
	if err := proto.Unmarshal(ccAction.Events, ccEvent); err != nil {
		return Event{}, false, fmt.Errorf("decode chaincode event: %w", err)
	}
	if ccEvent.EventName == "" {
		return Event{}, false, nil
	}
	return Event{
		Name:    ccEvent.EventName,
		Payload: decodePayload(ccEvent.Payload),
	}, true, nil
}

// decodePayload normalizes an event payload. Payloads arrive either as raw
// JSON bytes or base64 of a JSON-or-plain-text document depending on the
// delivery path; whatever cannot be decoded is passed through untouched.
func decodePayload(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	if sonic.Valid(payload) {
		return payload
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(payload)); err == nil {
		return decoded
	}
	return payload
}
