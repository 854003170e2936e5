// Package orchestrator drives instructions through the settlement state
// machine in response to chaincode events.
package orchestrator

import (
	"context"
	"sync"

	"github.com/nsd-depository/settlement-orchestrator/internal/audit"
	"github.com/nsd-depository/settlement-orchestrator/internal/dispatch"
	"github.com/nsd-depository/settlement-orchestrator/internal/ledger"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/model"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
)

const (
	fnMove     = "move"
	fnRollback = "rollback"
	fnStatus   = "status"
)

type Orchestrator struct {
	log logger.Logger
	inv ledger.Invoker
	res *resolver.Resolver
	rec audit.Recorder

	depositoryChannel    string
	bookChaincode        string
	instructionChaincode string
	depositoryPeers      []string

	wg sync.WaitGroup
}

func New(
	log logger.Logger,
	inv ledger.Invoker,
	res *resolver.Resolver,
	rec audit.Recorder,
	depositoryChannel, bookChaincode, instructionChaincode string,
	depositoryPeers []string,
) *Orchestrator {
	return &Orchestrator{
		log:                  log,
		inv:                  inv,
		res:                  res,
		rec:                  rec,
		depositoryChannel:    depositoryChannel,
		bookChaincode:        bookChaincode,
		instructionChaincode: instructionChaincode,
		depositoryPeers:      depositoryPeers,
	}
}

// HandleEvent routes one dispatched event. The ledger writes it triggers run
// in their own goroutine so block delivery is never backpressured; writes
// for one instruction stay strictly sequential inside that goroutine.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev dispatch.Event) {
	name, ok := model.ParseEventName(ev.Name)
	if !ok {
		o.log.Debugf("ignoring event %q on channel %s", ev.Name, ev.Channel)
		return
	}

	in, err := model.ParseInstruction(ev.Payload)
	if err != nil {
		o.log.Warnf("event %s on channel %s: %s", ev.Name, ev.Channel, err)
		return
	}

	switch name {
	case model.EventInstructionMatched:
		o.spawn(ctx, func(ctx context.Context) { o.Drive(ctx, in, false) })
	case model.EventInstructionRollbackInitiated:
		o.spawn(ctx, func(ctx context.Context) { o.Drive(ctx, in, true) })
	case model.EventInstructionExecuted, model.EventInstructionRollbackDone:
		// Only the depository's own event confirms the book write landed.
		if ev.Channel != o.depositoryChannel {
			return
		}
		o.spawn(ctx, func(ctx context.Context) { o.Confirm(ctx, in) })
	}
}

// Drive moves the instruction's quantity on the book: a move call for a
// matched instruction, a rollback call for a rollback. It may be entered
// twice for the same instruction, by a live event and by a reconciliation
// sweep; the duplicate-apply status from the book makes the second entry
// harmless.
func (o *Orchestrator) Drive(ctx context.Context, in model.Instruction, rollback bool) {
	fn := fnMove
	applied := model.StatusExecuted
	failed := model.StatusDeclined
	if rollback {
		fn = fnRollback
		applied = model.StatusRollbackDone
		failed = model.StatusRollbackDeclined
	}

	log := o.log.With("instruction", in.ID())
	log.Infof("moving balance %s/%s -> %s/%s (%s)",
		in.Transferer.Account, in.Transferer.Division,
		in.Receiver.Account, in.Receiver.Division, fn)

	txID, err := o.inv.Invoke(ctx, o.depositoryChannel, o.bookChaincode, fn, in.Args(), o.depositoryPeers...)
	switch {
	case err == nil:
		log.Infof("%s committed as %s", fn, txID)
		o.rec.Transition(ctx, audit.Transition{
			Instruction: in.ID(),
			Channel:     o.depositoryChannel,
			Operation:   fn,
			TxID:        txID,
		})
		if rollback {
			// The book emits no rollback confirmation; set the terminal
			// status right away.
			o.setStatus(ctx, in, applied)
		}
		// For a move, wait for the depository's Instruction.executed event
		// before touching the bilateral status: the two writes are not
		// atomic and the confirmation proves the move landed.
	case ledger.IsAlreadyExecuted(err):
		// A replayed delivery of an instruction whose movement already
		// committed. No new confirmation event will arrive, so set the
		// terminal status directly.
		log.Infof("%s already executed, confirming status %s", fn, applied)
		o.setStatus(ctx, in, applied)
	default:
		log.Errorf("%s failed: %s", fn, err)
		o.rec.Transition(ctx, audit.Transition{
			Instruction: in.ID(),
			Channel:     o.depositoryChannel,
			Operation:   fn,
			Error:       err.Error(),
		})
		o.setStatus(ctx, in, failed)
	}
}

// Confirm propagates a status the depository has already recorded onto the
// instruction's bilateral channel.
func (o *Orchestrator) Confirm(ctx context.Context, in model.Instruction) {
	if in.Status != model.StatusExecuted && in.Status != model.StatusRollbackDone {
		o.log.Debugf("not confirming %s in status %q", in.ID(), in.Status)
		return
	}
	o.setStatus(ctx, in, in.Status)
}

// setStatus writes the instruction status on its bilateral channel. The
// write is best effort: a failure is logged and left for the next
// reconciliation sweep.
func (o *Orchestrator) setStatus(ctx context.Context, in model.Instruction, status model.InstructionStatus) {
	log := o.log.With("instruction", in.ID())

	channel, err := o.res.InstructionChannel(in)
	if err != nil {
		log.Errorf("can't resolve bilateral channel: %s", err)
		return
	}
	peers, err := o.res.InstructionPeers(in)
	if err != nil {
		log.Errorf("can't resolve endorsing peers: %s", err)
		return
	}
	if len(peers) == 0 {
		peers = o.depositoryPeers
	}

	txID, err := o.inv.Invoke(ctx, channel, o.instructionChaincode, fnStatus, in.ArgsWithStatus(status), peers...)
	if err != nil {
		log.Errorf("can't set status %s on %s: %s", status, channel, err)
		o.rec.Transition(ctx, audit.Transition{
			Instruction: in.ID(),
			Channel:     channel,
			Operation:   fnStatus,
			Status:      string(status),
			Error:       err.Error(),
		})
		return
	}
	log.Infof("status %s set on %s as %s", status, channel, txID)
	o.rec.Transition(ctx, audit.Transition{
		Instruction: in.ID(),
		Channel:     channel,
		Operation:   fnStatus,
		Status:      string(status),
		TxID:        txID,
	})
}

func (o *Orchestrator) spawn(ctx context.Context, fn func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(ctx)
	}()
}

// Wait blocks until every in-flight event handler has settled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
