// Package reconcile periodically re-drives instructions the live event
// stream may have missed.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nsd-depository/settlement-orchestrator/internal/audit"
	"github.com/nsd-depository/settlement-orchestrator/internal/ledger"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/model"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
	"github.com/nsd-depository/settlement-orchestrator/internal/sequence"
)

const DefaultInterval = 5 * time.Minute

// Driver is the part of the orchestrator a sweep re-enters: the same move
// logic the live dispatcher uses.
type Driver interface {
	Drive(ctx context.Context, in model.Instruction, rollback bool)
}

// Projector is poked once after each sweep.
type Projector interface {
	Trigger()
}

type Scheduler struct {
	log       logger.Logger
	lister    ledger.ChannelLister
	querier   ledger.Querier
	driver    Driver
	projector Projector
	res       *resolver.Resolver
	rec       audit.Recorder

	interval             time.Duration
	peer                 string
	instructionChaincode string

	kick chan struct{}
}

func New(
	log logger.Logger,
	lister ledger.ChannelLister,
	querier ledger.Querier,
	driver Driver,
	projector Projector,
	res *resolver.Resolver,
	rec audit.Recorder,
	interval time.Duration,
	peer, instructionChaincode string,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		log:                  log,
		lister:               lister,
		querier:              querier,
		driver:               driver,
		projector:            projector,
		res:                  res,
		rec:                  rec,
		interval:             interval,
		peer:                 peer,
		instructionChaincode: instructionChaincode,
		kick:                 make(chan struct{}, 1),
	}
}

// Kick requests an immediate sweep. Registered as the ledger reconnect
// callback; pending kicks coalesce.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run sweeps on every kick and on a fixed interval until ctx is done. A
// failed sweep is logged and retried on the next tick, never fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
		case <-ticker.C:
		}
		if err := s.Sweep(ctx); err != nil {
			s.log.Errorf("reconciliation sweep: %s", err)
		}
	}
}

type pendingInstruction struct {
	channel     string
	instruction model.Instruction
}

// Sweep lists every bilateral channel, collects instructions still in an
// in-flight status and drives each one, strictly one at a time, through the
// same logic the live dispatcher uses. A channel whose query fails is
// logged and contributes nothing; it never aborts the sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	started := time.Now()
	sweepID := uuid.NewString()
	log := s.log.With("sweep", sweepID)

	channels, err := s.lister.Channels(ctx, s.peer)
	if err != nil {
		return err
	}

	var (
		pending   []pendingInstruction
		bilateral int
	)
	for _, channel := range channels {
		if !s.res.IsBilateral(channel) {
			continue
		}
		bilateral++
		for _, in := range s.pendingOn(ctx, channel, log) {
			pending = append(pending, pendingInstruction{channel: channel, instruction: in})
		}
	}

	log.Infof("driving %d pending instructions from %d bilateral channels", len(pending), bilateral)

	_ = sequence.Run(ctx, pending, func(ctx context.Context, p pendingInstruction) error {
		s.driver.Drive(ctx, p.instruction, p.instruction.Status == model.StatusRollbackInitiated)
		return nil
	})

	s.projector.Trigger()
	s.rec.Sweep(ctx, audit.Sweep{
		ID:       sweepID,
		Channels: bilateral,
		Pending:  len(pending),
		Started:  started,
		Duration: time.Since(started),
	})
	return nil
}

// pendingOn queries one bilateral channel for instructions the orchestrator
// still owes a book movement. Errors yield an empty result so one bad
// channel cannot abort the sweep.
func (s *Scheduler) pendingOn(ctx context.Context, channel string, log logger.Logger) []model.Instruction {
	raw, err := s.querier.Query(ctx, channel, s.instructionChaincode, "query", nil, s.peer)
	if err != nil {
		log.Errorf("can't query instructions on %s: %s", channel, err)
		return nil
	}
	all, err := model.ParseInstructionList(raw)
	if err != nil {
		log.Errorf("can't decode instructions on %s: %s", channel, err)
		return nil
	}
	pending := make([]model.Instruction, 0, len(all))
	for _, in := range all {
		if in.InFlight() {
			pending = append(pending, in)
		}
	}
	return pending
}
