// Package service wires the orchestrator components together.
package service

import (
	"context"

	cb "github.com/hyperledger/fabric-protos-go/common"
	"golang.org/x/sync/errgroup"

	"github.com/nsd-depository/settlement-orchestrator/internal/audit"
	"github.com/nsd-depository/settlement-orchestrator/internal/config"
	"github.com/nsd-depository/settlement-orchestrator/internal/dispatch"
	"github.com/nsd-depository/settlement-orchestrator/internal/ledger"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/orchestrator"
	"github.com/nsd-depository/settlement-orchestrator/internal/position"
	"github.com/nsd-depository/settlement-orchestrator/internal/reconcile"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
)

// Service is the settlement orchestration process. For organizations other
// than the depository owner it is an explicit no-op: Run only waits for
// shutdown.
type Service struct {
	log     logger.Logger
	enabled bool

	client       ledger.Client
	dispatcher   *dispatch.Dispatcher
	orchestrator *orchestrator.Orchestrator
	scheduler    *reconcile.Scheduler
	projector    *position.Projector

	channels []string
}

func New(
	cfg config.Config,
	res *resolver.Resolver,
	client ledger.Client,
	rec audit.Recorder,
	log logger.Logger,
) *Service {
	depositoryPeers := cfg.DepositoryPeers()
	localPeer := depositoryPeers[0]

	orch := orchestrator.New(
		log.Named("orchestrator"),
		client,
		res,
		rec,
		cfg.DepositoryChannel,
		cfg.Chaincodes.Book,
		cfg.Chaincodes.Instruction,
		depositoryPeers,
	)

	projector := position.New(
		log.Named("positions"),
		client,
		client,
		res,
		cfg.DepositoryChannel,
		cfg.Chaincodes.Book,
		cfg.Chaincodes.Position,
		localPeer,
		depositoryPeers,
	)

	scheduler := reconcile.New(
		log.Named("reconcile"),
		client,
		client,
		orch,
		projector,
		res,
		rec,
		cfg.ReconcileInterval,
		localPeer,
		cfg.Chaincodes.Instruction,
	)

	dispatcher := dispatch.New(
		cfg.DepositoryChannel,
		orch,
		projector,
		log.Named("dispatch"),
	)

	// Sweep immediately whenever the block stream (re)connects.
	client.OnReconnect(scheduler.Kick)

	channels := append([]string{cfg.DepositoryChannel}, res.BilateralChannels()...)

	return &Service{
		log:          log,
		enabled:      cfg.IsDepository(),
		client:       client,
		dispatcher:   dispatcher,
		orchestrator: orch,
		scheduler:    scheduler,
		projector:    projector,
		channels:     channels,
	}
}

// Run blocks until ctx is done or a component fails.
func (s *Service) Run(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("settlement orchestration disabled for common members")
		<-ctx.Done()
		return ctx.Err()
	}

	s.log.Infof("starting settlement orchestration over %d channels", len(s.channels))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.client.SubscribeBlocks(gctx, s.channels, func(block *cb.Block) {
			s.dispatcher.DispatchBlock(gctx, block)
		})
	})
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return s.projector.Run(gctx)
	})

	err := g.Wait()
	s.orchestrator.Wait()
	return err
}
