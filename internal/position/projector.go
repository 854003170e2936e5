// Package position republishes the depository book into per-organization
// position channels.
package position

import (
	"context"

	"github.com/nsd-depository/settlement-orchestrator/internal/ledger"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/model"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
	"github.com/nsd-depository/settlement-orchestrator/internal/sequence"
)

const fnPut = "put"

type Projector struct {
	log logger.Logger
	inv ledger.Invoker
	q   ledger.Querier
	res *resolver.Resolver

	depositoryChannel string
	bookChaincode     string
	positionChaincode string
	depositoryPeer    string
	depositoryPeers   []string

	kick chan struct{}
}

func New(
	log logger.Logger,
	inv ledger.Invoker,
	q ledger.Querier,
	res *resolver.Resolver,
	depositoryChannel, bookChaincode, positionChaincode, depositoryPeer string,
	depositoryPeers []string,
) *Projector {
	return &Projector{
		log:               log,
		inv:               inv,
		q:                 q,
		res:               res,
		depositoryChannel: depositoryChannel,
		bookChaincode:     bookChaincode,
		positionChaincode: positionChaincode,
		depositoryPeer:    depositoryPeer,
		depositoryPeers:   depositoryPeers,
		kick:              make(chan struct{}, 1),
	}
}

// Trigger requests a projection run. Requests arriving while one is already
// pending coalesce into a single run.
func (p *Projector) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run executes a projection for every trigger until ctx is done. A failed
// projection is not retried here; the next trigger (every depository block
// and every reconciliation sweep) will redo it.
func (p *Projector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
			if !p.Project(ctx) {
				p.log.Warnf("projection incomplete, will retry on next trigger")
			}
		}
	}
}

// Project reads the full book snapshot and writes every entry into the
// owning organization's position channel, strictly one entry at a time.
// Entries whose organization cannot be resolved are logged and skipped.
// The returned flag is false when the snapshot could not be read or any
// position write failed.
func (p *Projector) Project(ctx context.Context) bool {
	raw, err := p.q.Query(ctx, p.depositoryChannel, p.bookChaincode, "query", nil, p.depositoryPeer)
	if err != nil {
		p.log.Errorf("can't query book snapshot: %s", err)
		return false
	}
	entries, err := model.ParseBook(raw)
	if err != nil {
		p.log.Errorf("can't decode book snapshot: %s", err)
		return false
	}

	p.log.Infof("projecting %d book entries", len(entries))

	ok := true
	_ = sequence.Run(ctx, entries, func(ctx context.Context, pos model.Position) error {
		org, err := p.res.OrgByAccount(pos.Balance.Account, pos.Balance.Division)
		if err != nil {
			// Unmapped configuration, retrying will not help. Skip the
			// entry and keep projecting the rest.
			p.log.Errorf("can't project %s: %s", pos, err)
			return nil
		}

		channel := p.res.PositionChannel(org)
		peers := p.res.PeersOf(org)
		if len(peers) == 0 {
			peers = p.depositoryPeers
		}
		if _, err := p.inv.Invoke(ctx, channel, p.positionChaincode, fnPut, pos.Args(), peers...); err != nil {
			p.log.Errorf("can't put %s on %s: %s", pos, channel, err)
			ok = false
		}
		return nil
	})
	return ok
}
