// Package audit keeps an off-ledger trail of orchestrated transitions and
// reconciliation sweeps. The ledger remains the record of truth; this is
// the operator-side view, so every write here is best effort.
package audit

import (
	"context"
	"time"
)

// Transition is one orchestrated chaincode call for one instruction.
type Transition struct {
	Instruction string
	Channel     string
	Operation   string
	Status      string
	TxID        string
	Error       string
}

// Sweep summarizes one reconciliation pass.
type Sweep struct {
	ID       string
	Channels int
	Pending  int
	Started  time.Time
	Duration time.Duration
}

type Recorder interface {
	Transition(ctx context.Context, t Transition)
	Sweep(ctx context.Context, s Sweep)
}

// Nop is the recorder used when auditing is disabled.
type Nop struct{}

func (Nop) Transition(context.Context, Transition) {}

func (Nop) Sweep(context.Context, Sweep) {}
