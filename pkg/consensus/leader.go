package consensus

import (
	"context"
	"time"
)

// LeaderElector decides which validator proposes in a view.
type LeaderElector interface{ LeaderOf(v View) NodeID }

// RoundRobinElector rotates leadership through the configured ID list,
// one view per validator.
type RoundRobinElector struct{ IDs []NodeID }

func (r RoundRobinElector) LeaderOf(v View) NodeID {
	if len(r.IDs) == 0 {
		return NodeID("unknown")
	}
	idx := int(v)
	if idx < 1 {
		idx = 1
	}
	return r.IDs[(idx-1)%len(r.IDs)]
}

// Leader assembles and broadcasts one view's proposal: a payload pulled
// from the application, extending the highest certified block.
type Leader struct {
	ID     NodeID
	Net    Network
	Safety *Safety
	App    AppHook
}

func (l *Leader) Propose(ctx context.Context, view View, height Height) (Block, Propose, error) {
	high := l.Safety.HighestCert()
	parent, ok := l.Safety.BlockByHash(high.H)
	if !ok {
		parent = l.Safety.state.Genesis
	}
	b := Block{
		Height:   height + 1,
		View:     view,
		Parent:   high.H,
		Payload:  l.App.PreparePayload(parent, height+1),
		Proposer: l.ID,
		Time:     time.Now(),
	}
	prop := Propose{Block: b, HighCert: high}
	return b, prop, l.Net.BroadcastPropose(ctx, prop)
}
