package consensus

import (
	"context"
	"time"

	"github.com/clobcore/matchbook/pkg/util"
)

// PacemakerTimers bound how long a follower waits for the leader's prepare
// before advancing its view on its own: ProposeWait covers the leader's
// proposal round, NetDelta the one-way network delay bound.
type PacemakerTimers struct {
	ProposeWait time.Duration
	NetDelta    time.Duration
}

// Pacemaker advances a follower's view reactively: a prepare message for
// the awaited view wakes it immediately, a timeout moves it on regardless
// so one silent leader cannot stall the chain.
type Pacemaker struct {
	Timers PacemakerTimers
	Clock  util.Clock
	State  *State

	advanced chan View
}

func NewPacemaker(timers PacemakerTimers, clock util.Clock, state *State) *Pacemaker {
	return &Pacemaker{
		Timers: timers,
		Clock:  clock,
		State:  state,
		// Buffered so a burst of prepares never blocks the network goroutine.
		advanced: make(chan View, 16),
	}
}

// WaitForViewAdvance blocks until a prepare at or past target arrives or
// the round timer expires, then moves State.View forward.
func (p *Pacemaker) WaitForViewAdvance(ctx context.Context, target View) error {
	deadline := p.Clock.After(p.Timers.ProposeWait + p.Timers.NetDelta)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			p.State.View = target
			return nil
		case v := <-p.advanced:
			if v >= target {
				p.State.View = v
				return nil
			}
		}
	}
}

// SignalViewAdvance is called from the prepare handler. A full channel is
// tolerable: the waiter's timeout covers the dropped signal.
func (p *Pacemaker) SignalViewAdvance(v View) {
	select {
	case p.advanced <- v:
	default:
	}
}
