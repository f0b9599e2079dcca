package tests

import (
	"context"
	"testing"
	"time"

	"github.com/clobcore/matchbook/pkg/abci"
	"github.com/clobcore/matchbook/pkg/consensus"
	"github.com/clobcore/matchbook/pkg/crypto"
	"github.com/clobcore/matchbook/pkg/p2p"
	"github.com/clobcore/matchbook/pkg/storage"
	"github.com/clobcore/matchbook/pkg/util"
)

// Four validators (the minimum BFT set: N=4, t=1, quorum 3) gossiping over
// real libp2p hosts on loopback must commit the same block at height 1.
func TestFourValidatorQuorum(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids := []consensus.NodeID{"val1", "val2", "val3", "val4"}
	engines := make([]*consensus.Engine, len(ids))
	nets := make([]*p2p.Libp2pNet, len(ids))

	for i, id := range ids {
		app := abci.NewMockApp()
		if id == "val1" {
			// Only the leader holds a transaction; everyone must still
			// agree on the block that carries it.
			app.PushTx([]byte(`{"type":"order"}`))
		}

		state := &consensus.State{
			Q:       consensus.Quorum{N: 4, T: 1},
			SelfID:  id,
			Genesis: consensus.GenesisBlock(),
		}
		pm := consensus.NewPacemaker(
			consensus.PacemakerTimers{ProposeWait: 50 * time.Millisecond, NetDelta: 50 * time.Millisecond},
			util.RealClock{},
			state,
		)

		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{SelfID: id})
		if err != nil {
			t.Fatalf("%s: libp2p init: %v", id, err)
		}
		nets[i] = net

		// val1 leads every view so the run is deterministic.
		engine := consensus.NewEngine(state, consensus.NewSafety(state), pm,
			&abci.Bridge{App: app}, net,
			consensus.RoundRobinElector{IDs: []consensus.NodeID{"val1"}},
			crypto.DummySigner{})
		engine.Store = storage.NewMemBlockStore()
		engines[i] = engine
	}

	connectAllPeers(t, ctx, nets)
	// Give gossipsub a beat to build its mesh before the first proposal.
	time.Sleep(200 * time.Millisecond)

	for i := range engines {
		e := engines[i]
		id := ids[i]
		go func() {
			if err := e.Run(ctx); err != nil && ctx.Err() == nil {
				t.Logf("%s: engine stopped: %v", id, err)
			}
		}()
	}

	waitForHeight(t, engines, 1, 5*time.Second)
	cancel()
	time.Sleep(100 * time.Millisecond)

	// Every validator must have committed the same head.
	var want consensus.Hash
	for i, e := range engines {
		got, ok := e.Store.GetCommitted()
		if !ok {
			t.Errorf("%s: nothing committed", ids[i])
			continue
		}
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			t.Errorf("%s: committed %x, want %x", ids[i], got[:8], want[:8])
		}
	}
}

// connectAllPeers dials a full mesh between the test hosts; outside tests
// this happens via bootstrap addresses.
func connectAllPeers(t *testing.T, ctx context.Context, nets []*p2p.Libp2pNet) {
	t.Helper()
	for i := 0; i < len(nets); i++ {
		for j := i + 1; j < len(nets); j++ {
			hi, hj := nets[i].Host(), nets[j].Host()
			hi.Peerstore().AddAddrs(hj.ID(), hj.Addrs(), time.Hour)
			hj.Peerstore().AddAddrs(hi.ID(), hi.Addrs(), time.Hour)
			if err := hi.Connect(ctx, hi.Peerstore().PeerInfo(hj.ID())); err != nil {
				t.Logf("connect %d<->%d: %v", i, j, err)
			}
		}
	}
}

func waitForHeight(t *testing.T, engines []*consensus.Engine, h consensus.Height, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			for i, e := range engines {
				t.Logf("engine %d at height %d", i, e.State.Height)
			}
			t.Fatal("timeout waiting for quorum commit")
		case <-ticker.C:
			ready := true
			for _, e := range engines {
				if e.State.Height < h {
					ready = false
					break
				}
			}
			if ready {
				return
			}
		}
	}
}
