// file: tests/engine_e2e_test.go
package tests

import (
	"testing"
	"time"

	"github.com/clobcore/matchbook/pkg/abci"
	"github.com/clobcore/matchbook/pkg/consensus"
	"github.com/clobcore/matchbook/pkg/crypto"
)

// End-to-end through the ABCI bridge: transactions enter the mempool, a
// proposer packs them into a block payload, and committing that block
// settles the trade: the same path a live validator takes, minus the
// network.
func TestBridgeCommitSettlesTrades(t *testing.T) {
	chain := newTestChain(t)
	seller, _ := crypto.GenerateKey()
	buyer, _ := crypto.GenerateKey()
	chain.instrument.Credit(seller.Address(), 100*unit)
	chain.quote.Credit(buyer.Address(), 100*unit)

	if err := chain.app.PushTx(signedOrderTx(t, seller, 2, 1, 200000, 10000, 0, 1)); err != nil {
		t.Fatalf("PushTx sell: %v", err)
	}
	if err := chain.app.PushTx(signedOrderTx(t, buyer, 1, 2, 0, 10000, 20*unit, 1)); err != nil {
		t.Fatalf("PushTx buy: %v", err)
	}

	bridge := &abci.Bridge{App: chain.app}
	payload := bridge.PreparePayload(consensus.Block{}, 1)
	if len(payload) == 0 {
		t.Fatalf("proposer packed an empty payload")
	}
	if chain.app.MempoolSize() != 0 {
		t.Errorf("mempool should drain into the proposal")
	}

	block := consensus.Block{Height: 1, View: 1, Payload: payload, Proposer: "val1", Time: time.Now()}
	appHash := bridge.OnCommit(block)
	if appHash == (consensus.Hash{}) {
		t.Errorf("commit should produce a state hash")
	}

	// Market buy of 1 FMA against the resting 1@20 ask.
	if got := chain.instrument.Balance(buyer.Address()); got != 1*unit {
		t.Errorf("buyer instrument = %d, want %d", got, 1*unit)
	}
	if got := chain.quote.Balance(seller.Address()); got != 20*unit {
		t.Errorf("seller quote = %d, want %d", got, 20*unit)
	}

	// Committing an identical block again must not double-apply: the
	// nonces were consumed by the first commit.
	before := chain.quote.Balance(seller.Address())
	bridge.OnCommit(consensus.Block{Height: 2, View: 2, Payload: payload, Proposer: "val1", Time: time.Now()})
	if got := chain.quote.Balance(seller.Address()); got != before {
		t.Errorf("replayed block moved balances: %d -> %d", before, got)
	}
}
