package consensus

import "context"

// Propose is a leader's broadcast for its view: the new block and the
// highest certificate it extends, which followers check against their lock.
type Propose struct {
	Block    Block
	HighCert Certificate
}

// Handlers are the engine callbacks a Network invokes for inbound traffic.
type Handlers struct {
	OnPropose func(ctx context.Context, p Propose)
	OnPrepare func(ctx context.Context, cert Certificate, blk Block)
}

// Network is the transport seam between the engine and pkg/p2p. Proposals
// and prepares are broadcast; votes are unicast to the view's leader, which
// collects them until the quorum threshold is met.
type Network interface {
	BroadcastPropose(ctx context.Context, p Propose) error
	BroadcastPrepare(ctx context.Context, cert Certificate) error
	SendVote(ctx context.Context, to NodeID, v Vote) error
	CollectVotes(ctx context.Context, view View, h Hash, need int) ([]Vote, error)
	SetHandlers(h Handlers)
}

// AppHook is the application seam. PreparePayload asks the application for
// the next block's transactions; OnCommit executes a block and returns the
// resulting state hash, which each validator's vote commits to.
type AppHook interface {
	PreparePayload(parent Block, next Height) []byte
	OnCommit(committed Block) Hash
}
