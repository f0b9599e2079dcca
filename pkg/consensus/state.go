package consensus

import "time"

// State is one validator's view of the chain: the committed height, the
// current view, the safety lock, and the highest certificate observed.
type State struct {
	Q        Quorum
	SelfID   NodeID
	Height   Height
	View     View
	Locked   *Locked
	HighCert *Certificate
	Genesis  Block
}

// GenesisBlock is the fixed height-0 ancestor every chain extends. Its
// timestamp is pinned so all validators derive the same genesis hash.
func GenesisBlock() Block {
	return Block{
		Proposer: NodeID("genesis"),
		Time:     time.Unix(0, 0),
	}
}
