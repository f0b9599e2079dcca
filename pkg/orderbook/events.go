package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// CreateEvent is emitted exactly once per order, the moment it is admitted
// to the book (before any matching against it is attempted).
type CreateEvent struct {
	OrderID  OrderID
	Owner    common.Address
	Metadata OrderMetadata
}

// ExecutionEvent is emitted twice per fill, once from each participant's
// perspective: the second copy swaps the order and opposite fields.
// Price and Qty describe the trade itself, not either order's remaining
// state, so a replay consumer can reconstruct both order metadata snapshots
// without re-deriving the arithmetic.
type ExecutionEvent struct {
	OrderID  OrderID
	Owner    common.Address
	Metadata OrderMetadata

	OppositeOrderID  OrderID
	OppositeOwner    common.Address
	OppositeMetadata OrderMetadata

	Price fixedpoint.FixedPoint
	Qty   fixedpoint.FixedPoint
}

// FinalizeEvent is emitted exactly once per order, when it reaches a
// terminal Status and is swept into the finalized table.
type FinalizeEvent struct {
	OrderID     OrderID
	Owner       common.Address
	Metadata    OrderMetadata
	CancelAgent CancelAgent
}

// EventSink receives the book's event stream as it is produced. A single
// call into the book (add_limit_order, add_market_order, cancel_order) may
// emit any number of events across all three methods. A limit order that
// rests emits only its Create in that call; its Finalize comes from the
// later call that fills or cancels it.
type EventSink interface {
	Create(CreateEvent)
	Execution(ExecutionEvent)
	Finalize(FinalizeEvent)
}

// NopSink discards every event. Useful for tests that only assert on
// returned order/collateral state.
type NopSink struct{}

func (NopSink) Create(CreateEvent)       {}
func (NopSink) Execution(ExecutionEvent) {}
func (NopSink) Finalize(FinalizeEvent)   {}

// CollectingSink accumulates events in memory, in emission order. Useful for
// tests asserting on the exact event sequence a scenario produces.
type CollectingSink struct {
	Creates    []CreateEvent
	Executions []ExecutionEvent
	Finalizes  []FinalizeEvent
}

func (s *CollectingSink) Create(e CreateEvent)       { s.Creates = append(s.Creates, e) }
func (s *CollectingSink) Execution(e ExecutionEvent) { s.Executions = append(s.Executions, e) }
func (s *CollectingSink) Finalize(e FinalizeEvent)   { s.Finalizes = append(s.Finalizes, e) }
