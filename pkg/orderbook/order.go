package orderbook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// OrderID is a 128-bit monotonically increasing identifier, assigned from a
// per-book counter. Two uint64 halves are used instead of math/big so that
// comparison and zero-value checks stay allocation-free on the hot path.
type OrderID struct {
	Hi uint64
	Lo uint64
}

// Next returns the successor of id, carrying into Hi on Lo overflow.
func (id OrderID) Next() OrderID {
	lo := id.Lo + 1
	hi := id.Hi
	if lo == 0 {
		hi++
	}
	return OrderID{Hi: hi, Lo: lo}
}

func (id OrderID) String() string {
	if id.Hi == 0 {
		return fmt.Sprintf("%d", id.Lo)
	}
	return fmt.Sprintf("%d:%020d", id.Hi, id.Lo)
}

// IsZero reports whether id is the zero value (never a valid assigned id,
// since counters start at OrderID{}.Next()).
func (id OrderID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Side is which direction of the book an order rests on or crosses into.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType distinguishes resting limit orders from immediate-or-cancel
// market orders.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "limit"
	}
	return "market"
}

// Status is the lifecycle state of an order. Pending is the only
// non-terminal state; the other three are terminal and imply the order has
// been (or is about to be) swept into the book's finalized table.
type Status uint8

const (
	Pending Status = iota
	Cancelled
	PartiallyFilled
	Filled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Cancelled:
		return "cancelled"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of the three states from which an
// order never returns to Pending.
func (s Status) IsTerminal() bool { return s != Pending }

// CancelAgent records who finalized an order via a non-natural route.
type CancelAgent uint8

const (
	// NoCancel means the order finalized by a natural fill, not a cancel.
	NoCancel CancelAgent = iota
	// IOC means the matching engine itself cancelled a market order's
	// unfilled residual.
	IOC
	// User means an explicit cancel_order call terminated the order.
	User
)

func (c CancelAgent) String() string {
	switch c {
	case NoCancel:
		return "none"
	case IOC:
		return "ioc"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// OrderMetadata is the copyable, value-typed description of an order's
// trading intent and current fill state. It is embedded in every event so
// observers can reconstruct book history without retaining the Order
// itself.
type OrderMetadata struct {
	Side         Side
	Type         OrderType
	Status       Status
	Price        fixedpoint.FixedPoint // zero for market orders
	OriginalQty  fixedpoint.FixedPoint
	RemainingQty fixedpoint.FixedPoint
}

// Order is the owned, mutable record of a single resting or in-flight
// order. BuyCollateral and SellCollateral are mutually exclusive escrow
// balances: a buy order escrows quote units, a sell order escrows
// instrument units.
type Order struct {
	ID       OrderID
	Owner    common.Address
	Metadata OrderMetadata

	// BuyCollateral is the quote-asset escrow for a Buy order, in raw
	// integer units at the quote coin's native decimals.
	BuyCollateral uint64
	// SellCollateral is the instrument-asset escrow for a Sell order, in
	// raw integer units at the instrument coin's native decimals.
	SellCollateral uint64
}

// HasQty reports whether any quantity remains unfilled.
func (o *Order) HasQty() bool {
	return fixedpoint.Gt(o.Metadata.RemainingQty, fixedpoint.Zero)
}

// HasCollateral reports whether any escrow remains on the order.
func (o *Order) HasCollateral() bool {
	return o.BuyCollateral > 0 || o.SellCollateral > 0
}
