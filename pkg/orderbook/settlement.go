package orderbook

import "github.com/ethereum/go-ethereum/common"

// Settlement is the book's only channel to the outside world's asset
// custody. The book itself never holds balances: a buy order's quote
// collateral and a sell order's instrument collateral are escrowed by the
// caller before the order is admitted (see Order.BuyCollateral /
// SellCollateral), and the matching pass only decides how much of each
// escrow a trade consumes. Credits land trade proceeds in the
// counterparty's spendable balance; refunds return an order's unconsumed
// escrow to its own owner when it finalizes. The book computes amounts,
// something else custodies them.
type Settlement interface {
	// CreditQuote pays amount (at the quote coin's native decimals) of
	// the quote asset to owner. Called on the seller when a trade
	// executes.
	CreditQuote(owner common.Address, amount uint64)
	// CreditInstrument pays amount (at the instrument coin's native decimals)
	// of the instrument asset to owner. Called on the buyer when a trade
	// executes.
	CreditInstrument(owner common.Address, amount uint64)
	// RefundQuote returns amount of unconsumed quote escrow to owner when
	// a buy order finalizes with collateral still held.
	RefundQuote(owner common.Address, amount uint64)
	// RefundInstrument returns amount of unconsumed instrument escrow to
	// owner when a sell order finalizes with collateral still held.
	RefundInstrument(owner common.Address, amount uint64)
}

// NopSettlement discards every credit and refund. Useful for tests that
// only assert on book-internal state (order status, remaining qty).
type NopSettlement struct{}

func (NopSettlement) CreditQuote(common.Address, uint64)      {}
func (NopSettlement) CreditInstrument(common.Address, uint64) {}
func (NopSettlement) RefundQuote(common.Address, uint64)      {}
func (NopSettlement) RefundInstrument(common.Address, uint64) {}

// LedgerSettlement accumulates net credits per address in memory, keyed by
// asset. It exists for tests that want to assert on settled amounts
// without standing up pkg/coin's pebble-backed bank.
type LedgerSettlement struct {
	Quote      map[common.Address]uint64
	Instrument map[common.Address]uint64
}

func NewLedgerSettlement() *LedgerSettlement {
	return &LedgerSettlement{
		Quote:      make(map[common.Address]uint64),
		Instrument: make(map[common.Address]uint64),
	}
}

func (l *LedgerSettlement) CreditQuote(owner common.Address, amount uint64) {
	l.Quote[owner] += amount
}
func (l *LedgerSettlement) CreditInstrument(owner common.Address, amount uint64) {
	l.Instrument[owner] += amount
}
func (l *LedgerSettlement) RefundQuote(owner common.Address, amount uint64) {
	l.Quote[owner] += amount
}
func (l *LedgerSettlement) RefundInstrument(owner common.Address, amount uint64) {
	l.Instrument[owner] += amount
}
