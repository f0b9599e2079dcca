// Package market pairs one instrument coin against one quote coin and owns
// the order book's decimal configuration plus the registry resolving a
// symbol to its live book.
package market

import (
	"github.com/clobcore/matchbook/pkg/fixedpoint"
	"github.com/clobcore/matchbook/pkg/orderbook"
)

// Status is the trading status of a market. Settled is terminal: once a
// market reaches it no further status transition is permitted.
type Status int8

const (
	Active Status = iota
	Paused
	Settling
	Settled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Settling:
		return "settling"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// BookType tags which matching discipline a market runs. Hybrid is
// reserved: it resolves and registers like any book, but no hybrid
// matching semantics exist behind it.
type BookType int8

const (
	CLOB BookType = iota
	Hybrid
)

func (t BookType) String() string {
	if t == Hybrid {
		return "hybrid"
	}
	return "clob"
}

// CoinInfo is the minimal shape of an asset the market registry needs from
// the coin runtime: its native decimal precision. pkg/coin implements this.
type CoinInfo interface {
	Decimals() uint8
}

// Market is one instrument/quote trading pair and the order book backing
// it. IDecimals and QDecimals are the book's own tick precision, which may
// be coarser than (but never finer than) the underlying coins' native
// decimals; orderbook.NewBook enforces the full decimal invariant.
type Market struct {
	Symbol string
	Type   BookType
	Status Status

	Instrument CoinInfo
	Quote      CoinInfo

	IDecimals uint8
	QDecimals uint8

	Book *orderbook.Book
}

// Init validates a market's decimal configuration against its backing
// coins and constructs its order book. Orders should reach the Book only
// through a Market in Active status.
func Init(symbol string, instrument, quote CoinInfo, iDecimals, qDecimals uint8, sink orderbook.EventSink, settle orderbook.Settlement) (*Market, error) {
	if instrument == nil || quote == nil {
		return nil, &orderbook.Error{Code: orderbook.CoinUninitialized,
			Msg: "market " + symbol + ": instrument and quote coins must be initialized"}
	}

	book, err := orderbook.NewBook(orderbook.Config{
		IDecimals:     iDecimals,
		QDecimals:     qDecimals,
		ICoinDecimals: instrument.Decimals(),
		QCoinDecimals: quote.Decimals(),
	}, sink, settle)
	if err != nil {
		return nil, err
	}

	return &Market{
		Symbol:     symbol,
		Type:       CLOB,
		Status:     Active,
		Instrument: instrument,
		Quote:      quote,
		IDecimals:  iDecimals,
		QDecimals:  qDecimals,
		Book:       book,
	}, nil
}

// TickSize is the smallest representable price increment for this market's
// quote precision.
func (m *Market) TickSize() fixedpoint.FixedPoint {
	step, _ := fixedpoint.RoundToDecimals(fixedpoint.FromRaw(1), m.QDecimals, fixedpoint.RoundUp)
	return step
}

// LotSize is the smallest representable quantity increment for this
// market's instrument precision.
func (m *Market) LotSize() fixedpoint.FixedPoint {
	step, _ := fixedpoint.RoundToDecimals(fixedpoint.FromRaw(1), m.IDecimals, fixedpoint.RoundUp)
	return step
}
