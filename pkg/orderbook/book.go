package orderbook

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
	"github.com/clobcore/matchbook/pkg/pricemap"
)

// Book holds one instrument/quote pair's resting orders and drives matching
// against them. Each of AddLimitOrder, AddMarketOrder and CancelOrder holds
// the write lock for its whole run, so concurrent entry-point calls are
// serialized and each runs to completion as one logical transaction;
// snapshot reads (BidLevels, AskLevels, BestBid, BestAsk) take the read lock.
type Book struct {
	mu sync.RWMutex

	// iDecimals and qDecimals bound the precision a resting order's
	// quantity and price may carry, and pick the precision the midpoint
	// trade price is rounded to.
	iDecimals uint8
	qDecimals uint8

	// iCoinDecimals and qCoinDecimals are the backing coins' native
	// precisions. Settlement amounts (escrow draw-downs, credits) are
	// integers at these scales, so every conversion out of fixed-point
	// rounds here, not at the market's coarser tick precision.
	iCoinDecimals uint8
	qCoinDecimals uint8

	buys  *pricemap.Map[OrderID]
	sells *pricemap.Map[OrderID]

	// marketOrders is a newest-first stack of pending market order ids:
	// the market phase of processOrders pops from the tail so the most
	// recently submitted market order is serviced first.
	marketOrders []OrderID

	orderMap          map[OrderID]*Order
	finalizedOrderMap map[OrderID]*Order

	idCounter OrderID

	sink   EventSink
	settle Settlement
}

// Config carries a Book's decimal layout: the market's own price/quantity
// tick precision plus the native precision of the two coins collateral is
// escrowed in.
type Config struct {
	IDecimals     uint8
	QDecimals     uint8
	ICoinDecimals uint8
	QCoinDecimals uint8
}

// NewBook constructs an empty book for an instrument priced in quote units.
// The decimal invariants are checked here: no coin may carry more precision
// than the fixed-point scale can represent, each tick precision must fit
// inside its coin's native precision, and the combined tick precision must
// fit inside the coarser of the two coins so price*qty never needs more
// decimals than settlement can pay out.
func NewBook(cfg Config, sink EventSink, settle Settlement) (*Book, error) {
	if cfg.ICoinDecimals > fixedpoint.MaxDecimals || cfg.QCoinDecimals > fixedpoint.MaxDecimals {
		return nil, newErr(CoinExceedsMaxDecimals, "coin decimals %d/%d exceed max precision %d",
			cfg.ICoinDecimals, cfg.QCoinDecimals, fixedpoint.MaxDecimals)
	}
	minCoin := cfg.ICoinDecimals
	if cfg.QCoinDecimals < minCoin {
		minCoin = cfg.QCoinDecimals
	}
	if cfg.IDecimals > cfg.ICoinDecimals || cfg.QDecimals > cfg.QCoinDecimals ||
		cfg.IDecimals+cfg.QDecimals > minCoin {
		return nil, newErr(InvalidDecimalConfig, "iDecimals=%d qDecimals=%d do not fit coin decimals %d/%d",
			cfg.IDecimals, cfg.QDecimals, cfg.ICoinDecimals, cfg.QCoinDecimals)
	}
	if sink == nil {
		sink = NopSink{}
	}
	if settle == nil {
		settle = NopSettlement{}
	}
	return &Book{
		iDecimals:         cfg.IDecimals,
		qDecimals:         cfg.QDecimals,
		iCoinDecimals:     cfg.ICoinDecimals,
		qCoinDecimals:     cfg.QCoinDecimals,
		buys:              pricemap.New[OrderID](pricemap.Max),
		sells:             pricemap.New[OrderID](pricemap.Min),
		orderMap:          make(map[OrderID]*Order),
		finalizedOrderMap: make(map[OrderID]*Order),
		sink:              sink,
		settle:            settle,
	}, nil
}

func (b *Book) nextID() OrderID {
	b.idCounter = b.idCounter.Next()
	return b.idCounter
}

// Order looks up a still-live (non-finalized) order by id.
func (b *Book) Order(id OrderID) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orderMap[id]
	return o, ok
}

// FinalizedOrder looks up an order that has reached a terminal state and
// been swept out of the live tables.
func (b *Book) FinalizedOrder(id OrderID) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.finalizedOrderMap[id]
	return o, ok
}

// BestBid returns the best (highest) resting buy price, if any.
func (b *Book) BestBid() (fixedpoint.FixedPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.Best()
}

// BestAsk returns the best (lowest) resting sell price, if any.
func (b *Book) BestAsk() (fixedpoint.FixedPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sells.Best()
}

// MidPrice returns round_to_decimals((bid+ask)/2, qDecimals, RoundUp), or
// false if either side of the book is empty.
func (b *Book) MidPrice() (fixedpoint.FixedPoint, bool, error) {
	b.mu.RLock()
	bid, okBid := b.buys.Best()
	ask, okAsk := b.sells.Best()
	b.mu.RUnlock()
	if !okBid || !okAsk {
		return fixedpoint.Zero, false, nil
	}
	mid, err := midpoint(bid, ask, b.qDecimals)
	if err != nil {
		return fixedpoint.Zero, false, err
	}
	return mid, true, nil
}

// OrdersOwnedBy returns copies of every live order owned by owner, in no
// particular order.
func (b *Book) OrdersOwnedBy(owner common.Address) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range b.orderMap {
		if o.Owner == owner {
			out = append(out, *o)
		}
	}
	return out
}

// PriceLevel is one aggregated rung of a book-depth snapshot.
type PriceLevel struct {
	Price fixedpoint.FixedPoint
	Count int
}

// BidLevels returns every resting buy price, best first, with the number of
// orders queued at each.
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelsSnapshot(b.buys)
}

// AskLevels returns every resting sell price, best first, with the number of
// orders queued at each.
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelsSnapshot(b.sells)
}

// DepthLevel is one rung of an aggregated depth snapshot: every order's
// remaining quantity at a price, summed.
type DepthLevel struct {
	Price fixedpoint.FixedPoint
	Qty   fixedpoint.FixedPoint
	Count int
}

// BidDepth aggregates the buy side best-first.
func (b *Book) BidDepth() []DepthLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthSnapshot(b.buys)
}

// AskDepth aggregates the sell side best-first.
func (b *Book) AskDepth() []DepthLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthSnapshot(b.sells)
}

func (b *Book) depthSnapshot(m *pricemap.Map[OrderID]) []DepthLevel {
	prices := m.Levels()
	out := make([]DepthLevel, 0, len(prices))
	for _, p := range prices {
		lvl := DepthLevel{Price: p}
		for _, id := range m.At(p) {
			if o, ok := b.orderMap[id]; ok {
				sum, err := fixedpoint.Add(lvl.Qty, o.Metadata.RemainingQty)
				if err != nil {
					continue
				}
				lvl.Qty = sum
				lvl.Count++
			}
		}
		out = append(out, lvl)
	}
	return out
}

func levelsSnapshot(m *pricemap.Map[OrderID]) []PriceLevel {
	prices := m.Levels()
	out := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, PriceLevel{Price: p, Count: m.LevelLen(p)})
	}
	return out
}

func midpoint(bid, ask fixedpoint.FixedPoint, qDecimals uint8) (fixedpoint.FixedPoint, error) {
	sum, err := fixedpoint.Add(bid, ask)
	if err != nil {
		return fixedpoint.Zero, err
	}
	half, err := fixedpoint.Div(sum, fixedpoint.FromRaw(2*fixedpoint.Scale), fixedpoint.Trunc)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return fixedpoint.RoundToDecimals(half, qDecimals, fixedpoint.RoundUp)
}
