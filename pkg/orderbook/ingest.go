package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// AddLimitOrder admits a new resting limit order, runs the matching
// pipeline, and returns its id. buyCollateral/sellCollateral must already be
// escrowed by the caller (pkg/coin's bank, in production) before this call;
// the book only ever draws down from what it's handed, never mints it.
//
// On a validation error the order was never admitted: no event was emitted
// and no collateral was consumed, matching the single-logical-transaction
// model. An error out of the matching pipeline itself means the hosting
// runtime must roll the whole step back (see pkg/app/clob).
func (b *Book) AddLimitOrder(owner common.Address, side Side, price, qty fixedpoint.FixedPoint, buyCollateral, sellCollateral uint64) (OrderID, error) {
	if price.IsZero() {
		return OrderID{}, newErr(InvalidPrice, "limit price must be positive")
	}
	if qty.IsZero() {
		return OrderID{}, newErr(InvalidPrice, "limit quantity must be positive")
	}
	if side == Buy && buyCollateral == 0 {
		return OrderID{}, newErr(NotAllowed, "buy order requires escrowed quote collateral")
	}
	if side == Sell && sellCollateral == 0 {
		return OrderID{}, newErr(NotAllowed, "sell order requires escrowed instrument collateral")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID()
	order := &Order{
		ID:    id,
		Owner: owner,
		Metadata: OrderMetadata{
			Side:         side,
			Type:         Limit,
			Status:       Pending,
			Price:        price,
			OriginalQty:  qty,
			RemainingQty: qty,
		},
		BuyCollateral:  buyCollateral,
		SellCollateral: sellCollateral,
	}
	b.orderMap[id] = order
	if side == Buy {
		b.buys.Push(price, id)
	} else {
		b.sells.Push(price, id)
	}
	b.sink.Create(CreateEvent{OrderID: id, Owner: owner, Metadata: order.Metadata})

	if err := b.processOrders(); err != nil {
		return id, err
	}
	return id, nil
}

// AddMarketOrder admits an immediate-or-cancel order. For a Sell, qty is the
// instrument quantity offered and sellCollateral must cover it exactly. For
// a Buy, qty caps how much instrument may be bought and buyCollateral is the
// quote budget that actually bounds each fill, converted to instrument units
// against each resting price the order crosses. Any quantity that can't be
// filled immediately is cancelled, never rested.
func (b *Book) AddMarketOrder(owner common.Address, side Side, qty fixedpoint.FixedPoint, buyCollateral, sellCollateral uint64) (OrderID, error) {
	if qty.IsZero() {
		return OrderID{}, newErr(InvalidPrice, "market quantity must be positive")
	}
	if side == Buy && buyCollateral == 0 {
		return OrderID{}, newErr(NotAllowed, "market buy requires escrowed quote collateral")
	}
	if side == Sell && sellCollateral == 0 {
		return OrderID{}, newErr(NotAllowed, "market sell requires escrowed instrument collateral")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID()
	order := &Order{
		ID:    id,
		Owner: owner,
		Metadata: OrderMetadata{
			Side:         side,
			Type:         Market,
			Status:       Pending,
			Price:        fixedpoint.Zero,
			OriginalQty:  qty,
			RemainingQty: qty,
		},
		BuyCollateral:  buyCollateral,
		SellCollateral: sellCollateral,
	}
	b.orderMap[id] = order
	b.marketOrders = append(b.marketOrders, id)
	b.sink.Create(CreateEvent{OrderID: id, Owner: owner, Metadata: order.Metadata})

	if err := b.processOrders(); err != nil {
		return id, err
	}
	return id, nil
}

// CancelOrder terminates a still-resting order early, returning whatever
// collateral it hadn't yet consumed. A finalized id reports UnknownOrder,
// same as an id that never existed: the live table is the only source of
// cancellable orders. Market orders never appear here pending (the matching
// pass IOC-finalizes them inline), so an explicit cancel against one can
// only race the pipeline and reports MarketOrderNotPending.
func (b *Book) CancelOrder(owner common.Address, id OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orderMap[id]
	if !ok {
		return newErr(UnknownOrder, "no such order %s", id)
	}
	if order.Owner != owner {
		return newErr(NotOwner, "order %s is not owned by %s", id, owner)
	}
	if order.Metadata.Type != Limit {
		return newErr(MarketOrderNotPending, "market order %s cannot be cancelled directly", id)
	}

	if order.Metadata.Side == Buy {
		b.buys.Remove(order.Metadata.Price, id)
	} else {
		b.sells.Remove(order.Metadata.Price, id)
	}
	b.cancelOrder(order, User)
	b.cleanOrders()
	return nil
}
