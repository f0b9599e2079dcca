package orderbook

import (
	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// processOrders runs the book's two-phase matching pass. Callers (AddLimitOrder
// and AddMarketOrder in ingest.go) hold b.mu for the duration. The market phase
// drains pending market orders newest-first against the resting limit book;
// the cross phase then repeatedly matches resting limit orders while the
// book is crossed (best bid >= best ask). Each phase is followed by
// cleanOrders so a finalized order never lingers in a live table past the
// step that finalized it.
func (b *Book) processOrders() error {
	if err := b.marketPhase(); err != nil {
		return err
	}
	b.cleanOrders()
	if err := b.crossPhase(); err != nil {
		return err
	}
	b.cleanOrders()
	return nil
}

func (b *Book) marketPhase() error {
	for len(b.marketOrders) > 0 {
		n := len(b.marketOrders) - 1
		id := b.marketOrders[n]
		b.marketOrders = b.marketOrders[:n]

		order, ok := b.orderMap[id]
		if !ok || order.Metadata.Status.IsTerminal() {
			continue
		}
		if err := b.executeMarketOrder(order); err != nil {
			return err
		}
	}
	return nil
}

// executeMarketOrder matches a single market order against the opposite
// resting side until it runs out of quantity (sell) or collateral budget
// (buy), the opposite side empties, or no further progress is possible.
// A market order never rests: any residual that didn't finalize naturally
// is cancelled by the engine itself.
func (b *Book) executeMarketOrder(order *Order) error {
	opposite := b.sells
	if order.Metadata.Side == Sell {
		opposite = b.buys
	}

	for !order.Metadata.Status.IsTerminal() {
		price, ok := opposite.Best()
		if !ok {
			break
		}
		restID, ok := opposite.FrontAt(price)
		if !ok {
			break
		}
		rest := b.orderMap[restID]

		qty := fixedpoint.Min(rest.Metadata.RemainingQty, order.Metadata.RemainingQty)
		if order.Metadata.Side == Buy {
			// A buy is additionally bounded by what its escrowed quote
			// budget can still pay for at this resting price.
			maxQty, err := b.maxQtyForBudget(order.BuyCollateral, price)
			if err != nil {
				return err
			}
			qty = fixedpoint.Min(qty, maxQty)
		}
		if qty.IsZero() {
			break
		}

		order.Metadata.RemainingQty = mustSub(order.Metadata.RemainingQty, qty)
		rest.Metadata.RemainingQty = mustSub(rest.Metadata.RemainingQty, qty)

		buyOrder, sellOrder := order, rest
		if order.Metadata.Side == Sell {
			buyOrder, sellOrder = rest, order
		}
		if err := b.swapCollateral(buyOrder, sellOrder, price, qty); err != nil {
			return err
		}
		b.emitExecutions(order, rest, price, qty)

		if b.needsFinalize(rest) {
			opposite.PopFront(price)
			b.finalizeNatural(rest)
		}
		if b.needsFinalize(order) {
			b.finalizeNatural(order)
		}
	}

	if !order.Metadata.Status.IsTerminal() {
		b.cancelOrder(order, IOC)
	}
	return nil
}

// crossPhase matches resting limit orders at the best bid/ask while the
// book remains crossed, pricing every trade at the midpoint per
// round_to_decimals((bid+ask)/2, qDecimals, RoundUp).
func (b *Book) crossPhase() error {
	for {
		bid, okBid := b.buys.Best()
		ask, okAsk := b.sells.Best()
		if !okBid || !okAsk || fixedpoint.Lt(bid, ask) {
			return nil
		}
		buyID, ok := b.buys.FrontAt(bid)
		if !ok {
			return nil
		}
		sellID, ok := b.sells.FrontAt(ask)
		if !ok {
			return nil
		}
		buyOrder := b.orderMap[buyID]
		sellOrder := b.orderMap[sellID]

		price, err := midpoint(bid, ask, b.qDecimals)
		if err != nil {
			return err
		}
		qty := fixedpoint.Min(buyOrder.Metadata.RemainingQty, sellOrder.Metadata.RemainingQty)
		if qty.IsZero() {
			return newErr(NoProgress, "crossed book made no progress at bid=%s ask=%s", bid, ask)
		}

		buyOrder.Metadata.RemainingQty = mustSub(buyOrder.Metadata.RemainingQty, qty)
		sellOrder.Metadata.RemainingQty = mustSub(sellOrder.Metadata.RemainingQty, qty)

		if err := b.swapCollateral(buyOrder, sellOrder, price, qty); err != nil {
			return err
		}
		b.emitExecutions(buyOrder, sellOrder, price, qty)

		if b.needsFinalize(buyOrder) {
			b.buys.PopFront(bid)
			b.finalizeNatural(buyOrder)
		}
		if b.needsFinalize(sellOrder) {
			b.sells.PopFront(ask)
			b.finalizeNatural(sellOrder)
		}
	}
}

// emitExecutions reports one trade twice, once from each participant's
// perspective, with the order/opposite fields swapped.
func (b *Book) emitExecutions(o, opp *Order, price, qty fixedpoint.FixedPoint) {
	b.sink.Execution(ExecutionEvent{
		OrderID:          o.ID,
		Owner:            o.Owner,
		Metadata:         o.Metadata,
		OppositeOrderID:  opp.ID,
		OppositeOwner:    opp.Owner,
		OppositeMetadata: opp.Metadata,
		Price:            price,
		Qty:              qty,
	})
	b.sink.Execution(ExecutionEvent{
		OrderID:          opp.ID,
		Owner:            opp.Owner,
		Metadata:         opp.Metadata,
		OppositeOrderID:  o.ID,
		OppositeOwner:    o.Owner,
		OppositeMetadata: o.Metadata,
		Price:            price,
		Qty:              qty,
	})
}

// swapCollateral settles one trade: the buyer pays price*qty of quote
// collateral and the seller delivers qty of instrument collateral, both
// truncated to the coins' native precision so neither escrow can be drawn
// past what the trade is worth. The drawn amounts are credited to the
// counterparties via Settlement.
func (b *Book) swapCollateral(buyOrder, sellOrder *Order, price, qty fixedpoint.FixedPoint) error {
	notional, err := fixedpoint.Mul(price, qty, fixedpoint.Trunc)
	if err != nil {
		return err
	}
	quotePay, err := fixedpoint.ToU64(notional, b.qCoinDecimals, fixedpoint.Trunc)
	if err != nil {
		return err
	}
	instrumentDeliver, err := fixedpoint.ToU64(qty, b.iCoinDecimals, fixedpoint.Trunc)
	if err != nil {
		return err
	}
	if quotePay > buyOrder.BuyCollateral {
		quotePay = buyOrder.BuyCollateral
	}
	if instrumentDeliver > sellOrder.SellCollateral {
		instrumentDeliver = sellOrder.SellCollateral
	}

	buyOrder.BuyCollateral -= quotePay
	sellOrder.SellCollateral -= instrumentDeliver

	b.settle.CreditQuote(sellOrder.Owner, quotePay)
	b.settle.CreditInstrument(buyOrder.Owner, instrumentDeliver)
	return nil
}

// maxQtyForBudget converts a buy market order's remaining quote collateral
// (raw units at the quote coin's native decimals) into the instrument
// quantity it can still afford at price, truncated.
func (b *Book) maxQtyForBudget(remainingQuote uint64, price fixedpoint.FixedPoint) (fixedpoint.FixedPoint, error) {
	budget, err := fixedpoint.FromU64(remainingQuote, b.qCoinDecimals)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if price.IsZero() {
		return fixedpoint.Zero, nil
	}
	return fixedpoint.Div(budget, price, fixedpoint.Trunc)
}

func mustSub(a, b fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	r, err := fixedpoint.Sub(a, b)
	if err != nil {
		// qty subtracted is always bounded by a min() against a, so this
		// can only fire on a matching-logic bug, not bad input.
		panic(err)
	}
	return r
}

// needsFinalize reports whether o has nothing left to trade with: no
// quantity, or no collateral to pay or deliver from.
func (b *Book) needsFinalize(o *Order) bool {
	if o.Metadata.Status.IsTerminal() {
		return false
	}
	return !o.HasQty() || !o.HasCollateral()
}

// finalizeNatural transitions o to its natural terminal status: Filled when
// all quantity executed, PartiallyFilled when quantity remains but the
// escrow ran dry. Callers pop o out of any price level or queue first, so a
// FIFO never references a finalized id.
func (b *Book) finalizeNatural(o *Order) {
	if o.Metadata.Status.IsTerminal() {
		return
	}
	if !o.HasQty() {
		o.Metadata.Status = Filled
	} else {
		o.Metadata.Status = PartiallyFilled
	}
	b.sink.Finalize(FinalizeEvent{
		OrderID:     o.ID,
		Owner:       o.Owner,
		Metadata:    o.Metadata,
		CancelAgent: NoCancel,
	})
}

// cancelOrder transitions o to Cancelled on behalf of agent: IOC when the
// engine terminates a market order's unfilled residual, User on an explicit
// cancel_order call.
func (b *Book) cancelOrder(o *Order, agent CancelAgent) {
	if o.Metadata.Status.IsTerminal() {
		return
	}
	o.Metadata.Status = Cancelled
	b.sink.Finalize(FinalizeEvent{
		OrderID:     o.ID,
		Owner:       o.Owner,
		Metadata:    o.Metadata,
		CancelAgent: agent,
	})
}

// cleanOrders sweeps every order that has reached a terminal status out of
// orderMap and into finalizedOrderMap, refunding whatever escrow the order
// didn't consume back to its owner. It is idempotent: an order already
// swept is simply absent from orderMap on the next call, and a swept order
// holds no collateral, so a second sweep moves nothing.
func (b *Book) cleanOrders() {
	for id, o := range b.orderMap {
		if !o.Metadata.Status.IsTerminal() {
			continue
		}
		if o.BuyCollateral > 0 {
			b.settle.RefundQuote(o.Owner, o.BuyCollateral)
			o.BuyCollateral = 0
		}
		if o.SellCollateral > 0 {
			b.settle.RefundInstrument(o.Owner, o.SellCollateral)
			o.SellCollateral = 0
		}
		b.finalizedOrderMap[id] = o
		delete(b.orderMap, id)
	}
}
