package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// Test markets run at iDecimals = qDecimals = 4 against coins with 8
// native decimals.
const coinDec = 8

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func fp(t *testing.T, v uint64, decimals uint8) fixedpoint.FixedPoint {
	t.Helper()
	f, err := fixedpoint.FromU64(v, decimals)
	if err != nil {
		t.Fatalf("FromU64(%d, %d): %v", v, decimals, err)
	}
	return f
}

// buyEscrow computes the quote units a limit buy must escrow, the way the
// application layer does before admission: price*qty rounded up at the
// quote coin's native decimals.
func buyEscrow(t *testing.T, price, qty fixedpoint.FixedPoint) uint64 {
	t.Helper()
	notional, err := fixedpoint.Mul(price, qty, fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	amt, err := fixedpoint.ToU64(notional, coinDec, fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("ToU64: %v", err)
	}
	return amt
}

func sellEscrow(t *testing.T, qty fixedpoint.FixedPoint) uint64 {
	t.Helper()
	amt, err := fixedpoint.ToU64(qty, coinDec, fixedpoint.RoundUp)
	if err != nil {
		t.Fatalf("ToU64: %v", err)
	}
	return amt
}

func testBook(t *testing.T) (*Book, *LedgerSettlement, *CollectingSink) {
	t.Helper()
	sink := &CollectingSink{}
	settle := NewLedgerSettlement()
	b, err := NewBook(Config{IDecimals: 4, QDecimals: 4, ICoinDecimals: coinDec, QCoinDecimals: coinDec}, sink, settle)
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	return b, settle, sink
}

func placeLimit(t *testing.T, b *Book, owner common.Address, side Side, priceRaw, qtyRaw uint64) OrderID {
	t.Helper()
	price := fp(t, priceRaw, 4)
	qty := fp(t, qtyRaw, 4)
	var buyCol, sellCol uint64
	if side == Buy {
		buyCol = buyEscrow(t, price, qty)
	} else {
		sellCol = sellEscrow(t, qty)
	}
	id, err := b.AddLimitOrder(owner, side, price, qty, buyCol, sellCol)
	if err != nil {
		t.Fatalf("AddLimitOrder(%s %d@%d): %v", side, qtyRaw, priceRaw, err)
	}
	return id
}

// Scenario: limit orders deposited into an empty book rest without
// executing, with escrow drawn exactly once per order.
func TestEmptyBookLimitDeposits(t *testing.T) {
	b, _, sink := testBook(t)

	// Buys (qty, price): 10@1, 1@10, 2@1. Sells: 10@20, 1@21, 1@25.
	var quoteEscrowed, instrumentEscrowed uint64
	for _, o := range []struct{ qty, price uint64 }{{100000, 10000}, {10000, 100000}, {20000, 10000}} {
		placeLimit(t, b, alice, Buy, o.price, o.qty)
		quoteEscrowed += buyEscrow(t, fp(t, o.price, 4), fp(t, o.qty, 4))
	}
	for _, o := range []struct{ qty, price uint64 }{{100000, 200000}, {10000, 210000}, {10000, 250000}} {
		placeLimit(t, b, alice, Sell, o.price, o.qty)
		instrumentEscrowed += sellEscrow(t, fp(t, o.qty, 4))
	}

	// Starting from 100.0 of each coin, the free balances are 78.0 quote
	// and 88.0 instrument.
	const hundred = 100 * 100_000_000
	if free := uint64(hundred) - quoteEscrowed; free != 78*100_000_000 {
		t.Errorf("free quote = %d, want %d", free, 78*100_000_000)
	}
	if free := uint64(hundred) - instrumentEscrowed; free != 88*100_000_000 {
		t.Errorf("free instrument = %d, want %d", free, 88*100_000_000)
	}

	if len(sink.Executions) != 0 {
		t.Errorf("expected no executions, got %d", len(sink.Executions))
	}
	bidCount, askCount := 0, 0
	for _, lvl := range b.BidLevels() {
		bidCount += lvl.Count
	}
	for _, lvl := range b.AskLevels() {
		askCount += lvl.Count
	}
	if bidCount != 3 || askCount != 3 {
		t.Errorf("book depth = %d bids %d asks, want 3/3", bidCount, askCount)
	}
}

// Scenario: market buy against a resting 10@20 sell fills 1 at 20 and
// leaves the seller resting with proportionally reduced escrow.
func TestMarketBuyPartialFillOfRestingSell(t *testing.T) {
	b, settle, sink := testBook(t)

	sellID := placeLimit(t, b, bob, Sell, 200000, 100000) // 10 FMA @ 20

	budget := uint64(20 * 100_000_000)
	buyID, err := b.AddMarketOrder(alice, Buy, fp(t, 10000, 4), budget, 0)
	if err != nil {
		t.Fatalf("AddMarketOrder: %v", err)
	}

	if got := settle.Quote[bob]; got != 20*100_000_000 {
		t.Errorf("seller quote credit = %d, want %d", got, 20*100_000_000)
	}
	if got := settle.Instrument[alice]; got != 1*100_000_000 {
		t.Errorf("buyer instrument credit = %d, want %d", got, 1*100_000_000)
	}

	rest, ok := b.Order(sellID)
	if !ok {
		t.Fatalf("resting sell should still be live")
	}
	if rest.Metadata.Status != Pending {
		t.Errorf("resting sell status = %s, want pending", rest.Metadata.Status)
	}
	if rest.SellCollateral != 9*100_000_000 {
		t.Errorf("resting sellCollateral = %d, want %d", rest.SellCollateral, 9*100_000_000)
	}

	done, ok := b.FinalizedOrder(buyID)
	if !ok || done.Metadata.Status != Filled {
		t.Fatalf("market buy should finalize Filled, got %+v ok=%v", done, ok)
	}
	// One trade, reported from both perspectives.
	if len(sink.Executions) != 2 {
		t.Errorf("executions = %d, want 2", len(sink.Executions))
	}
}

// Scenario: a market buy that exhausts the book is cancelled IOC and its
// unspent budget refunded.
func TestMarketBuyExhaustsBook(t *testing.T) {
	b, settle, sink := testBook(t)

	placeLimit(t, b, bob, Sell, 250000, 10000) // 1 FMA @ 25

	budget := uint64(360 * 100_000_000)
	buyID, err := b.AddMarketOrder(alice, Buy, fp(t, 20000, 4), budget, 0)
	if err != nil {
		t.Fatalf("AddMarketOrder: %v", err)
	}

	done, ok := b.FinalizedOrder(buyID)
	if !ok {
		t.Fatalf("market order should be finalized")
	}
	if done.Metadata.Status != Cancelled {
		t.Errorf("market order status = %s, want cancelled", done.Metadata.Status)
	}

	var agent CancelAgent
	for _, fe := range sink.Finalizes {
		if fe.OrderID == buyID {
			agent = fe.CancelAgent
		}
	}
	if agent != IOC {
		t.Errorf("cancel agent = %s, want ioc", agent)
	}

	// 25 paid to the seller, 335 refunded to the buyer.
	if got := settle.Quote[bob]; got != 25*100_000_000 {
		t.Errorf("seller quote credit = %d, want %d", got, 25*100_000_000)
	}
	if got := settle.Quote[alice]; got != 335*100_000_000 {
		t.Errorf("buyer quote refund = %d, want %d", got, 335*100_000_000)
	}
	if got := settle.Instrument[alice]; got != 1*100_000_000 {
		t.Errorf("buyer instrument credit = %d, want %d", got, 1*100_000_000)
	}
}

// Scenario: crossing limit orders execute at the midpoint of best bid and
// best ask.
func TestLimitCrossAtMidpoint(t *testing.T) {
	b, settle, sink := testBook(t)

	buyID := placeLimit(t, b, alice, Buy, 100000, 10000) // 1 FMA @ 10
	sellID := placeLimit(t, b, bob, Sell, 90000, 10000)  // 1 FMA @ 9

	if len(sink.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(sink.Executions))
	}
	wantPrice := fp(t, 95000, 4) // 9.5
	if !fixedpoint.Eq(sink.Executions[0].Price, wantPrice) {
		t.Errorf("trade price = %s, want %s", sink.Executions[0].Price, wantPrice)
	}

	for _, id := range []OrderID{buyID, sellID} {
		done, ok := b.FinalizedOrder(id)
		if !ok || done.Metadata.Status != Filled {
			t.Errorf("order %s should be Filled, got %+v ok=%v", id, done, ok)
		}
	}

	// Seller receives 9.5; buyer escrowed 10.0 and gets 0.5 back.
	if got := settle.Quote[bob]; got != 950_000_000 {
		t.Errorf("seller quote credit = %d, want 950000000", got)
	}
	if got := settle.Quote[alice]; got != 50_000_000 {
		t.Errorf("buyer quote refund = %d, want 50000000", got)
	}
	if got := settle.Instrument[alice]; got != 100_000_000 {
		t.Errorf("buyer instrument credit = %d, want 100000000", got)
	}
}

// Scenario: a sub-precision midpoint rounds up to the quotable tick, so the
// tiny trade still moves a whole number of raw quote units.
func TestMidpointSubPrecisionRounding(t *testing.T) {
	b, settle, _ := testBook(t)

	placeLimit(t, b, alice, Buy, 2, 2) // 0.0002 FMA @ 0.0002 FMB
	placeLimit(t, b, bob, Sell, 1, 1)  // 0.0001 FMA @ 0.0001 FMB

	// Midpoint 0.00015 rounds up to 0.0002 at 4 decimals; cost
	// 0.0002*0.0001 = 2 raw quote units at 8 decimals.
	if got := settle.Quote[bob]; got != 2 {
		t.Errorf("seller quote credit = %d raw units, want 2", got)
	}

	// Buyer escrowed 4 raw units (0.0002*0.0002 rounded up) and spent 2.
	bidLevels := b.BidLevels()
	if len(bidLevels) != 1 {
		t.Fatalf("buy should still rest, levels = %d", len(bidLevels))
	}
	var rest *Order
	for _, o := range b.orderMap {
		if o.Metadata.Side == Buy {
			rest = o
		}
	}
	if rest == nil {
		t.Fatalf("resting buy not found")
	}
	if rest.BuyCollateral != 2 {
		t.Errorf("buyer escrow = %d raw units, want 2", rest.BuyCollateral)
	}
}

// Scenario: only the owner may cancel.
func TestCancelByNonOwner(t *testing.T) {
	b, _, _ := testBook(t)

	id := placeLimit(t, b, alice, Buy, 100000, 10000)

	err := b.CancelOrder(bob, id)
	var e *Error
	if !asBookError(err, &e) || e.Code != NotOwner {
		t.Fatalf("expected NotOwner, got %v", err)
	}
	if _, ok := b.Order(id); !ok {
		t.Errorf("order should be unchanged after rejected cancel")
	}
}

func TestCancelRefundsFullEscrow(t *testing.T) {
	b, settle, sink := testBook(t)

	price, qty := fp(t, 100000, 4), fp(t, 10000, 4)
	escrow := buyEscrow(t, price, qty)
	id, err := b.AddLimitOrder(alice, Buy, price, qty, escrow, 0)
	if err != nil {
		t.Fatalf("AddLimitOrder: %v", err)
	}
	if err := b.CancelOrder(alice, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	if got := settle.Quote[alice]; got != escrow {
		t.Errorf("refund = %d, want full escrow %d", got, escrow)
	}
	done, ok := b.FinalizedOrder(id)
	if !ok || done.Metadata.Status != Cancelled {
		t.Fatalf("cancelled order should be finalized Cancelled")
	}
	last := sink.Finalizes[len(sink.Finalizes)-1]
	if last.CancelAgent != User {
		t.Errorf("cancel agent = %s, want user", last.CancelAgent)
	}
}

func TestCancelUnknownAndFinalized(t *testing.T) {
	b, _, _ := testBook(t)

	var e *Error
	err := b.CancelOrder(alice, OrderID{Lo: 42})
	if !asBookError(err, &e) || e.Code != UnknownOrder {
		t.Fatalf("expected UnknownOrder for missing id, got %v", err)
	}

	id := placeLimit(t, b, alice, Buy, 100000, 10000)
	if err := b.CancelOrder(alice, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	err = b.CancelOrder(alice, id)
	if !asBookError(err, &e) || e.Code != UnknownOrder {
		t.Fatalf("expected UnknownOrder for finalized id, got %v", err)
	}
}

// Self-trading is permitted: collateral round-trips through the owner.
func TestSelfTradePermitted(t *testing.T) {
	b, settle, _ := testBook(t)

	placeLimit(t, b, alice, Buy, 100000, 10000)
	placeLimit(t, b, alice, Sell, 100000, 10000)

	// Trade at midpoint 10: alice pays herself 10 quote and delivers
	// herself 1 instrument.
	if got := settle.Quote[alice]; got != 10*100_000_000 {
		t.Errorf("self-trade quote flow = %d, want %d", got, 10*100_000_000)
	}
	if got := settle.Instrument[alice]; got != 1*100_000_000 {
		t.Errorf("self-trade instrument flow = %d, want %d", got, 1*100_000_000)
	}
}

// Time priority: the older order at a price level fills first, and a market
// order fills at that resting level's price.
func TestPriceTimePriority(t *testing.T) {
	b, _, sink := testBook(t)

	first := placeLimit(t, b, alice, Sell, 200000, 10000)
	second := placeLimit(t, b, bob, Sell, 200000, 10000)

	if _, err := b.AddMarketOrder(bob, Buy, fp(t, 10000, 4), 20*100_000_000, 0); err != nil {
		t.Fatalf("AddMarketOrder: %v", err)
	}

	done, ok := b.FinalizedOrder(first)
	if !ok || done.Metadata.Status != Filled {
		t.Errorf("older resting order should fill first")
	}
	if _, ok := b.Order(second); !ok {
		t.Errorf("newer resting order should still be live")
	}
	// Both execution events of the fill price at the resting level, not a midpoint.
	for _, e := range sink.Executions {
		if !fixedpoint.Eq(e.Price, fp(t, 200000, 4)) {
			t.Errorf("market fill price = %s, want 20", e.Price)
		}
	}
}

// Market orders are serviced newest-first within one processing pass.
func TestMarketOrdersNewestFirst(t *testing.T) {
	b, _, _ := testBook(t)

	// Stage two market sells while the book has no bids, by pushing them
	// onto the queue directly; then a bid arrives and both process.
	qty := fp(t, 10000, 4)
	idOld := b.nextID()
	b.orderMap[idOld] = &Order{ID: idOld, Owner: alice, Metadata: OrderMetadata{
		Side: Sell, Type: Market, Status: Pending, OriginalQty: qty, RemainingQty: qty,
	}, SellCollateral: sellEscrow(t, qty)}
	b.marketOrders = append(b.marketOrders, idOld)
	idNew := b.nextID()
	b.orderMap[idNew] = &Order{ID: idNew, Owner: bob, Metadata: OrderMetadata{
		Side: Sell, Type: Market, Status: Pending, OriginalQty: qty, RemainingQty: qty,
	}, SellCollateral: sellEscrow(t, qty)}
	b.marketOrders = append(b.marketOrders, idNew)

	placeLimit(t, b, alice, Buy, 100000, 10000) // 1 FMA bid, only one fill possible

	newDone, _ := b.FinalizedOrder(idNew)
	oldDone, _ := b.FinalizedOrder(idOld)
	if newDone == nil || newDone.Metadata.Status != Filled {
		t.Errorf("newest market order should have filled, got %+v", newDone)
	}
	if oldDone == nil || oldDone.Metadata.Status != Cancelled {
		t.Errorf("older market order should be IOC-cancelled, got %+v", oldDone)
	}
}

// Conservation: across an arbitrary sequence of operations no quote or
// instrument units appear or vanish.
func TestConservation(t *testing.T) {
	b, settle, _ := testBook(t)

	var quoteIn, instrumentIn uint64
	buy := func(owner common.Address, price, qty uint64) {
		p, q := fp(t, price, 4), fp(t, qty, 4)
		col := buyEscrow(t, p, q)
		quoteIn += col
		if _, err := b.AddLimitOrder(owner, Buy, p, q, col, 0); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}
	sell := func(owner common.Address, price, qty uint64) {
		p, q := fp(t, price, 4), fp(t, qty, 4)
		col := sellEscrow(t, q)
		instrumentIn += col
		if _, err := b.AddLimitOrder(owner, Sell, p, q, 0, col); err != nil {
			t.Fatalf("sell: %v", err)
		}
	}

	buy(alice, 100000, 30000)
	sell(bob, 90000, 10000)
	buy(bob, 110000, 10000)
	sell(alice, 95000, 50000)
	if _, err := b.AddMarketOrder(bob, Buy, fp(t, 20000, 4), 50*100_000_000, 0); err != nil {
		t.Fatalf("market buy: %v", err)
	}
	quoteIn += 50 * 100_000_000

	// Cancel whatever alice still has resting.
	for _, o := range b.OrdersOwnedBy(alice) {
		if err := b.CancelOrder(alice, o.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	}

	var quoteOut, instrumentOut uint64
	for _, v := range settle.Quote {
		quoteOut += v
	}
	for _, v := range settle.Instrument {
		instrumentOut += v
	}
	var quoteHeld, instrumentHeld uint64
	for _, o := range b.orderMap {
		quoteHeld += o.BuyCollateral
		instrumentHeld += o.SellCollateral
	}
	for _, o := range b.finalizedOrderMap {
		if o.BuyCollateral != 0 || o.SellCollateral != 0 {
			t.Errorf("finalized order %s retains collateral", o.ID)
		}
	}

	if quoteOut+quoteHeld != quoteIn {
		t.Errorf("quote leaked: in=%d out=%d held=%d", quoteIn, quoteOut, quoteHeld)
	}
	if instrumentOut+instrumentHeld != instrumentIn {
		t.Errorf("instrument leaked: in=%d out=%d held=%d", instrumentIn, instrumentOut, instrumentHeld)
	}
}

// Sorted invariant: bids non-increasing best-first, asks non-decreasing
// best-first, and every live order Pending.
func TestSortedInvariant(t *testing.T) {
	b, _, _ := testBook(t)

	for _, price := range []uint64{50000, 20000, 90000, 70000} {
		placeLimit(t, b, alice, Buy, price, 10000)
	}
	for _, price := range []uint64{150000, 120000, 180000, 130000} {
		placeLimit(t, b, bob, Sell, price, 10000)
	}

	bids := b.BidLevels()
	for i := 1; i < len(bids); i++ {
		if fixedpoint.Lt(bids[i-1].Price, bids[i].Price) {
			t.Errorf("bid levels out of order at %d", i)
		}
	}
	asks := b.AskLevels()
	for i := 1; i < len(asks); i++ {
		if fixedpoint.Gt(asks[i-1].Price, asks[i].Price) {
			t.Errorf("ask levels out of order at %d", i)
		}
	}
	for _, o := range b.orderMap {
		if o.Metadata.Status != Pending {
			t.Errorf("live order %s has status %s", o.ID, o.Metadata.Status)
		}
	}
}

// Idempotent clean: a second sweep is a no-op.
func TestCleanOrdersIdempotent(t *testing.T) {
	b, settle, _ := testBook(t)

	placeLimit(t, b, alice, Buy, 100000, 10000)
	placeLimit(t, b, bob, Sell, 90000, 10000)

	quoteBefore := settle.Quote[alice] + settle.Quote[bob]
	liveBefore, doneBefore := len(b.orderMap), len(b.finalizedOrderMap)

	b.cleanOrders()

	if settle.Quote[alice]+settle.Quote[bob] != quoteBefore {
		t.Errorf("second clean moved balances")
	}
	if len(b.orderMap) != liveBefore || len(b.finalizedOrderMap) != doneBefore {
		t.Errorf("second clean moved orders")
	}
}

// Price bound: every executed price lies within [ask, bid] at the cross.
func TestExecutionPriceBound(t *testing.T) {
	b, _, sink := testBook(t)

	placeLimit(t, b, alice, Buy, 103000, 10000)
	placeLimit(t, b, bob, Sell, 101000, 10000)

	for _, e := range sink.Executions {
		if fixedpoint.Lt(e.Price, fp(t, 101000, 4)) || fixedpoint.Gt(e.Price, fp(t, 103000, 4)) {
			t.Errorf("execution price %s outside [10.1, 10.3]", e.Price)
		}
	}
}

func asBookError(err error, target **Error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
