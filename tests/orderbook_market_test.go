package tests

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/coin"
	"github.com/clobcore/matchbook/pkg/fixedpoint"
	"github.com/clobcore/matchbook/pkg/market"
	"github.com/clobcore/matchbook/pkg/orderbook"
)

// These tests run the full custody path: escrow out of a coin bank, trade
// through the book, settlement and refunds back into the banks.

const unit = uint64(100_000_000) // 1.0 at the coins' 8 decimals

type testMarket struct {
	mkt        *market.Market
	instrument *coin.MemBank
	quote      *coin.MemBank
}

func newTestMarket(t *testing.T) *testMarket {
	t.Helper()
	instrument := coin.NewMemBank(8)
	quote := coin.NewMemBank(8)
	settle := &coin.BankSettlement{Quote: quote, Instrument: instrument}
	mkt, err := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, settle)
	if err != nil {
		t.Fatalf("market.Init: %v", err)
	}
	return &testMarket{mkt: mkt, instrument: instrument, quote: quote}
}

func (tm *testMarket) fund(owner common.Address, instrument, quote uint64) {
	tm.instrument.Credit(owner, instrument)
	tm.quote.Credit(owner, quote)
}

func (tm *testMarket) limit(t *testing.T, owner common.Address, side orderbook.Side, priceRaw, qtyRaw uint64) orderbook.OrderID {
	t.Helper()
	price, err := fixedpoint.FromU64(priceRaw, tm.mkt.QDecimals)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	qty, err := fixedpoint.FromU64(qtyRaw, tm.mkt.IDecimals)
	if err != nil {
		t.Fatalf("qty: %v", err)
	}

	var buyCol, sellCol uint64
	if side == orderbook.Buy {
		notional, err := fixedpoint.Mul(price, qty, fixedpoint.RoundUp)
		if err != nil {
			t.Fatalf("notional: %v", err)
		}
		buyCol, err = fixedpoint.ToU64(notional, tm.quote.Decimals(), fixedpoint.RoundUp)
		if err != nil {
			t.Fatalf("collateral: %v", err)
		}
		if err := tm.quote.Escrow(owner, buyCol); err != nil {
			t.Fatalf("escrow: %v", err)
		}
	} else {
		var err error
		sellCol, err = fixedpoint.ToU64(qty, tm.instrument.Decimals(), fixedpoint.RoundUp)
		if err != nil {
			t.Fatalf("collateral: %v", err)
		}
		if err := tm.instrument.Escrow(owner, sellCol); err != nil {
			t.Fatalf("escrow: %v", err)
		}
	}

	id, err := tm.mkt.Book.AddLimitOrder(owner, side, price, qty, buyCol, sellCol)
	if err != nil {
		t.Fatalf("AddLimitOrder: %v", err)
	}
	return id
}

func (tm *testMarket) marketBuy(t *testing.T, owner common.Address, qtyRaw, budget uint64) orderbook.OrderID {
	t.Helper()
	qty, err := fixedpoint.FromU64(qtyRaw, tm.mkt.IDecimals)
	if err != nil {
		t.Fatalf("qty: %v", err)
	}
	if err := tm.quote.Escrow(owner, budget); err != nil {
		t.Fatalf("escrow: %v", err)
	}
	id, err := tm.mkt.Book.AddMarketOrder(owner, orderbook.Buy, qty, budget, 0)
	if err != nil {
		t.Fatalf("AddMarketOrder: %v", err)
	}
	return id
}

// Six resting orders against fresh deposits leave exactly the escrowed
// amounts locked and nothing executed.
func TestRestingOrdersLockEscrow(t *testing.T) {
	tm := newTestMarket(t)
	user := common.HexToAddress("0x0000000000000000000000000000000000000aaa")
	tm.fund(user, 100*unit, 100*unit)

	// Buys (qty@price): 10@1, 1@10, 2@1. Sells: 10@20, 1@21, 1@25.
	tm.limit(t, user, orderbook.Buy, 10000, 100000)
	tm.limit(t, user, orderbook.Buy, 100000, 10000)
	tm.limit(t, user, orderbook.Buy, 10000, 20000)
	tm.limit(t, user, orderbook.Sell, 200000, 100000)
	tm.limit(t, user, orderbook.Sell, 210000, 10000)
	tm.limit(t, user, orderbook.Sell, 250000, 10000)

	if got := tm.quote.Balance(user); got != 78*unit {
		t.Errorf("free quote = %d, want %d", got, 78*unit)
	}
	if got := tm.instrument.Balance(user); got != 88*unit {
		t.Errorf("free instrument = %d, want %d", got, 88*unit)
	}
}

// A market buy against a deeper resting sell settles coin-for-coin through
// the banks.
func TestMarketBuySettlesThroughBanks(t *testing.T) {
	tm := newTestMarket(t)
	seller := common.HexToAddress("0x0000000000000000000000000000000000000bbb")
	buyer := common.HexToAddress("0x0000000000000000000000000000000000000ccc")
	tm.fund(seller, 100*unit, 0)
	tm.fund(buyer, 0, 100*unit)

	tm.limit(t, seller, orderbook.Sell, 200000, 100000) // 10 FMA @ 20
	tm.marketBuy(t, buyer, 10000, 20*unit)              // 1 FMA, 20 FMB budget

	if got := tm.instrument.Balance(buyer); got != 1*unit {
		t.Errorf("buyer instrument = %d, want %d", got, 1*unit)
	}
	if got := tm.quote.Balance(buyer); got != 80*unit {
		t.Errorf("buyer quote = %d, want %d", got, 80*unit)
	}
	if got := tm.quote.Balance(seller); got != 20*unit {
		t.Errorf("seller quote = %d, want %d", got, 20*unit)
	}
	// Seller still has 90 free and 10-1=9 locked in the resting order.
	if got := tm.instrument.Balance(seller); got != 90*unit {
		t.Errorf("seller instrument = %d, want %d", got, 90*unit)
	}
}

// Cancelling an unfilled order restores the balance exactly.
func TestCancelRestoresBankBalance(t *testing.T) {
	tm := newTestMarket(t)
	user := common.HexToAddress("0x0000000000000000000000000000000000000ddd")
	tm.fund(user, 0, 100*unit)

	id := tm.limit(t, user, orderbook.Buy, 100000, 10000)
	if got := tm.quote.Balance(user); got != 90*unit {
		t.Fatalf("escrow not drawn: balance %d", got)
	}
	if err := tm.mkt.Book.CancelOrder(user, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := tm.quote.Balance(user); got != 100*unit {
		t.Errorf("balance after cancel = %d, want %d", got, 100*unit)
	}
}
