package tests

import (
	"errors"
	"testing"

	"github.com/clobcore/matchbook/pkg/coin"
	"github.com/clobcore/matchbook/pkg/market"
	"github.com/clobcore/matchbook/pkg/orderbook"
)

func bookCode(err error) (orderbook.Code, bool) {
	var e *orderbook.Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

func TestMarketInitValidDecimals(t *testing.T) {
	instrument := coin.NewMemBank(8)
	quote := coin.NewMemBank(8)

	m, err := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.Status != market.Active {
		t.Errorf("new market status = %s, want active", m.Status)
	}
	if m.Book == nil {
		t.Fatalf("market has no book")
	}
}

func TestMarketInitRejectsDecimalOverflow(t *testing.T) {
	// 4+4 tick decimals cannot fit into 6-decimal coins.
	instrument := coin.NewMemBank(6)
	quote := coin.NewMemBank(8)

	_, err := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, nil)
	if code, ok := bookCode(err); !ok || code != orderbook.InvalidDecimalConfig {
		t.Fatalf("expected InvalidDecimalConfig, got %v", err)
	}
}

func TestMarketInitRejectsOversizedCoin(t *testing.T) {
	instrument := coin.NewMemBank(12) // beyond fixed-point scale
	quote := coin.NewMemBank(8)

	_, err := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, nil)
	if code, ok := bookCode(err); !ok || code != orderbook.CoinExceedsMaxDecimals {
		t.Fatalf("expected CoinExceedsMaxDecimals, got %v", err)
	}
}

func TestMarketInitRejectsMissingCoin(t *testing.T) {
	quote := coin.NewMemBank(8)
	_, err := market.Init("FMA-FMB", nil, quote, 4, 4, nil, nil)
	if code, ok := bookCode(err); !ok || code != orderbook.CoinUninitialized {
		t.Fatalf("expected CoinUninitialized, got %v", err)
	}
}

func TestRegistryDuplicateAndLookup(t *testing.T) {
	reg := market.NewRegistry()
	instrument := coin.NewMemBank(8)
	quote := coin.NewMemBank(8)

	m, err := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if code, _ := bookCode(reg.Register(m)); code != orderbook.BookExists {
		t.Errorf("duplicate register should report BookExists")
	}
	if _, err := reg.Get("FMA-FMB"); err != nil {
		t.Errorf("Get registered market: %v", err)
	}
	if code, _ := bookCode(func() error { _, err := reg.Get("NOPE-NOPE"); return err }()); code != orderbook.BookNotExists {
		t.Errorf("missing market should report BookNotExists")
	}
}

func TestRegistryTypedLookup(t *testing.T) {
	reg := market.NewRegistry()
	m, _ := market.Init("FMA-FMB", coin.NewMemBank(8), coin.NewMemBank(8), 4, 4, nil, nil)
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.GetTyped("FMA-FMB", market.CLOB); err != nil {
		t.Errorf("GetTyped clob: %v", err)
	}
	if code, _ := bookCode(func() error { _, err := reg.GetTyped("FMA-FMB", market.Hybrid); return err }()); code != orderbook.InvalidType {
		t.Errorf("hybrid lookup of a clob market should report InvalidType")
	}
}

func TestRegistryStatusLifecycle(t *testing.T) {
	reg := market.NewRegistry()
	instrument := coin.NewMemBank(8)
	quote := coin.NewMemBank(8)
	m, _ := market.Init("FMA-FMB", instrument, quote, 4, 4, nil, nil)
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Remove("FMA-FMB"); err == nil {
		t.Errorf("removing an active market should fail")
	}
	if err := reg.UpdateStatus("FMA-FMB", market.Settled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := reg.UpdateStatus("FMA-FMB", market.Active); err == nil {
		t.Errorf("settled is terminal; reactivation should fail")
	}
	if err := reg.Remove("FMA-FMB"); err != nil {
		t.Errorf("removing a settled market should succeed: %v", err)
	}
	if reg.Exists("FMA-FMB") {
		t.Errorf("market should be gone after Remove")
	}
}
