package coin

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/util"
)

// BankSettlement implements orderbook.Settlement by releasing escrowed
// balances back out through a pair of Banks, one per side of a market. It
// is the seam between the matching engine's internal escrow bookkeeping and
// real asset custody.
type BankSettlement struct {
	Quote      Bank
	Instrument Bank
	Log        util.Logger
}

func (s *BankSettlement) CreditQuote(owner common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	s.Quote.Release(owner, amount)
	if s.Log != nil {
		s.Log.Debugw("credited quote", "owner", owner.Hex(), "amount", amount)
	}
}

func (s *BankSettlement) CreditInstrument(owner common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	s.Instrument.Release(owner, amount)
	if s.Log != nil {
		s.Log.Debugw("credited instrument", "owner", owner.Hex(), "amount", amount)
	}
}

func (s *BankSettlement) RefundQuote(owner common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	s.Quote.Release(owner, amount)
}

func (s *BankSettlement) RefundInstrument(owner common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	s.Instrument.Release(owner, amount)
}
