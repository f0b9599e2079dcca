package orderbook

import "fmt"

// Code is a stable integer error code, part of the external contract: RPC
// callers match on Code rather than on error string text.
type Code int

const (
	NotAllowed             Code = 0
	NotAdmin               Code = 1
	BookExists             Code = 2
	BookNotExists          Code = 3
	CoinUninitialized      Code = 4
	UnknownOrder           Code = 5
	InvalidPrice           Code = 6
	NotOwner               Code = 7
	CoinExceedsMaxDecimals Code = 8
	InvalidType            Code = 9
	NoProgress             Code = 10
	MarketOrderNotPending  Code = 11
	InvalidDecimalConfig   Code = 12
)

func (c Code) String() string {
	switch c {
	case NotAllowed:
		return "NotAllowed"
	case NotAdmin:
		return "NotAdmin"
	case BookExists:
		return "BookExists"
	case BookNotExists:
		return "BookNotExists"
	case CoinUninitialized:
		return "CoinUninitialized"
	case UnknownOrder:
		return "UnknownOrder"
	case InvalidPrice:
		return "InvalidPrice"
	case NotOwner:
		return "NotOwner"
	case CoinExceedsMaxDecimals:
		return "CoinExceedsMaxDecimals"
	case InvalidType:
		return "InvalidType"
	case NoProgress:
		return "NoProgress"
	case MarketOrderNotPending:
		return "MarketOrderNotPending"
	case InvalidDecimalConfig:
		return "InvalidDecimalConfig"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error wraps a stable Code with human-readable context. Callers match on
// Code via errors.As; the stable integer, not the message, is the part of
// the contract external callers rely on.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}
