package exchange

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type Regime string

const (
	RegimeStable   Regime = "stable"
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeVolatile Regime = "volatile"
	RegimeCrash    Regime = "crash"
)

var (
	ErrUnknownSymbol      = errors.New("stock not listed")
	ErrDuplicateSymbol    = errors.New("symbol already listed")
	ErrDuplicateCreator   = errors.New("user already owns a stock")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNonPositiveResult  = errors.New("price would be zero or negative; use bankruptcy instead")
	ErrStoreIO            = errors.New("ledger store failure")
	ErrInvalidSymbol      = errors.New("symbol must be $ followed by 2-5 uppercase letters or digits")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrAlreadyClaimed     = errors.New("daily reward already claimed today")
	ErrNoStock            = errors.New("user has no stock")
	ErrUnknownRegime      = errors.New("unknown market regime")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidTimeframe   = errors.New("timeframe must be day, week or all")
)

var symbolRE = regexp.MustCompile(`^\$[A-Z0-9]{2,5}$`)

// NormalizeSymbol upper-cases s and adds the leading $ when it is missing.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s != "" && !strings.HasPrefix(s, "$") {
		s = "$" + s
	}
	return s
}

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(symbol) {
		return ErrInvalidSymbol
	}
	return nil
}

func ParseRegime(s string) (Regime, error) {
	switch r := Regime(strings.ToLower(strings.TrimSpace(s))); r {
	case RegimeStable, RegimeBull, RegimeBear, RegimeVolatile, RegimeCrash:
		return r, nil
	}
	return "", ErrUnknownRegime
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func fromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// pctChange returns (cur-prev)/prev*100, or zero when prev is not positive.
func pctChange(cur, prev decimal.Decimal) float64 {
	if !prev.IsPositive() {
		return 0
	}
	f, _ := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Float64()
	return f
}
