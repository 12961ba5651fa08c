package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

func (s *Service) StockInfo(ctx context.Context, symbol string) (StockInfo, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return StockInfo{}, err
	}
	price, ok := m.Prices[symbol]
	if !ok || !m.listed(symbol) {
		return StockInfo{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	h := m.History[symbol]
	info := StockInfo{
		Symbol:  symbol,
		Price:   price,
		Creator: m.creatorFor(symbol),
		Trend:   trend(h),
		Holders: len(holders(u, symbol)),
		History: append([]decimal.Decimal(nil), h...),
		Regime:  m.Regime,
	}
	if len(h) > 1 {
		info.DayChangePct = pctChange(price, h[len(h)-2])
	}
	if len(h) > 7 {
		info.WeekChangePct = pctChange(price, h[len(h)-7])
	}
	return info, nil
}

// trend classifies the last ten history points by counting up moves
// against down moves.
func trend(h []decimal.Decimal) string {
	if len(h) <= 10 {
		return "insufficient data"
	}
	recent := h[len(h)-10:]
	up := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].GreaterThan(recent[i-1]) {
			up++
		}
	}
	down := len(recent) - 1 - up
	switch {
	case float64(up) > float64(down)*1.5:
		return "strong upward"
	case up > down:
		return "upward"
	case float64(down) > float64(up)*1.5:
		return "strong downward"
	case down > up:
		return "downward"
	}
	return "neutral"
}

// TopPerformers ranks stocks by percent change over timeframe: "day" (last
// point), "week" (seven points back) or "all" (first recorded point).
func (s *Service) TopPerformers(ctx context.Context, timeframe string, limit int) ([]Performer, error) {
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if timeframe == "" {
		timeframe = "day"
	}
	if timeframe != "day" && timeframe != "week" && timeframe != "all" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return nil, err
	}
	var out []Performer
	for _, sym := range m.Symbols {
		h := m.History[sym]
		price := m.Prices[sym]
		var base decimal.Decimal
		switch {
		case timeframe == "day" && len(h) > 1:
			base = h[len(h)-2]
		case timeframe == "week" && len(h) > 7:
			base = h[len(h)-7]
		case timeframe == "all" && len(h) > 1:
			base = h[0]
		default:
			continue
		}
		out = append(out, Performer{Symbol: sym, Price: price, ChangePct: pctChange(price, base)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangePct > out[j].ChangePct })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarketSummary reports the regime, the index (mean listed price) and how
// many stocks moved up, down or not at all on their last update.
func (s *Service) MarketSummary(ctx context.Context) (MarketSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return MarketSummary{}, err
	}
	out := MarketSummary{
		Regime: regimeState(m),
		Listed: len(m.Symbols),
		Index:  decimal.Zero,
	}
	if !m.RegimeChangedAt.IsZero() {
		out.NextRegime = m.RegimeChangedAt.Add(s.econ.RegimeCooldown)
	}
	total := decimal.Zero
	for _, sym := range m.Symbols {
		price := m.Prices[sym]
		total = total.Add(price)
		h := m.History[sym]
		if len(h) < 2 {
			out.Flat++
			continue
		}
		switch price.Cmp(h[len(h)-2]) {
		case 1:
			out.Up++
		case -1:
			out.Down++
		default:
			out.Flat++
		}
	}
	if out.Listed > 0 {
		out.Index = round2(total.Div(decimal.NewFromInt(int64(out.Listed))))
	}
	return out, nil
}

func portfolioValue(m *MarketState, a *Account) decimal.Decimal {
	total := decimal.Zero
	for sym, qty := range a.Inventory {
		if p, ok := m.Prices[sym]; ok {
			total = total.Add(p.Mul(decimal.NewFromInt(int64(qty))))
		}
	}
	return total
}

// Leaderboard ranks accounts by net worth: cash, bank and holdings at
// current prices.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]LeaderboardRow, 0, len(u))
	for id, a := range u {
		pv := portfolioValue(m, a)
		rows = append(rows, LeaderboardRow{
			UserID:    id,
			Balance:   a.Balance,
			Bank:      a.Bank,
			Portfolio: pv,
			NetWorth:  a.Balance.Add(a.Bank).Add(pv),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].NetWorth.Cmp(rows[j].NetWorth); c != 0 {
			return c > 0
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

func (s *Service) Portfolio(ctx context.Context, userID string) (Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return Portfolio{}, err
	}
	a, ok := u[userID]
	if !ok {
		a = Users{}.account(userID, s.econ)
	}
	p := Portfolio{
		UserID:       userID,
		Balance:      a.Balance,
		Bank:         a.Bank,
		OwnStock:     m.CreatorOf[userID],
		Positions:    []Position{},
		LastDaily:    a.LastDaily,
		LastDividend: a.LastDividend,
		EarnedToday:  decimal.Zero,
	}
	if a.EarnDate == s.Today(s.now()) {
		p.EarnedToday = a.Earned
	}
	syms := make([]string, 0, len(a.Inventory))
	for sym := range a.Inventory {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		price := m.Prices[sym]
		qty := a.Inventory[sym]
		p.Positions = append(p.Positions, Position{
			Symbol: sym,
			Shares: qty,
			Price:  price,
			Value:  price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	p.Value = portfolioValue(m, a)
	p.NetWorth = a.Balance.Add(a.Bank).Add(p.Value)
	return p, nil
}
