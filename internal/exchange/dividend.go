package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// computeDividends works out per-user payments for the given snapshot
// without touching it. Each listed stock with a positive price pays its top
// holders by rank and pays its creator in proportion to shares held by
// everyone else.
func computeDividends(m *MarketState, u Users, topPercents []float64, creatorPercent float64) (top, creators map[string]decimal.Decimal, paying int) {
	top = map[string]decimal.Decimal{}
	creators = map[string]decimal.Decimal{}
	hundred := decimal.NewFromInt(100)

	for _, sym := range m.Symbols {
		price, ok := m.Prices[sym]
		if !ok || !price.IsPositive() {
			continue
		}
		ranked := holders(u, sym)
		paid := false
		for rank, h := range ranked {
			if rank >= len(topPercents) {
				break
			}
			amt := round2(price.Mul(fromFloat(topPercents[rank])).Div(hundred))
			if amt.IsPositive() {
				top[h.UserID] = top[h.UserID].Add(amt)
				paid = true
			}
		}

		creator := m.creatorFor(sym)
		if creator == "" {
			if paid {
				paying++
			}
			continue
		}
		others := 0
		for _, h := range ranked {
			if h.UserID != creator {
				others += h.Shares
			}
		}
		if others > 0 {
			amt := round2(price.Mul(fromFloat(creatorPercent)).Div(hundred).Mul(decimal.NewFromInt(int64(others))))
			if amt.IsPositive() {
				creators[creator] = creators[creator].Add(amt)
				paid = true
			}
		}
		if paid {
			paying++
		}
	}
	return top, creators, paying
}

// DistributeDividends pays the day's dividends. Callers run it at most once
// per reference-timezone day; accounts already paid today are skipped so a
// repeated call cannot pay anyone twice.
func (s *Service) DistributeDividends(ctx context.Context, now time.Time) (DividendReport, error) {
	today := s.Today(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return DividendReport{}, err
	}
	top, creators, paying := computeDividends(m, u, s.econ.TopHolderPercents, s.econ.CreatorPercent)

	report := DividendReport{
		Date:         today,
		Totals:       map[string]decimal.Decimal{},
		TopHolders:   map[string]decimal.Decimal{},
		Creators:     map[string]decimal.Decimal{},
		StocksPaying: paying,
	}
	add := func(id string, amt decimal.Decimal, into map[string]decimal.Decimal) {
		if a, ok := u[id]; ok && a.LastDividend != nil && a.LastDividend.Date == today {
			return
		}
		into[id] = into[id].Add(amt)
		report.Totals[id] = report.Totals[id].Add(amt)
	}
	for id, amt := range top {
		add(id, amt, report.TopHolders)
	}
	for id, amt := range creators {
		add(id, amt, report.Creators)
	}
	if len(report.Totals) == 0 {
		return report, nil
	}

	for id, total := range report.Totals {
		a := u.account(id, s.econ)
		a.Balance = a.Balance.Add(total)
		a.LastDividend = &DividendRecord{Date: today, Amount: total}
	}
	if err := s.save(ctx, nil, u); err != nil {
		return DividendReport{}, err
	}
	s.log.Info("dividends paid", "date", today, "users", len(report.Totals), "stocks", paying)
	s.publish(Event{Kind: EventDividends, At: now, Dividends: &report})
	return report, nil
}

// LastDividendDate is the most recent date any account received dividends,
// or "" when none has.
func (s *Service) LastDividendDate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, _, err := s.loadUsers(ctx)
	if err != nil {
		return "", err
	}
	var last string
	for _, a := range u {
		if a.LastDividend != nil && a.LastDividend.Date > last {
			last = a.LastDividend.Date
		}
	}
	return last, nil
}
