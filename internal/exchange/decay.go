package exchange

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type popularityEntry struct {
	symbol     string
	popularity int
}

// popularity counts holders with a positive position, plus one when the
// creator holds their own stock.
func popularity(m *MarketState, u Users, symbol string) int {
	n := 0
	for _, a := range u {
		if a.Inventory[symbol] > 0 {
			n++
		}
	}
	if creator := m.creatorFor(symbol); creator != "" {
		if a, ok := u[creator]; ok && a.Inventory[symbol] > 0 {
			n++
		}
	}
	return n
}

// rankByPopularity orders listed symbols least popular first; ties keep
// listing order.
func rankByPopularity(m *MarketState, u Users) []popularityEntry {
	out := make([]popularityEntry, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		out = append(out, popularityEntry{symbol: sym, popularity: popularity(m, u, sym)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].popularity < out[j].popularity })
	return out
}

// ApplyDecay depreciates the least popular stocks beyond the listing
// threshold. Nothing happens at or below the threshold.
func (s *Service) ApplyDecay(ctx context.Context, now time.Time) ([]DecayChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	excess := len(m.Symbols) - max(s.econ.DecayThreshold, 0)
	if excess <= 0 {
		s.log.Debug("decay skipped", "listed", len(m.Symbols), "threshold", s.econ.DecayThreshold)
		return nil, nil
	}

	factor := decimal.NewFromInt(1).Sub(fromFloat(s.econ.DecayPercent).Div(decimal.NewFromInt(100)))
	floor := fromFloat(s.econ.DecayFloor)
	var changes []DecayChange
	for _, e := range rankByPopularity(m, u)[:excess] {
		old, ok := m.Prices[e.symbol]
		if !ok {
			continue
		}
		next := round2(old.Mul(factor))
		if next.LessThan(floor) {
			next = floor
		}
		m.Prices[e.symbol] = next
		m.appendHistory(e.symbol, next, s.econ.HistoryCap)
		changes = append(changes, DecayChange{Symbol: e.symbol, Popularity: e.popularity, Old: old, New: next})
	}
	if err := s.save(ctx, m, nil); err != nil {
		return nil, err
	}
	s.log.Info("decay applied", "excess", excess, "decayed", len(changes))
	s.publish(Event{Kind: EventDecay, At: now, Decay: changes})
	return changes, nil
}

// DecayRisk forecasts the next decay run: 100 for symbols that will decay,
// then a linear fall towards 25 across the buffer just above them.
func (s *Service) DecayRisk(ctx context.Context) ([]DecayRisk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, _, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return decayRisk(m, u, s.econ.DecayThreshold, s.econ.DecayBuffer), nil
}

func decayRisk(m *MarketState, u Users, threshold, buffer int) []DecayRisk {
	threshold, buffer = max(threshold, 0), max(buffer, 0)
	excess := len(m.Symbols) - threshold
	if excess <= 0 {
		return nil
	}
	ranked := rankByPopularity(m, u)
	if rest := len(ranked) - excess; buffer > rest {
		buffer = rest
	}
	out := make([]DecayRisk, 0, excess+buffer)
	for i, e := range ranked[:excess+buffer] {
		risk := 100.0
		if i >= excess {
			risk = 100 - float64(i-excess)*75/float64(buffer)
		}
		out = append(out, DecayRisk{Symbol: e.symbol, Popularity: e.popularity, Risk: risk})
	}
	return out
}
