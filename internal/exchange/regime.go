package exchange

import (
	"context"
	"time"

	"ch3fx/internal/config"
)

func regimeState(m *MarketState) RegimeState {
	return RegimeState{
		Regime:    m.Regime,
		Min:       m.RegimeMin,
		Max:       m.RegimeMax,
		ChangedAt: m.RegimeChangedAt,
	}
}

func (s *Service) profile(r Regime) (config.RegimeProfile, bool) {
	for _, p := range s.econ.Regimes {
		if Regime(p.Name) == r {
			return p, true
		}
	}
	return config.RegimeProfile{}, false
}

// drawRegime picks a regime by weighted random choice over the configured
// profiles.
func (s *Service) drawRegime() Regime {
	var total float64
	for _, p := range s.econ.Regimes {
		total += p.Weight
	}
	pick := s.nextFloat() * total
	for _, p := range s.econ.Regimes {
		if pick < p.Weight {
			return Regime(p.Name)
		}
		pick -= p.Weight
	}
	return Regime(s.econ.Regimes[len(s.econ.Regimes)-1].Name)
}

// setRegime writes the regime, a freshly sampled interval and the transition
// time together.
func (s *Service) setRegime(m *MarketState, r Regime, now time.Time) {
	p, ok := s.profile(r)
	if !ok && len(s.econ.Regimes) > 0 {
		p = s.econ.Regimes[0]
		r = Regime(p.Name)
	}
	lo := s.uniform(p.MinLow, p.MinHigh)
	hi := s.uniform(p.MaxLow, p.MaxHigh)
	if hi < lo {
		lo, hi = hi, lo
	}
	m.Regime = r
	m.RegimeMin = round2(fromFloat(lo))
	m.RegimeMax = round2(fromFloat(hi))
	m.RegimeChangedAt = now.UTC()
}

// checkRegimeLocked redraws the regime once the cooldown has elapsed. The
// draw may land on the current regime; its interval is resampled either way.
func (s *Service) checkRegimeLocked(m *MarketState, now time.Time) bool {
	if !m.RegimeChangedAt.IsZero() && now.Sub(m.RegimeChangedAt) < s.econ.RegimeCooldown {
		return false
	}
	prev := m.Regime
	s.setRegime(m, s.drawRegime(), now)
	if m.Regime == RegimeCrash {
		s.log.Warn("market crash", "min", m.RegimeMin, "max", m.RegimeMax)
	} else {
		s.log.Info("market regime changed", "from", prev, "to", m.Regime, "min", m.RegimeMin, "max", m.RegimeMax)
	}
	return true
}

func (s *Service) CheckRegime(ctx context.Context, now time.Time) (RegimeState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return RegimeState{}, false, err
	}
	if !s.checkRegimeLocked(m, now) {
		return regimeState(m), false, nil
	}
	if err := s.save(ctx, m, nil); err != nil {
		return RegimeState{}, false, err
	}
	st := regimeState(m)
	s.publish(Event{Kind: EventRegime, At: now, Regime: &st})
	return st, true, nil
}

// ForceRegime switches to r immediately, ignoring the cooldown.
func (s *Service) ForceRegime(ctx context.Context, r Regime, now time.Time) (RegimeState, error) {
	if _, ok := s.profile(r); !ok {
		return RegimeState{}, ErrUnknownRegime
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return RegimeState{}, err
	}
	s.setRegime(m, r, now)
	if err := s.save(ctx, m, nil); err != nil {
		return RegimeState{}, err
	}
	s.log.Info("market regime forced", "regime", r, "min", m.RegimeMin, "max", m.RegimeMax)
	st := regimeState(m)
	s.publish(Event{Kind: EventRegime, At: now, Regime: &st})
	return st, nil
}
