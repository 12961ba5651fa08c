package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ListStock adds symbol to the market. A nil price draws one from the new
// listing range. creator may be empty for house listings.
func (s *Service) ListStock(ctx context.Context, symbol, creator string, price *decimal.Decimal) (Stock, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return Stock{}, err
	}
	if price != nil && !price.IsPositive() {
		return Stock{}, ErrNonPositiveResult
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return Stock{}, err
	}
	st, err := s.listLocked(m, symbol, creator, price)
	if err != nil {
		return Stock{}, err
	}
	if err := s.save(ctx, m, nil); err != nil {
		return Stock{}, err
	}
	s.log.Info("stock listed", "symbol", symbol, "creator", creator, "price", st.Price)
	s.publish(Event{Kind: EventListed, Symbol: symbol, Creator: creator, Price: st.Price})
	return st, nil
}

func (s *Service) listLocked(m *MarketState, symbol, creator string, price *decimal.Decimal) (Stock, error) {
	if _, ok := m.Prices[symbol]; ok || m.listed(symbol) {
		return Stock{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, symbol)
	}
	if creator != "" {
		if owned, ok := m.CreatorOf[creator]; ok {
			return Stock{}, fmt.Errorf("%w: %s", ErrDuplicateCreator, owned)
		}
	}
	p := s.newListingPrice()
	if price != nil {
		p = round2(*price)
	}
	m.Prices[symbol] = p
	m.History[symbol] = []decimal.Decimal{p}
	m.Symbols = append(m.Symbols, symbol)
	if creator != "" {
		m.CreatorOf[creator] = symbol
	}
	return Stock{Symbol: symbol, Price: p, Creator: creator, History: []decimal.Decimal{p}}, nil
}

// CreateStock is a user IPO: the listing and the IPO charge commit together.
func (s *Service) CreateStock(ctx context.Context, userID, symbol string) (Stock, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return Stock{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return Stock{}, err
	}
	acct := u.account(userID, s.econ)
	cost := fromFloat(s.econ.IPOCost)
	if acct.Balance.LessThan(cost) {
		return Stock{}, fmt.Errorf("%w: IPO costs %s", ErrInsufficientFunds, cost.StringFixed(2))
	}
	st, err := s.listLocked(m, symbol, userID, nil)
	if err != nil {
		return Stock{}, err
	}
	acct.Balance = acct.Balance.Sub(cost)
	if err := s.commit(ctx, m, u, prev); err != nil {
		return Stock{}, err
	}
	s.log.Info("stock created", "symbol", symbol, "creator", userID, "price", st.Price)
	s.publish(Event{Kind: EventListed, Symbol: symbol, Creator: userID, Price: st.Price})
	return st, nil
}

// RenameStock moves old to next along with every holding and purchase record.
func (s *Service) RenameStock(ctx context.Context, old, next string) (Stock, error) {
	old, next = NormalizeSymbol(old), NormalizeSymbol(next)
	if err := ValidateSymbol(next); err != nil {
		return Stock{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return Stock{}, err
	}
	if !m.listed(old) {
		return Stock{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, old)
	}
	if m.listed(next) {
		return Stock{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, next)
	}
	migrateSymbol(m, u, old, next)
	if err := s.commit(ctx, m, u, prev); err != nil {
		return Stock{}, err
	}
	creator := m.creatorFor(next)
	s.log.Info("stock renamed", "from", old, "to", next)
	s.publish(Event{Kind: EventRenamed, Symbol: next, PrevSymbol: old, Creator: creator, Price: m.Prices[next]})
	return Stock{Symbol: next, Price: m.Prices[next], Creator: creator}, nil
}

// RebrandStock renames the caller's own stock for the rebrand fee. The fee and
// the rename commit together; a failed commit restores both documents.
func (s *Service) RebrandStock(ctx context.Context, userID, next string) (Stock, error) {
	next = NormalizeSymbol(next)
	if err := ValidateSymbol(next); err != nil {
		return Stock{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return Stock{}, err
	}
	old, ok := m.CreatorOf[userID]
	if !ok || !m.listed(old) {
		return Stock{}, ErrNoStock
	}
	if m.listed(next) {
		return Stock{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, next)
	}
	acct := u.account(userID, s.econ)
	fee := fromFloat(s.econ.RebrandFee)
	if acct.Balance.LessThan(fee) {
		return Stock{}, fmt.Errorf("%w: rebrand costs %s", ErrInsufficientFunds, fee.StringFixed(2))
	}
	acct.Balance = acct.Balance.Sub(fee)
	migrateSymbol(m, u, old, next)
	if err := s.commit(ctx, m, u, prev); err != nil {
		return Stock{}, err
	}
	s.log.Info("stock rebranded", "from", old, "to", next, "creator", userID)
	s.publish(Event{Kind: EventRenamed, Symbol: next, PrevSymbol: old, Creator: userID, Price: m.Prices[next]})
	return Stock{Symbol: next, Price: m.Prices[next], Creator: userID}, nil
}

func (s *Service) AdjustPrice(ctx context.Context, symbol string, delta decimal.Decimal) (Stock, error) {
	return s.editPrice(ctx, symbol, func(cur decimal.Decimal) decimal.Decimal { return cur.Add(delta) })
}

func (s *Service) SetPrice(ctx context.Context, symbol string, value decimal.Decimal) (Stock, error) {
	return s.editPrice(ctx, symbol, func(decimal.Decimal) decimal.Decimal { return value })
}

func (s *Service) editPrice(ctx context.Context, symbol string, fn func(decimal.Decimal) decimal.Decimal) (Stock, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return Stock{}, err
	}
	cur, ok := m.Prices[symbol]
	if !ok || !m.listed(symbol) {
		return Stock{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	next := round2(fn(cur))
	if !next.IsPositive() {
		return Stock{}, ErrNonPositiveResult
	}
	m.Prices[symbol] = next
	m.appendHistory(symbol, next, s.econ.HistoryCap)
	if err := s.save(ctx, m, nil); err != nil {
		return Stock{}, err
	}
	s.log.Info("stock price set", "symbol", symbol, "old", cur, "new", next)
	s.publish(Event{Kind: EventPriceSet, Symbol: symbol, Price: next})
	return Stock{Symbol: symbol, Price: next, Creator: m.creatorFor(symbol)}, nil
}

// Tick runs one price update: regime check, a random move per symbol inside
// the regime interval and bankruptcy for anything that reached zero. The
// whole tick commits once at the end.
func (s *Service) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return TickReport{}, err
	}
	report := TickReport{Bankruptcies: map[string][]ShareLoss{}}
	report.RegimeChanged = s.checkRegimeLocked(m, now)

	lo, _ := m.RegimeMin.Float64()
	hi, _ := m.RegimeMax.Float64()
	var queue []string
	for _, sym := range m.Symbols {
		price, ok := m.Prices[sym]
		if !ok || !price.IsPositive() {
			queue = append(queue, sym)
			continue
		}
		change := s.uniform(lo, hi)
		variation := change * s.uniform(-0.2, 0.2)
		next := round2(price.Add(fromFloat(change + variation)))
		if !next.IsPositive() {
			next = decimal.Zero
			queue = append(queue, sym)
		}
		m.Prices[sym] = next
		m.appendHistory(sym, next, s.econ.HistoryCap)
		report.Updated = append(report.Updated, PriceUpdate{Symbol: sym, Old: price, New: next})
	}
	for _, sym := range queue {
		losses, _ := bankruptLocked(m, u, sym)
		report.Bankruptcies[sym] = losses
	}

	users := u
	if len(queue) == 0 {
		users = nil
	}
	if err := s.commit(ctx, m, users, prev); err != nil {
		return TickReport{}, err
	}
	report.Regime = regimeState(m)

	s.log.Info("market tick", "regime", m.Regime, "updated", len(report.Updated), "bankruptcies", len(queue))
	if report.RegimeChanged {
		st := report.Regime
		s.publish(Event{Kind: EventRegime, At: now, Regime: &st})
	}
	s.publish(Event{Kind: EventTick, At: now, Tick: &report})
	for _, sym := range queue {
		s.log.Warn("stock bankrupt", "symbol", sym, "holders", len(report.Bankruptcies[sym]))
		s.publish(Event{Kind: EventBankruptcy, At: now, Symbol: sym, Losses: report.Bankruptcies[sym]})
	}
	return report, nil
}

// Buy sells one share to userID at the current price, then nudges the price up.
func (s *Service) Buy(ctx context.Context, symbol, userID string, now time.Time) (BuyResult, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return BuyResult{}, err
	}
	price, ok := m.Prices[symbol]
	if !ok || !m.listed(symbol) {
		return BuyResult{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	acct := u.account(userID, s.econ)
	if acct.Balance.LessThan(price) {
		return BuyResult{}, fmt.Errorf("%w: %s costs %s", ErrInsufficientFunds, symbol, price.StringFixed(2))
	}

	acct.Balance = acct.Balance.Sub(price)
	acct.Inventory[symbol]++
	acct.PurchaseDates[symbol] = append(acct.PurchaseDates[symbol], s.Today(now))

	next := round2(price.Add(fromFloat(s.uniform(s.econ.BuyImpactMin, s.econ.BuyImpactMax))))
	m.Prices[symbol] = next
	m.appendHistory(symbol, next, s.econ.HistoryCap)

	if err := s.commit(ctx, m, u, prev); err != nil {
		return BuyResult{}, err
	}
	s.log.Debug("stock bought", "symbol", symbol, "user", userID, "price", price, "new_price", next)
	return BuyResult{
		Symbol:   symbol,
		Price:    price,
		NewPrice: next,
		Shares:   acct.Inventory[symbol],
		Balance:  acct.Balance,
	}, nil
}

// Sell takes one share from userID. A share bought earlier the same
// reference-timezone day pays the selling fee. A sale that drives the price
// to zero bankrupts the stock inside the same commit.
func (s *Service) Sell(ctx context.Context, symbol, userID string, now time.Time) (SellResult, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return SellResult{}, err
	}
	price, ok := m.Prices[symbol]
	if !ok || !m.listed(symbol) {
		return SellResult{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	acct := u.account(userID, s.econ)
	if acct.Inventory[symbol] <= 0 {
		return SellResult{}, fmt.Errorf("%w: no %s shares", ErrInsufficientShares, symbol)
	}

	res := SellResult{Symbol: symbol, Fee: decimal.Zero}
	today := s.Today(now)
	dates := acct.PurchaseDates[symbol]
	for i, d := range dates {
		if d == today {
			res.SameDaySale = true
			dates = append(dates[:i:i], dates[i+1:]...)
			break
		}
	}
	if len(dates) == 0 {
		delete(acct.PurchaseDates, symbol)
	} else {
		acct.PurchaseDates[symbol] = dates
	}
	if res.SameDaySale {
		res.Fee = fromFloat(s.econ.SellingFee)
	}
	res.SalePrice = price.Sub(res.Fee)
	if res.SalePrice.IsNegative() {
		res.SalePrice = decimal.Zero
	}
	acct.Balance = acct.Balance.Add(res.SalePrice)
	acct.Inventory[symbol]--
	if acct.Inventory[symbol] <= 0 {
		delete(acct.Inventory, symbol)
	}
	res.Shares = acct.Inventory[symbol]
	res.Balance = acct.Balance

	next := round2(price.Sub(fromFloat(s.uniform(s.econ.SellImpactMin, s.econ.SellImpactMax))))
	if next.IsPositive() {
		m.Prices[symbol] = next
		m.appendHistory(symbol, next, s.econ.HistoryCap)
		res.NewPrice = next
	} else {
		res.Losses, _ = bankruptLocked(m, u, symbol)
		res.BankruptcyTriggered = true
		res.Shares = 0
	}

	if err := s.commit(ctx, m, u, prev); err != nil {
		return SellResult{}, err
	}
	s.log.Debug("stock sold", "symbol", symbol, "user", userID, "sale_price", res.SalePrice, "same_day", res.SameDaySale)
	if res.BankruptcyTriggered {
		s.log.Warn("stock bankrupt after sale", "symbol", symbol, "seller", userID, "holders", len(res.Losses))
		s.publish(Event{Kind: EventBankruptcy, At: now, Symbol: symbol, Losses: res.Losses})
	}
	return res, nil
}

// Bankrupt delists symbol. Calling it for a symbol that is already gone is a
// no-op returning no losses.
func (s *Service) Bankrupt(ctx context.Context, symbol string) ([]ShareLoss, error) {
	symbol = NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	losses, changed := bankruptLocked(m, u, symbol)
	if !changed {
		return nil, nil
	}
	if err := s.commit(ctx, m, u, prev); err != nil {
		return nil, err
	}
	s.log.Warn("stock bankrupt", "symbol", symbol, "holders", len(losses))
	s.publish(Event{Kind: EventBankruptcy, Symbol: symbol, Losses: losses})
	return losses, nil
}

// EmergencySweep bankrupts every listed symbol whose price is not positive.
func (s *Service) EmergencySweep(ctx context.Context) (map[string][]ShareLoss, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, u, prev, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.sweepLocked(ctx, m, u, prev)
}

func (s *Service) sweepLocked(ctx context.Context, m *MarketState, u Users, prev loaded) (map[string][]ShareLoss, error) {
	var queue []string
	for _, sym := range m.Symbols {
		if p, ok := m.Prices[sym]; !ok || !p.IsPositive() {
			queue = append(queue, sym)
		}
	}
	out := map[string][]ShareLoss{}
	if len(queue) == 0 {
		return out, nil
	}
	for _, sym := range queue {
		out[sym], _ = bankruptLocked(m, u, sym)
	}
	if err := s.commit(ctx, m, u, prev); err != nil {
		return nil, err
	}
	for _, sym := range queue {
		s.log.Warn("emergency sweep delisted stock", "symbol", sym, "holders", len(out[sym]))
		s.publish(Event{Kind: EventBankruptcy, Symbol: sym, Losses: out[sym]})
	}
	return out, nil
}

// Stocks returns every listed stock in listing order.
func (s *Service) Stocks(ctx context.Context) ([]Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Stock, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		out = append(out, Stock{Symbol: sym, Price: m.Prices[sym], Creator: m.creatorFor(sym)})
	}
	return out, nil
}

// Market returns a copy of the committed market document.
func (s *Service) Market(ctx context.Context) (MarketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.loadMarket(ctx)
	if err != nil {
		return MarketState{}, err
	}
	return *m, nil
}
