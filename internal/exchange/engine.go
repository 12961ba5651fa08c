package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ch3fx/internal/config"
	"ch3fx/internal/ledger"
)

// Service owns the market and users documents. Every operation takes mu,
// loads both documents, mutates them in memory and commits through a single
// ledger Save. Nothing is observable to other callers until Save returns.
type Service struct {
	store  ledger.Store
	econ   config.Economy
	loc    *time.Location
	notify Notifier
	log    *slog.Logger

	mu     sync.Mutex
	randMu sync.Mutex
	rand   *mathrand.Rand
	now    func() time.Time
}

func NewService(store ledger.Store, econ config.Economy, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:  store,
		econ:   econ,
		loc:    loc,
		notify: nopNotifier{},
		log:    logger,
		rand:   mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notify = n
}

func (s *Service) Economy() config.Economy { return s.econ }

func (s *Service) Location() *time.Location { return s.loc }

// Today is the reference-timezone calendar date of now.
func (s *Service) Today(now time.Time) string {
	return now.In(s.loc).Format(dateLayout)
}

// Init repairs the stored market at startup: a missing or unreadable market
// document is regenerated, then any listed symbol at or below zero is swept.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.store.Load(ctx, ledger.KeyMarket)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		raw = nil
	case err != nil:
		return fmt.Errorf("%w: load market: %v", ErrStoreIO, err)
	}

	var m *MarketState
	if raw != nil {
		m, err = decodeMarket(raw)
		if err != nil {
			s.log.Warn("market document unreadable, regenerating", "err", err)
		}
	}
	if m == nil {
		if m, raw, err = s.regenerateMarket(ctx); err != nil {
			return err
		}
	}
	u, rawU, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}

	swept, err := s.sweepLocked(ctx, m, u, loaded{market: raw, users: rawU})
	if err != nil {
		return err
	}
	if len(swept) > 0 {
		s.log.Warn("startup sweep delisted stocks", "count", len(swept))
	}
	return nil
}

// newMarket builds a fresh market in the stable regime, seeded with the
// configured symbols.
func (s *Service) newMarket() *MarketState {
	m := &MarketState{
		Prices:    map[string]decimal.Decimal{},
		History:   map[string][]decimal.Decimal{},
		Symbols:   []string{},
		CreatorOf: map[string]string{},
	}
	s.setRegime(m, RegimeStable, s.now())
	for _, sym := range s.econ.SeedSymbols {
		sym = NormalizeSymbol(sym)
		if ValidateSymbol(sym) != nil {
			continue
		}
		if _, ok := m.Prices[sym]; ok {
			continue
		}
		price := s.newListingPrice()
		m.Prices[sym] = price
		m.History[sym] = []decimal.Decimal{price}
		m.Symbols = append(m.Symbols, sym)
	}
	return m
}

func decodeMarket(raw []byte) (*MarketState, error) {
	var m MarketState
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.normalize()
	return &m, nil
}

func (m *MarketState) normalize() {
	if m.Prices == nil {
		m.Prices = map[string]decimal.Decimal{}
	}
	if m.History == nil {
		m.History = map[string][]decimal.Decimal{}
	}
	if m.CreatorOf == nil {
		m.CreatorOf = map[string]string{}
	}
	if m.Symbols == nil {
		m.Symbols = []string{}
	}
}

func (m *MarketState) listed(symbol string) bool {
	for _, s := range m.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (m *MarketState) creatorFor(symbol string) string {
	for user, sym := range m.CreatorOf {
		if sym == symbol {
			return user
		}
	}
	return ""
}

func (m *MarketState) appendHistory(symbol string, price decimal.Decimal, limit int) {
	h := append(m.History[symbol], price)
	if limit > 0 && len(h) > limit {
		h = append([]decimal.Decimal(nil), h[len(h)-limit:]...)
	}
	m.History[symbol] = h
}

// loaded holds the raw bytes read for this operation so a failed multi
// document save can be undone.
type loaded struct {
	market []byte
	users  []byte
}

// regenerateMarket replaces the market document with a fresh one and drops
// holdings of symbols it does not list, in one commit. Callers hold mu.
func (s *Service) regenerateMarket(ctx context.Context) (*MarketState, []byte, error) {
	u, rawU, err := s.loadUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	m := s.newMarket()
	dropped := dropUnlistedHoldings(m, u)
	var changed Users
	if dropped > 0 {
		changed = u
	}
	if err := s.commit(ctx, m, changed, loaded{users: rawU}); err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("encode market: %w", err)
	}
	s.log.Info("market document generated", "symbols", len(m.Symbols), "regime", m.Regime, "dropped_holdings", dropped)
	return m, raw, nil
}

// dropUnlistedHoldings removes inventory and purchase records for symbols m
// does not list and reports how many positions were removed.
func dropUnlistedHoldings(m *MarketState, u Users) int {
	dropped := 0
	for _, a := range u {
		for sym := range a.Inventory {
			if !m.listed(sym) {
				delete(a.Inventory, sym)
				dropped++
			}
		}
		for sym := range a.PurchaseDates {
			if !m.listed(sym) {
				delete(a.PurchaseDates, sym)
			}
		}
	}
	return dropped
}

// loadMarket reads the market document. A missing document is generated and
// persisted once, so every later read sees the same market.
func (s *Service) loadMarket(ctx context.Context) (*MarketState, []byte, error) {
	raw, err := s.store.Load(ctx, ledger.KeyMarket)
	if errors.Is(err, ledger.ErrNotFound) {
		return s.regenerateMarket(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load market: %v", ErrStoreIO, err)
	}
	m, err := decodeMarket(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode market: %v", ErrStoreIO, err)
	}
	return m, raw, nil
}

func (s *Service) loadUsers(ctx context.Context) (Users, []byte, error) {
	raw, err := s.store.Load(ctx, ledger.KeyUsers)
	if errors.Is(err, ledger.ErrNotFound) {
		return Users{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load users: %v", ErrStoreIO, err)
	}
	u := Users{}
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, nil, fmt.Errorf("%w: decode users: %v", ErrStoreIO, err)
	}
	for id, acct := range u {
		if acct == nil {
			delete(u, id)
			continue
		}
		acct.normalize()
	}
	return u, raw, nil
}

func (s *Service) loadAll(ctx context.Context) (*MarketState, Users, loaded, error) {
	m, rawM, err := s.loadMarket(ctx)
	if err != nil {
		return nil, nil, loaded{}, err
	}
	u, rawU, err := s.loadUsers(ctx)
	if err != nil {
		return nil, nil, loaded{}, err
	}
	return m, u, loaded{market: rawM, users: rawU}, nil
}

// save commits the non-nil documents in one Save call. A store failure is
// reported as ErrStoreIO and the mutation is treated as not committed.
func (s *Service) save(ctx context.Context, m *MarketState, u Users) error {
	docs, err := encodeDocs(m, u)
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, docs...); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	return nil
}

// commit is save for operations that touch both documents. If the store
// reports failure, the originally loaded documents are written back so a
// backend that landed part of the batch does not keep a half-applied change
// (for example a debited fee without the rename it paid for).
func (s *Service) commit(ctx context.Context, m *MarketState, u Users, prev loaded) error {
	err := s.save(ctx, m, u)
	if err == nil {
		return nil
	}
	var restore []ledger.Document
	if prev.market != nil && m != nil {
		restore = append(restore, ledger.Document{Key: ledger.KeyMarket, Body: prev.market})
	}
	if prev.users != nil && u != nil {
		restore = append(restore, ledger.Document{Key: ledger.KeyUsers, Body: prev.users})
	}
	if len(restore) > 0 {
		if rerr := s.store.Save(ctx, restore...); rerr != nil {
			s.log.Error("rollback after failed commit also failed", "err", rerr)
		} else {
			s.log.Warn("commit failed, previous documents restored", "err", err)
		}
	}
	return err
}

func encodeDocs(m *MarketState, u Users) ([]ledger.Document, error) {
	var docs []ledger.Document
	if m != nil {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode market: %w", err)
		}
		docs = append(docs, ledger.Document{Key: ledger.KeyMarket, Body: raw})
	}
	if u != nil {
		raw, err := json.Marshal(u)
		if err != nil {
			return nil, fmt.Errorf("encode users: %w", err)
		}
		docs = append(docs, ledger.Document{Key: ledger.KeyUsers, Body: raw})
	}
	return docs, nil
}

func (s *Service) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.notify.Publish(ev)
}

func (s *Service) nextFloat() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}

func (s *Service) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.nextFloat()
}

func (s *Service) uniformInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return lo + s.rand.Intn(hi-lo+1)
}

func (s *Service) newListingPrice() decimal.Decimal {
	return round2(fromFloat(s.uniform(s.econ.NewStockMinPrice, s.econ.NewStockMaxPrice)))
}

// bankruptLocked delists symbol from m and strips it from every account.
// It tolerates partial state and returns the holders who lost shares,
// sorted by user ID. changed reports whether anything was removed.
func bankruptLocked(m *MarketState, u Users, symbol string) (losses []ShareLoss, changed bool) {
	if _, ok := m.Prices[symbol]; ok {
		delete(m.Prices, symbol)
		changed = true
	}
	if _, ok := m.History[symbol]; ok {
		delete(m.History, symbol)
		changed = true
	}
	kept := m.Symbols[:0]
	for _, sym := range m.Symbols {
		if sym == symbol {
			changed = true
			continue
		}
		kept = append(kept, sym)
	}
	m.Symbols = kept
	for user, sym := range m.CreatorOf {
		if sym == symbol {
			delete(m.CreatorOf, user)
			changed = true
		}
	}

	for id, acct := range u {
		if qty, ok := acct.Inventory[symbol]; ok {
			if qty > 0 {
				losses = append(losses, ShareLoss{UserID: id, SharesLost: qty})
			}
			delete(acct.Inventory, symbol)
			changed = true
		}
		if _, ok := acct.PurchaseDates[symbol]; ok {
			delete(acct.PurchaseDates, symbol)
			changed = true
		}
	}
	sort.Slice(losses, func(i, j int) bool { return losses[i].UserID < losses[j].UserID })
	return losses, changed
}

// migrateSymbol moves every trace of old to next, keeping the listing slot.
func migrateSymbol(m *MarketState, u Users, old, next string) {
	m.Prices[next] = m.Prices[old]
	delete(m.Prices, old)
	m.History[next] = m.History[old]
	delete(m.History, old)
	for i, sym := range m.Symbols {
		if sym == old {
			m.Symbols[i] = next
		}
	}
	for user, sym := range m.CreatorOf {
		if sym == old {
			m.CreatorOf[user] = next
		}
	}
	for _, acct := range u {
		if qty, ok := acct.Inventory[old]; ok {
			acct.Inventory[next] += qty
			delete(acct.Inventory, old)
		}
		if dates, ok := acct.PurchaseDates[old]; ok {
			acct.PurchaseDates[next] = append(acct.PurchaseDates[next], dates...)
			delete(acct.PurchaseDates, old)
		}
	}
}
