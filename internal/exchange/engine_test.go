package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ch3fx/internal/config"
	"ch3fx/internal/ledger"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T, store ledger.Store) (*Service, *recorder) {
	t.Helper()
	if store == nil {
		store = ledger.NewMemoryStore()
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s := NewService(store, config.DefaultEconomy(), loc, nil)
	s.rand = mathrand.New(mathrand.NewSource(42))
	s.now = func() time.Time { return testNow }
	rec := &recorder{}
	s.SetNotifier(rec)
	return s, rec
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// pinRegime stores a market whose regime will not be redrawn at testNow.
func pinRegime(t *testing.T, s *Service, r Regime, lo, hi float64) {
	t.Helper()
	ctx := context.Background()
	m, _, err := s.loadMarket(ctx)
	if err != nil {
		t.Fatalf("load market: %v", err)
	}
	m.Regime = r
	m.RegimeMin = decimal.NewFromFloat(lo)
	m.RegimeMax = decimal.NewFromFloat(hi)
	m.RegimeChangedAt = testNow
	if err := s.save(ctx, m, nil); err != nil {
		t.Fatalf("save market: %v", err)
	}
}

func mustList(t *testing.T, s *Service, symbol, creator, price string) {
	t.Helper()
	p := dec(price)
	if _, err := s.ListStock(context.Background(), symbol, creator, &p); err != nil {
		t.Fatalf("list %s: %v", symbol, err)
	}
}

func mustFund(t *testing.T, s *Service, user, amount string) {
	t.Helper()
	if _, err := s.AdjustBalance(context.Background(), user, dec(amount)); err != nil {
		t.Fatalf("fund %s: %v", user, err)
	}
}

// giveShares writes holdings straight into the users document.
func giveShares(t *testing.T, s *Service, holdings map[string]map[string]int) {
	t.Helper()
	err := s.mutateUsers(context.Background(), func(u Users) error {
		for user, inv := range holdings {
			a := u.account(user, s.econ)
			for sym, qty := range inv {
				a.Inventory[sym] = qty
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("give shares: %v", err)
	}
}

func TestMarketDocumentRoundTrip(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$ABC", "u1", "100.00")
	mustList(t, s, "$XYZ", "", "12.5")
	for i := 0; i < 5; i++ {
		if _, err := s.Tick(ctx, testNow.Add(time.Duration(i)*45*time.Minute)); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}

	m, err := s.Market(ctx)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	first, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := decodeMarket(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("round trip changed document:\n%s\n%s", first, second)
	}
	for sym, p := range m.Prices {
		if !back.Prices[sym].Equal(p) {
			t.Fatalf("%s price got %s want %s", sym, back.Prices[sym], p)
		}
	}
	if !back.RegimeChangedAt.Equal(m.RegimeChangedAt) || back.Regime != m.Regime {
		t.Fatalf("regime not preserved")
	}
}

func TestInitRegeneratesCorruptMarket(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.Put(ledger.KeyMarket, []byte(`{"prices": not json`))
	s, _ := newTestService(t, store)
	s.econ.SeedSymbols = []string{"$AAA", "bbb"}

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	m, err := s.Market(context.Background())
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if len(m.Symbols) != 2 || m.Symbols[1] != "$BBB" {
		t.Fatalf("expected seeded symbols, got %v", m.Symbols)
	}
	if m.Regime != RegimeStable {
		t.Fatalf("expected stable regime, got %s", m.Regime)
	}
}

func TestCorruptUsersIsStoreError(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.Put(ledger.KeyUsers, []byte(`[1,2`))
	s, _ := newTestService(t, store)
	if err := s.Init(context.Background()); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("expected ErrStoreIO, got %v", err)
	}
}

func TestInitSweepsNonPositivePrices(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$DEAD", "", "5")
	giveShares(t, s, map[string]map[string]int{"u1": {"$DEAD": 3}})

	m, _, _ := s.loadMarket(ctx)
	m.Prices["$DEAD"] = decimal.Zero
	if err := s.save(ctx, m, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	after, _ := s.Market(ctx)
	if after.listed("$DEAD") {
		t.Fatalf("expected $DEAD to be swept")
	}
	acct, _ := s.Account(ctx, "u1")
	if _, ok := acct.Inventory["$DEAD"]; ok {
		t.Fatalf("expected holdings stripped")
	}
}

func TestFailedSaveIsNotCommitted(t *testing.T) {
	store := ledger.NewMemoryStore()
	s, _ := newTestService(t, store)
	ctx := context.Background()
	mustList(t, s, "$ABC", "", "10")
	mustFund(t, s, "u1", "100")

	store.FailSave = errors.New("disk full")
	if _, err := s.Buy(ctx, "$ABC", "u1", testNow); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("expected ErrStoreIO, got %v", err)
	}
	store.FailSave = nil

	acct, _ := s.Account(ctx, "u1")
	if !acct.Balance.Equal(dec("150")) || acct.Inventory["$ABC"] != 0 {
		t.Fatalf("failed buy leaked state: balance=%s inv=%v", acct.Balance, acct.Inventory)
	}
	m, _ := s.Market(ctx)
	if !m.Prices["$ABC"].Equal(dec("10")) {
		t.Fatalf("failed buy moved price to %s", m.Prices["$ABC"])
	}
}

// partialStore lands the first document of the next Save and then fails,
// the way a crash between two file writes would.
type partialStore struct {
	*ledger.MemoryStore
	failNext bool
}

func (p *partialStore) Save(ctx context.Context, docs ...ledger.Document) error {
	if p.failNext {
		p.failNext = false
		if len(docs) > 0 {
			_ = p.MemoryStore.Save(ctx, docs[0])
		}
		return errors.New("second write failed")
	}
	return p.MemoryStore.Save(ctx, docs...)
}

func TestRebrandRollsBackPartialWrite(t *testing.T) {
	store := &partialStore{MemoryStore: ledger.NewMemoryStore()}
	s, _ := newTestService(t, store)
	ctx := context.Background()
	mustFund(t, s, "u1", "2000")
	if _, err := s.CreateStock(ctx, "u1", "$OLD"); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := s.Account(ctx, "u1")

	store.failNext = true
	if _, err := s.RebrandStock(ctx, "u1", "$NEW"); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("expected ErrStoreIO, got %v", err)
	}

	m, _ := s.Market(ctx)
	if !m.listed("$OLD") || m.listed("$NEW") {
		t.Fatalf("rename partially applied: %v", m.Symbols)
	}
	after, _ := s.Account(ctx, "u1")
	if !after.Balance.Equal(before.Balance) {
		t.Fatalf("fee not refunded: before=%s after=%s", before.Balance, after.Balance)
	}
}

func TestMissingMarketIsGeneratedOnce(t *testing.T) {
	store := ledger.NewMemoryStore()
	s, _ := newTestService(t, store)
	s.econ.SeedSymbols = []string{"$AAA", "$BBB"}
	ctx := context.Background()

	first, err := s.Market(ctx)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if _, err := store.Load(ctx, ledger.KeyMarket); err != nil {
		t.Fatalf("generated market not persisted: %v", err)
	}
	second, err := s.Market(ctx)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	for _, sym := range []string{"$AAA", "$BBB"} {
		if !first.Prices[sym].Equal(second.Prices[sym]) {
			t.Fatalf("%s changed between reads: %s then %s", sym, first.Prices[sym], second.Prices[sym])
		}
	}
	if !first.RegimeMin.Equal(second.RegimeMin) || !first.RegimeMax.Equal(second.RegimeMax) {
		t.Fatalf("regime interval changed between reads")
	}
}

func TestRegeneratedMarketDropsStaleHoldings(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.Put(ledger.KeyMarket, []byte(`{"prices": not json`))
	store.Put(ledger.KeyUsers, []byte(`{"u1":{"balance":"50","inventory":{"$GONE":2,"$AAA":1},"purchaseDates":{"$GONE":["2026-03-01"],"$AAA":["2026-03-02"]}}}`))
	s, _ := newTestService(t, store)
	s.econ.SeedSymbols = []string{"$AAA"}
	ctx := context.Background()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	acct, _ := s.Account(ctx, "u1")
	if _, ok := acct.Inventory["$GONE"]; ok {
		t.Fatalf("unlisted holding survived regeneration: %v", acct.Inventory)
	}
	if _, ok := acct.PurchaseDates["$GONE"]; ok {
		t.Fatalf("unlisted purchase log survived regeneration: %v", acct.PurchaseDates)
	}
	if acct.Inventory["$AAA"] != 1 || len(acct.PurchaseDates["$AAA"]) != 1 {
		t.Fatalf("listed holding lost: %+v", acct)
	}

	mustList(t, s, "$GONE", "", "10")
	acct, _ = s.Account(ctx, "u1")
	if acct.Inventory["$GONE"] != 0 {
		t.Fatalf("relisted symbol revived old shares: %d", acct.Inventory["$GONE"])
	}
}
