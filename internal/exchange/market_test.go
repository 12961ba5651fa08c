package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestListStockConflicts(t *testing.T) {
	s, rec := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$ABC", "u1", "50")

	p := dec("10")
	tests := []struct {
		name    string
		symbol  string
		creator string
		want    error
	}{
		{name: "duplicate symbol", symbol: "$ABC", creator: "u2", want: ErrDuplicateSymbol},
		{name: "duplicate creator", symbol: "$DEF", creator: "u1", want: ErrDuplicateCreator},
		{name: "bad symbol", symbol: "$A", creator: "u3", want: ErrInvalidSymbol},
		{name: "too long", symbol: "$ABCDEF", creator: "u3", want: ErrInvalidSymbol},
	}
	for _, tc := range tests {
		_, err := s.ListStock(ctx, tc.symbol, tc.creator, &p)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != EventListed {
		t.Fatalf("expected one listed event, got %v", kinds)
	}
}

func TestListStockRandomPriceInRange(t *testing.T) {
	s, _ := newTestService(t, nil)
	st, err := s.ListStock(context.Background(), "rnd", "", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if st.Symbol != "$RND" {
		t.Fatalf("expected normalized symbol, got %s", st.Symbol)
	}
	if st.Price.LessThan(dec("80")) || st.Price.GreaterThan(dec("90")) {
		t.Fatalf("price %s outside new listing range", st.Price)
	}
	if len(st.History) != 1 || !st.History[0].Equal(st.Price) {
		t.Fatalf("history must be seeded with the price")
	}
}

func TestOneStockPerCreator(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustFund(t, s, "u1", "5000")

	if _, err := s.CreateStock(ctx, "u1", "$ONE"); err != nil {
		t.Fatalf("first ipo: %v", err)
	}
	if _, err := s.CreateStock(ctx, "u1", "$TWO"); !errors.Is(err, ErrDuplicateCreator) {
		t.Fatalf("expected ErrDuplicateCreator, got %v", err)
	}
	acct, _ := s.Account(ctx, "u1")
	if !acct.Balance.Equal(dec("4050")) {
		t.Fatalf("expected one IPO charge, balance=%s", acct.Balance)
	}

	m, _ := s.Market(ctx)
	owned := map[string]int{}
	for user := range m.CreatorOf {
		owned[user]++
	}
	for user, n := range owned {
		if n > 1 {
			t.Fatalf("user %s owns %d stocks", user, n)
		}
	}
}

func TestCreateStockNeedsFunds(t *testing.T) {
	s, _ := newTestService(t, nil)
	if _, err := s.CreateStock(context.Background(), "poor", "$POOR"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	m, _ := s.Market(context.Background())
	if m.listed("$POOR") {
		t.Fatalf("failed IPO must not list")
	}
}

func TestRenameMigratesHoldings(t *testing.T) {
	s, rec := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$OLD", "c1", "20")
	mustList(t, s, "$TAKEN", "", "20")
	mustFund(t, s, "u1", "100")
	if _, err := s.Buy(ctx, "$OLD", "u1", testNow); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, err := s.RenameStock(ctx, "$OLD", "$TAKEN"); !errors.Is(err, ErrDuplicateSymbol) {
		t.Fatalf("expected ErrDuplicateSymbol, got %v", err)
	}
	if _, err := s.RenameStock(ctx, "$NOPE", "$NEW"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := s.RenameStock(ctx, "$OLD", "$NEW"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	m, _ := s.Market(ctx)
	if m.listed("$OLD") || !m.listed("$NEW") {
		t.Fatalf("symbols not migrated: %v", m.Symbols)
	}
	if m.Symbols[0] != "$NEW" {
		t.Fatalf("rename must keep the listing slot, got %v", m.Symbols)
	}
	if _, ok := m.Prices["$OLD"]; ok {
		t.Fatalf("old price left behind")
	}
	if len(m.History["$NEW"]) != 2 {
		t.Fatalf("history not migrated: %v", m.History["$NEW"])
	}
	if m.CreatorOf["c1"] != "$NEW" {
		t.Fatalf("creator not migrated: %v", m.CreatorOf)
	}
	acct, _ := s.Account(ctx, "u1")
	if acct.Inventory["$NEW"] != 1 || len(acct.PurchaseDates["$NEW"]) != 1 {
		t.Fatalf("account not migrated: %+v", acct)
	}
	if _, ok := acct.Inventory["$OLD"]; ok {
		t.Fatalf("old inventory key left behind")
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != EventRenamed {
		t.Fatalf("expected renamed event, got %v", kinds)
	}
}

func TestRebrandChargesFee(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := s.RebrandStock(ctx, "u1", "$NEW"); !errors.Is(err, ErrNoStock) {
		t.Fatalf("expected ErrNoStock, got %v", err)
	}
	mustFund(t, s, "u1", "1200")
	if _, err := s.CreateStock(ctx, "u1", "$MINE"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.RebrandStock(ctx, "u1", "$NEW"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds with 250 left, got %v", err)
	}
	mustFund(t, s, "u1", "500")
	st, err := s.RebrandStock(ctx, "u1", "$NEW")
	if err != nil {
		t.Fatalf("rebrand: %v", err)
	}
	if st.Symbol != "$NEW" || st.Creator != "u1" {
		t.Fatalf("unexpected stock %+v", st)
	}
	acct, _ := s.Account(ctx, "u1")
	if !acct.Balance.Equal(dec("250")) {
		t.Fatalf("expected 250 after fee, got %s", acct.Balance)
	}
}

func TestAdminPriceEdits(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$ABC", "", "10")

	st, err := s.AdjustPrice(ctx, "$ABC", dec("-2.555"))
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !st.Price.Equal(dec("7.45")) {
		t.Fatalf("adjust got %s", st.Price)
	}
	if _, err := s.AdjustPrice(ctx, "$ABC", dec("-7.45")); !errors.Is(err, ErrNonPositiveResult) {
		t.Fatalf("expected ErrNonPositiveResult, got %v", err)
	}
	if _, err := s.SetPrice(ctx, "$ABC", dec("-1")); !errors.Is(err, ErrNonPositiveResult) {
		t.Fatalf("expected ErrNonPositiveResult, got %v", err)
	}
	if _, err := s.SetPrice(ctx, "$NONE", dec("5")); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := s.SetPrice(ctx, "$ABC", dec("33")); err != nil {
		t.Fatalf("set: %v", err)
	}
	m, _ := s.Market(ctx)
	h := m.History["$ABC"]
	if len(h) != 3 || !h[1].Equal(dec("7.45")) || !h[2].Equal(dec("33")) {
		t.Fatalf("unexpected history %v", h)
	}
}

// Scenario A: a buy pays the current price, logs today's purchase and moves
// the price up by the buy impact.
func TestBuyScenario(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$ABC", "", "100.00")
	mustFund(t, s, "u1", "100")

	res, err := s.Buy(ctx, "$ABC", "u1", testNow)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.Price.Equal(dec("100")) {
		t.Fatalf("purchase price got %s want 100", res.Price)
	}
	if res.NewPrice.LessThan(dec("103")) || res.NewPrice.GreaterThan(dec("109")) {
		t.Fatalf("buy impact out of range: %s", res.NewPrice)
	}
	if !res.Balance.Equal(dec("50")) || res.Shares != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	acct, _ := s.Account(ctx, "u1")
	dates := acct.PurchaseDates["$ABC"]
	if len(dates) != 1 || dates[0] != "2026-03-10" {
		t.Fatalf("purchase log got %v", dates)
	}
	m, _ := s.Market(ctx)
	if h := m.History["$ABC"]; len(h) != 2 || !h[1].Equal(res.NewPrice) {
		t.Fatalf("history not appended: %v", h)
	}

	if _, err := s.Buy(ctx, "$ABC", "u2", testNow); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := s.Buy(ctx, "$NOPE", "u1", testNow); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

// Scenario E: a same-day round trip pays the selling fee, a later sale does not.
func TestSellFeeScenario(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$XYZ", "", "20.00")
	mustFund(t, s, "u1", "100")

	if _, err := s.Buy(ctx, "$XYZ", "u1", testNow); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := s.Buy(ctx, "$XYZ", "u1", testNow); err != nil {
		t.Fatalf("buy: %v", err)
	}
	m, _ := s.Market(ctx)
	atSale := m.Prices["$XYZ"]

	res, err := s.Sell(ctx, "$XYZ", "u1", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.SameDaySale || !res.Fee.Equal(dec("7")) {
		t.Fatalf("expected same-day fee, got %+v", res)
	}
	if !res.SalePrice.Equal(atSale.Sub(dec("7"))) {
		t.Fatalf("sale price got %s want %s", res.SalePrice, atSale.Sub(dec("7")))
	}
	acct, _ := s.Account(ctx, "u1")
	if len(acct.PurchaseDates["$XYZ"]) != 1 {
		t.Fatalf("exactly one purchase record must be consumed, got %v", acct.PurchaseDates["$XYZ"])
	}

	// Move the remaining purchase to an earlier day.
	err = s.mutateUsers(ctx, func(u Users) error {
		u["u1"].PurchaseDates["$XYZ"] = []string{"2026-03-01"}
		return nil
	})
	if err != nil {
		t.Fatalf("rewrite purchase log: %v", err)
	}
	m, _ = s.Market(ctx)
	atSale = m.Prices["$XYZ"]
	res, err = s.Sell(ctx, "$XYZ", "u1", testNow.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("second sell: %v", err)
	}
	if res.SameDaySale || !res.Fee.IsZero() || !res.SalePrice.Equal(atSale) {
		t.Fatalf("expected no fee on a later day, got %+v", res)
	}
	acct, _ = s.Account(ctx, "u1")
	if _, ok := acct.Inventory["$XYZ"]; ok {
		t.Fatalf("zero inventory entry must be removed")
	}

	if _, err := s.Sell(ctx, "$XYZ", "u1", testNow); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestSellTriggersBankruptcy(t *testing.T) {
	s, rec := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$LOW", "c1", "2.50")
	giveShares(t, s, map[string]map[string]int{
		"u1": {"$LOW": 2},
		"u2": {"$LOW": 4},
	})

	res, err := s.Sell(ctx, "$LOW", "u1", testNow)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.BankruptcyTriggered {
		t.Fatalf("sell impact of at least 3 must bankrupt a 2.50 stock")
	}
	if !res.SalePrice.Equal(dec("2.5")) {
		t.Fatalf("seller still gets the pre-impact price, got %s", res.SalePrice)
	}
	want := []ShareLoss{{UserID: "u1", SharesLost: 1}, {UserID: "u2", SharesLost: 4}}
	if len(res.Losses) != len(want) {
		t.Fatalf("losses got %v want %v", res.Losses, want)
	}
	for i := range want {
		if res.Losses[i] != want[i] {
			t.Fatalf("losses got %v want %v", res.Losses, want)
		}
	}

	m, _ := s.Market(ctx)
	if m.listed("$LOW") || len(m.CreatorOf) != 0 {
		t.Fatalf("stock not delisted: %+v", m)
	}
	if _, ok := m.History["$LOW"]; ok {
		t.Fatalf("history left behind")
	}
	if kinds := rec.kinds(); kinds[len(kinds)-1] != EventBankruptcy {
		t.Fatalf("expected bankruptcy event, got %v", kinds)
	}
}

func TestBankruptIsIdempotent(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$GONE", "c1", "10")
	giveShares(t, s, map[string]map[string]int{"u1": {"$GONE": 3}})

	losses, err := s.Bankrupt(ctx, "$GONE")
	if err != nil {
		t.Fatalf("bankrupt: %v", err)
	}
	if len(losses) != 1 || losses[0].SharesLost != 3 {
		t.Fatalf("unexpected losses %v", losses)
	}
	before, _ := s.store.Load(ctx, "market")
	losses, err = s.Bankrupt(ctx, "$GONE")
	if err != nil {
		t.Fatalf("second bankrupt: %v", err)
	}
	if len(losses) != 0 {
		t.Fatalf("second bankrupt reported losses %v", losses)
	}
	after, _ := s.store.Load(ctx, "market")
	if string(before) != string(after) {
		t.Fatalf("second bankrupt changed state")
	}
}

func TestBankruptToleratesPartialState(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$HALF", "", "10")
	m, _, _ := s.loadMarket(ctx)
	delete(m.Prices, "$HALF")
	if err := s.save(ctx, m, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Bankrupt(ctx, "$HALF"); err != nil {
		t.Fatalf("bankrupt: %v", err)
	}
	after, _ := s.Market(ctx)
	if after.listed("$HALF") || after.History["$HALF"] != nil {
		t.Fatalf("partial state not cleaned: %+v", after)
	}
}

// Scenario B: a crash interval drives a cheap stock to zero within a few
// ticks, and the report names every holder.
func TestCrashTickBankrupts(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$CHP", "", "8.00")
	mustList(t, s, "$BIG", "", "500.00")
	giveShares(t, s, map[string]map[string]int{
		"a": {"$CHP": 2},
		"b": {"$CHP": 1, "$BIG": 1},
	})
	pinRegime(t, s, RegimeCrash, -10, -5)

	report, err := s.Tick(ctx, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.RegimeChanged {
		t.Fatalf("regime must not change inside the cooldown")
	}
	var chp PriceUpdate
	for _, up := range report.Updated {
		if up.Symbol == "$CHP" {
			chp = up
		}
	}
	if chp.New.GreaterThan(dec("4.00")) {
		t.Fatalf("crash tick left price at %s", chp.New)
	}

	for i := 0; i < 3 && report.Bankruptcies["$CHP"] == nil; i++ {
		report, err = s.Tick(ctx, testNow.Add(time.Duration(i+2)*time.Minute))
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	losses, ok := report.Bankruptcies["$CHP"]
	if !ok {
		t.Fatalf("expected $CHP to go bankrupt")
	}
	if len(losses) != 2 || losses[0].UserID != "a" || losses[1].UserID != "b" {
		t.Fatalf("report must list every holder, got %v", losses)
	}

	m, _ := s.Market(ctx)
	if m.listed("$CHP") {
		t.Fatalf("$CHP still listed")
	}
	acct, _ := s.Account(ctx, "b")
	if _, ok := acct.Inventory["$CHP"]; ok || acct.Inventory["$BIG"] != 1 {
		t.Fatalf("holdings wrong after bankruptcy: %v", acct.Inventory)
	}
}

func TestTicksKeepListedPricesPositive(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	for i, sym := range []string{"$AA", "$BB", "$CC", "$DD", "$EE"} {
		mustList(t, s, sym, "", decimal.NewFromInt(int64(5+i*20)).String())
	}
	giveShares(t, s, map[string]map[string]int{"u1": {"$AA": 1, "$CC": 2}})
	pinRegime(t, s, RegimeCrash, -15, -3)

	for i := 0; i < 40; i++ {
		if _, err := s.Tick(ctx, testNow.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		m, _ := s.Market(ctx)
		for _, sym := range m.Symbols {
			if !m.Prices[sym].IsPositive() {
				t.Fatalf("tick %d: listed %s at %s", i, sym, m.Prices[sym])
			}
			if len(m.History[sym]) == 0 {
				t.Fatalf("tick %d: %s has no history", i, sym)
			}
		}
		acct, _ := s.Account(ctx, "u1")
		for sym := range acct.Inventory {
			if !m.listed(sym) {
				t.Fatalf("tick %d: u1 holds delisted %s", i, sym)
			}
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s, _ := newTestService(t, nil)
	s.econ.HistoryCap = 5
	ctx := context.Background()
	mustList(t, s, "$CAP", "", "1000")
	pinRegime(t, s, RegimeBull, 1, 2)
	for i := 0; i < 12; i++ {
		if _, err := s.Tick(ctx, testNow.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	m, _ := s.Market(ctx)
	h := m.History["$CAP"]
	if len(h) != 5 {
		t.Fatalf("history length %d want 5", len(h))
	}
	if !h[len(h)-1].Equal(m.Prices["$CAP"]) {
		t.Fatalf("last history entry must be the current price")
	}
}

func TestEmergencySweep(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	mustList(t, s, "$OK", "", "10")
	mustList(t, s, "$BAD", "", "10")
	m, _, _ := s.loadMarket(ctx)
	m.Prices["$BAD"] = dec("-1")
	if err := s.save(ctx, m, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.EmergencySweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := out["$BAD"]; !ok || len(out) != 1 {
		t.Fatalf("unexpected sweep result %v", out)
	}
	out, err = s.EmergencySweep(ctx)
	if err != nil || len(out) != 0 {
		t.Fatalf("second sweep should do nothing: %v %v", out, err)
	}
}
