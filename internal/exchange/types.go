package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState is the persisted market document.
type MarketState struct {
	Prices          map[string]decimal.Decimal   `json:"prices"`
	History         map[string][]decimal.Decimal `json:"history"`
	Symbols         []string                     `json:"symbols"`
	CreatorOf       map[string]string            `json:"creatorOf"`
	Regime          Regime                       `json:"regime"`
	RegimeMin       decimal.Decimal              `json:"regimeMin"`
	RegimeMax       decimal.Decimal              `json:"regimeMax"`
	RegimeChangedAt time.Time                    `json:"regimeChangedAt"`
}

type DividendRecord struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Account is one user's entry in the persisted users document.
type Account struct {
	Balance       decimal.Decimal     `json:"balance"`
	Bank          decimal.Decimal     `json:"bank"`
	Inventory     map[string]int      `json:"inventory"`
	PurchaseDates map[string][]string `json:"purchaseDates"`
	Earned        decimal.Decimal     `json:"earned"`
	EarnDate      string              `json:"earnDate,omitempty"`
	LastDaily     string              `json:"lastDaily,omitempty"`
	LastDividend  *DividendRecord     `json:"lastDividend,omitempty"`
}

// Users is the persisted users document keyed by user ID.
type Users map[string]*Account

type ShareLoss struct {
	UserID     string `json:"user_id"`
	SharesLost int    `json:"shares_lost"`
}

type Holding struct {
	UserID string `json:"user_id"`
	Shares int    `json:"shares"`
}

type RegimeState struct {
	Regime    Regime          `json:"regime"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	ChangedAt time.Time       `json:"changed_at"`
}

type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Old    decimal.Decimal `json:"old"`
	New    decimal.Decimal `json:"new"`
}

type TickReport struct {
	Regime        RegimeState            `json:"regime"`
	RegimeChanged bool                   `json:"regime_changed"`
	Updated       []PriceUpdate          `json:"updated"`
	Bankruptcies  map[string][]ShareLoss `json:"bankruptcies"`
}

type Stock struct {
	Symbol  string            `json:"symbol"`
	Price   decimal.Decimal   `json:"price"`
	Creator string            `json:"creator,omitempty"`
	History []decimal.Decimal `json:"history,omitempty"`
}

type BuyResult struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	NewPrice decimal.Decimal `json:"new_price"`
	Shares   int             `json:"shares"`
	Balance  decimal.Decimal `json:"balance"`
}

type SellResult struct {
	Symbol              string          `json:"symbol"`
	SalePrice           decimal.Decimal `json:"sale_price"`
	Fee                 decimal.Decimal `json:"fee"`
	SameDaySale         bool            `json:"same_day_sale"`
	NewPrice            decimal.Decimal `json:"new_price"`
	Shares              int             `json:"shares"`
	Balance             decimal.Decimal `json:"balance"`
	BankruptcyTriggered bool            `json:"bankruptcy_triggered"`
	Losses              []ShareLoss     `json:"losses,omitempty"`
}

type DividendReport struct {
	Date         string                     `json:"date"`
	Totals       map[string]decimal.Decimal `json:"totals"`
	TopHolders   map[string]decimal.Decimal `json:"top_holders"`
	Creators     map[string]decimal.Decimal `json:"creators"`
	StocksPaying int                        `json:"stocks_paying"`
}

type DecayChange struct {
	Symbol     string          `json:"symbol"`
	Popularity int             `json:"popularity"`
	Old        decimal.Decimal `json:"old"`
	New        decimal.Decimal `json:"new"`
}

type DecayRisk struct {
	Symbol     string  `json:"symbol"`
	Popularity int     `json:"popularity"`
	Risk       float64 `json:"risk"`
}

type StockInfo struct {
	Symbol        string            `json:"symbol"`
	Price         decimal.Decimal   `json:"price"`
	Creator       string            `json:"creator,omitempty"`
	DayChangePct  float64           `json:"day_change_pct"`
	WeekChangePct float64           `json:"week_change_pct"`
	Trend         string            `json:"trend"`
	Holders       int               `json:"holders"`
	History       []decimal.Decimal `json:"history"`
	Regime        Regime            `json:"regime"`
}

type Performer struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ChangePct float64         `json:"change_pct"`
}

type MarketSummary struct {
	Regime     RegimeState     `json:"regime"`
	Listed     int             `json:"listed"`
	Index      decimal.Decimal `json:"index"`
	Up         int             `json:"up"`
	Down       int             `json:"down"`
	Flat       int             `json:"flat"`
	NextRegime time.Time       `json:"next_regime_at"`
}

type LeaderboardRow struct {
	Rank      int             `json:"rank"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Bank      decimal.Decimal `json:"bank"`
	Portfolio decimal.Decimal `json:"portfolio"`
	NetWorth  decimal.Decimal `json:"net_worth"`
}

type Position struct {
	Symbol string          `json:"symbol"`
	Shares int             `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

type Portfolio struct {
	UserID       string          `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	Bank         decimal.Decimal `json:"bank"`
	OwnStock     string          `json:"own_stock,omitempty"`
	Positions    []Position      `json:"positions"`
	Value        decimal.Decimal `json:"value"`
	NetWorth     decimal.Decimal `json:"net_worth"`
	EarnedToday  decimal.Decimal `json:"earned_today"`
	LastDaily    string          `json:"last_daily,omitempty"`
	LastDividend *DividendRecord `json:"last_dividend,omitempty"`
}

type RewardResult struct {
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

type EventKind string

const (
	EventListed     EventKind = "listed"
	EventRenamed    EventKind = "renamed"
	EventRegime     EventKind = "regime"
	EventTick       EventKind = "tick"
	EventBankruptcy EventKind = "bankruptcy"
	EventDecay      EventKind = "decay"
	EventDividends  EventKind = "dividends"
	EventPriceSet   EventKind = "price_set"
)

// Event describes a committed market change for presentation layers.
type Event struct {
	Kind       EventKind       `json:"kind"`
	At         time.Time       `json:"at"`
	Symbol     string          `json:"symbol,omitempty"`
	PrevSymbol string          `json:"prev_symbol,omitempty"`
	Creator    string          `json:"creator,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Regime     *RegimeState    `json:"regime,omitempty"`
	Losses     []ShareLoss     `json:"losses,omitempty"`
	Tick       *TickReport     `json:"tick,omitempty"`
	Decay      []DecayChange   `json:"decay,omitempty"`
	Dividends  *DividendReport `json:"dividends,omitempty"`
}

type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}
