package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RegimeProfile describes one market regime: how likely it is to be drawn and
// the ranges its per-tick (min, max) price change interval is sampled from.
type RegimeProfile struct {
	Name    string  `yaml:"name"`
	Weight  float64 `yaml:"weight"`
	MinLow  float64 `yaml:"min_low"`
	MinHigh float64 `yaml:"min_high"`
	MaxLow  float64 `yaml:"max_low"`
	MaxHigh float64 `yaml:"max_high"`
}

// Economy holds every tunable number of the exchange. Values shipped here are
// the defaults; an economy YAML file may override any subset of them.
type Economy struct {
	StartingBalance float64 `yaml:"starting_balance"`

	DailyCap           float64 `yaml:"daily_cap"`
	DailyRewardMin     float64 `yaml:"daily_reward_min"`
	DailyRewardMax     float64 `yaml:"daily_reward_max"`
	MessageRewardMin   int     `yaml:"message_reward_min"`
	MessageRewardMax   int     `yaml:"message_reward_max"`
	ReactionAuthorMin  int     `yaml:"reaction_author_min"`
	ReactionAuthorMax  int     `yaml:"reaction_author_max"`
	ReactionReactorMin int     `yaml:"reaction_reactor_min"`
	ReactionReactorMax int     `yaml:"reaction_reactor_max"`

	SellingFee float64 `yaml:"selling_fee"`
	RebrandFee float64 `yaml:"rebrand_fee"`
	IPOCost    float64 `yaml:"ipo_cost"`

	NewStockMinPrice float64 `yaml:"new_stock_min_price"`
	NewStockMaxPrice float64 `yaml:"new_stock_max_price"`
	BuyImpactMin     float64 `yaml:"buy_impact_min"`
	BuyImpactMax     float64 `yaml:"buy_impact_max"`
	SellImpactMin    float64 `yaml:"sell_impact_min"`
	SellImpactMax    float64 `yaml:"sell_impact_max"`
	HistoryCap       int     `yaml:"history_cap"`

	RegimeCooldown time.Duration   `yaml:"regime_cooldown"`
	Regimes        []RegimeProfile `yaml:"regimes"`

	TopHolderPercents []float64 `yaml:"top_holder_percents"`
	CreatorPercent    float64   `yaml:"creator_percent"`

	DecayThreshold int     `yaml:"decay_threshold"`
	DecayPercent   float64 `yaml:"decay_percent"`
	DecayFloor     float64 `yaml:"decay_floor"`
	DecayBuffer    int     `yaml:"decay_buffer"`

	SeedSymbols []string `yaml:"seed_symbols"`
}

// regimeNames are the regimes the exchange knows how to draw and force.
var regimeNames = map[string]bool{
	"stable":   true,
	"bull":     true,
	"bear":     true,
	"volatile": true,
	"crash":    true,
}

func DefaultEconomy() Economy {
	return Economy{
		StartingBalance:    50,
		DailyCap:           60,
		DailyRewardMin:     15,
		DailyRewardMax:     100,
		MessageRewardMin:   1,
		MessageRewardMax:   3,
		ReactionAuthorMin:  2,
		ReactionAuthorMax:  5,
		ReactionReactorMin: 1,
		ReactionReactorMax: 2,
		SellingFee:         7,
		RebrandFee:         500,
		IPOCost:            1000,
		NewStockMinPrice:   80,
		NewStockMaxPrice:   90,
		BuyImpactMin:       3,
		BuyImpactMax:       9,
		SellImpactMin:      3,
		SellImpactMax:      9,
		HistoryCap:         175,
		RegimeCooldown:     9 * time.Hour,
		Regimes: []RegimeProfile{
			{Name: "bear", Weight: 0.20, MinLow: -5, MinHigh: -1, MaxLow: -1, MaxHigh: 2},
			{Name: "bull", Weight: 0.20, MinLow: -1, MinHigh: 1, MaxLow: 2, MaxHigh: 5},
			{Name: "volatile", Weight: 0.20, MinLow: -7, MinHigh: -3, MaxLow: 3, MaxHigh: 7},
			{Name: "stable", Weight: 0.35, MinLow: -3, MinHigh: -1, MaxLow: 1, MaxHigh: 3},
			{Name: "crash", Weight: 0.05, MinLow: -15, MinHigh: -8, MaxLow: -8, MaxHigh: -3},
		},
		TopHolderPercents: []float64{1.0, 0.5, 0.25},
		CreatorPercent:    0.5,
		DecayThreshold:    15,
		DecayPercent:      5,
		DecayFloor:        0.01,
		DecayBuffer:       3,
	}
}

// LoadEconomyFile overlays the YAML file at path onto base. Keys missing from
// the file keep their base value.
func LoadEconomyFile(path string, base Economy) (Economy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read economy file: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return base, fmt.Errorf("parse economy file: %w", err)
	}
	return out, nil
}

func (e Economy) Validate() error {
	if e.NewStockMinPrice <= 0 || e.NewStockMaxPrice < e.NewStockMinPrice {
		return fmt.Errorf("new stock price range must be positive and ordered")
	}
	if e.BuyImpactMin < 0 || e.BuyImpactMax < e.BuyImpactMin {
		return fmt.Errorf("buy impact range must be non-negative and ordered")
	}
	if e.SellImpactMin < 0 || e.SellImpactMax < e.SellImpactMin {
		return fmt.Errorf("sell impact range must be non-negative and ordered")
	}
	if e.HistoryCap < 2 {
		return fmt.Errorf("history cap must be at least 2")
	}
	if len(e.Regimes) == 0 {
		return fmt.Errorf("at least one market regime is required")
	}
	var total float64
	for _, r := range e.Regimes {
		if !regimeNames[r.Name] {
			return fmt.Errorf("unknown regime %q (want stable, bull, bear, volatile or crash)", r.Name)
		}
		if r.Weight < 0 {
			return fmt.Errorf("regime %s has a negative weight", r.Name)
		}
		total += r.Weight
	}
	if total <= 0 {
		return fmt.Errorf("regime weights must sum to a positive value")
	}
	if e.DecayThreshold < 0 {
		return fmt.Errorf("decay threshold must not be negative")
	}
	if e.DecayBuffer < 0 {
		return fmt.Errorf("decay buffer must not be negative")
	}
	if e.DecayPercent < 0 || e.DecayPercent >= 100 {
		return fmt.Errorf("decay percent must be in [0, 100)")
	}
	if e.DecayFloor <= 0 {
		return fmt.Errorf("decay floor must be positive")
	}
	return nil
}
