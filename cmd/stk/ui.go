package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"ch3fx/internal/exchange"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptSymbol(label string) (string, error) {
	for {
		raw, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol := exchange.NormalizeSymbol(raw)
		if err := exchange.ValidateSymbol(symbol); err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func promptAmount(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		v, err := parseAmount(text)
		if err != nil {
			printWarn("Enter a valid amount.")
			continue
		}
		if !v.IsPositive() {
			printWarn("Amount must be greater than zero.")
			continue
		}
		return v, nil
	}
}

func renderMarket(m exchange.MarketSummary) {
	accent.Println("\n== MARKET ==")
	fmt.Printf("Regime:       %s (%s%% to %s%% per tick)\n",
		regimeLabel(m.Regime.Regime), m.Regime.Min.StringFixed(2), m.Regime.Max.StringFixed(2))
	fmt.Printf("Since:        %s\n", m.Regime.ChangedAt.Local().Format("2006-01-02 15:04"))
	if !m.NextRegime.IsZero() {
		fmt.Printf("Next regime:  %s\n", m.NextRegime.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("Listed:       %d\n", m.Listed)
	fmt.Printf("Index:        %s\n", formatMoney(m.Index))
	fmt.Printf("Breadth:      %s up, %s down, %d flat\n",
		success.Sprint(m.Up), danger.Sprint(m.Down), m.Flat)
	fmt.Println()
}

func renderStocksList(stocks []exchange.Stock) {
	accent.Println("\n== STOCK MARKET ==")
	if len(stocks) == 0 {
		printInfo("No stocks listed.")
		return
	}
	fmt.Printf("%-8s %12s  %-20s\n", "SYMBOL", "PRICE", "CREATOR")
	for _, s := range stocks {
		creator := "-"
		if s.Creator != "" {
			creator = s.Creator
		}
		fmt.Printf("%-8s %12s  %-20s\n", s.Symbol, formatMoney(s.Price), truncate(creator, 20))
	}
	fmt.Println()
}

func renderStockDetail(d exchange.StockInfo) {
	accent.Printf("\n== %s ==\n", d.Symbol)
	fmt.Printf("Price:        %s\n", formatMoney(d.Price))
	if d.Creator != "" {
		fmt.Printf("Creator:      %s\n", d.Creator)
	}
	fmt.Printf("Day:          %s\n", colorizePercent(d.DayChangePct))
	fmt.Printf("Week:         %s\n", colorizePercent(d.WeekChangePct))
	fmt.Printf("Trend:        %s\n", d.Trend)
	fmt.Printf("Holders:      %d\n", d.Holders)
	fmt.Printf("Regime:       %s\n", regimeLabel(d.Regime))
	if len(d.History) > 1 {
		fmt.Printf("History:      %s\n", sparkline(d.History, 48))
	}
	fmt.Println()
}

func renderPerformers(rows []exchange.Performer, timeframe string) {
	accent.Printf("\n== TOP PERFORMERS (%s) ==\n", strings.ToUpper(timeframe))
	if len(rows) == 0 {
		printInfo("No stocks listed.")
		return
	}
	fmt.Printf("%-4s %-8s %12s %10s\n", "#", "SYMBOL", "PRICE", "CHANGE")
	for i, r := range rows {
		fmt.Printf("%-4d %-8s %12s %10s\n", i+1, r.Symbol, formatMoney(r.Price), colorizePercent(r.ChangePct))
	}
	fmt.Println()
}

func renderDecayRisk(rows []exchange.DecayRisk) {
	accent.Println("\n== DECAY RISK ==")
	if len(rows) == 0 {
		printInfo("Every stock is popular enough to avoid decay.")
		return
	}
	fmt.Printf("%-8s %10s %8s\n", "SYMBOL", "HOLDINGS", "RISK")
	for _, r := range rows {
		risk := fmt.Sprintf("%.0f%%", r.Risk)
		if r.Risk >= 100 {
			risk = danger.Sprint(risk)
		} else {
			risk = warn.Sprint(risk)
		}
		fmt.Printf("%-8s %10d %8s\n", r.Symbol, r.Popularity, risk)
	}
	fmt.Println()
}

func renderBuyResult(out exchange.BuyResult) {
	printSuccess(fmt.Sprintf("Bought 1 %s for %s.", out.Symbol, formatMoney(out.Price)))
	fmt.Printf("Price now %s. You hold %d. Wallet %s.\n",
		formatMoney(out.NewPrice), out.Shares, formatMoney(out.Balance))
}

func renderSellResult(out exchange.SellResult) {
	printSuccess(fmt.Sprintf("Sold 1 %s for %s.", out.Symbol, formatMoney(out.SalePrice)))
	if out.SameDaySale {
		printWarn(fmt.Sprintf("Same-day sale fee: %s.", formatMoney(out.Fee)))
	}
	fmt.Printf("Price now %s. You hold %d. Wallet %s.\n",
		formatMoney(out.NewPrice), out.Shares, formatMoney(out.Balance))
	if out.BankruptcyTriggered {
		printError(fmt.Sprintf("%s went bankrupt and was delisted.", out.Symbol))
	}
}

func renderPortfolio(p exchange.Portfolio) {
	accent.Printf("\n== PORTFOLIO %s ==\n", p.UserID)
	fmt.Printf("Wallet:        %s\n", formatMoney(p.Balance))
	fmt.Printf("Bank:          %s\n", formatMoney(p.Bank))
	fmt.Printf("Holdings:      %s\n", formatMoney(p.Value))
	fmt.Printf("Net worth:     %s\n", colorizeMoney(p.NetWorth))
	fmt.Printf("Earned today:  %s\n", formatMoney(p.EarnedToday))
	if p.OwnStock != "" {
		fmt.Printf("Own stock:     %s\n", p.OwnStock)
	}
	if p.LastDaily != "" {
		fmt.Printf("Last daily:    %s\n", p.LastDaily)
	}
	if p.LastDividend != nil {
		fmt.Printf("Last dividend: %s on %s\n", formatMoney(p.LastDividend.Amount), p.LastDividend.Date)
	}

	fmt.Println()
	accent.Println("Positions")
	if len(p.Positions) == 0 {
		printInfo("No shares held.")
		fmt.Println()
		return
	}
	fmt.Printf("%-8s %8s %12s %14s\n", "SYMBOL", "SHARES", "PRICE", "VALUE")
	for _, pos := range p.Positions {
		fmt.Printf("%-8s %8d %12s %14s\n", pos.Symbol, pos.Shares, formatMoney(pos.Price), formatMoney(pos.Value))
	}
	fmt.Println()
}

func renderLeaderboard(rows []exchange.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No accounts yet.")
		return
	}
	fmt.Printf("%-6s %-20s %12s %12s %12s %14s\n", "RANK", "USER", "WALLET", "BANK", "STOCKS", "NET WORTH")
	for _, r := range rows {
		fmt.Printf("%-6d %-20s %12s %12s %12s %14s\n",
			r.Rank,
			truncate(r.UserID, 20),
			formatMoney(r.Balance),
			formatMoney(r.Bank),
			formatMoney(r.Portfolio),
			formatMoney(r.NetWorth),
		)
	}
	fmt.Println()
}

// renderRaw prints admin responses, whose shapes vary per route.
func renderRaw(raw map[string]any) error {
	if len(raw) == 0 {
		printSuccess("Done.")
		return nil
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func regimeLabel(r exchange.Regime) string {
	label := strings.ToUpper(string(r))
	switch r {
	case exchange.RegimeBull:
		return success.Sprint(label)
	case exchange.RegimeBear, exchange.RegimeCrash:
		return danger.Sprint(label)
	case exchange.RegimeVolatile:
		return warn.Sprint(label)
	default:
		return neutral.Sprint(label)
	}
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatMoney renders v as "$1,234.56" (or "-$1,234.56").
func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	whole, frac, _ := strings.Cut(v.StringFixed(2), ".")
	return fmt.Sprintf("%s$%s.%s", sign, comma(whole), frac)
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the last width points of history.
func sparkline(history []decimal.Decimal, width int) string {
	if len(history) > width {
		history = history[len(history)-width:]
	}
	if len(history) == 0 {
		return ""
	}
	lo, hi := history[0], history[0]
	for _, p := range history {
		lo = decimal.Min(lo, p)
		hi = decimal.Max(hi, p)
	}
	span := hi.Sub(lo)
	var b strings.Builder
	for _, p := range history {
		idx := 0
		if span.IsPositive() {
			f, _ := p.Sub(lo).Div(span).Float64()
			idx = int(f * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
