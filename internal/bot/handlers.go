package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"ch3fx/internal/exchange"
)

const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
	colorBlue  = 0x3498db
	colorGold  = 0xf1c40f
)

type handlerFunc func(ctx context.Context, userID string, cmd Command) (Reply, error)

type route struct {
	usage string
	admin bool
	fn    handlerFunc
}

func (b *Bot) routes() map[string]route {
	return map[string]route{
		"help":        {usage: "!help", fn: b.cmdHelp},
		"balance":     {usage: "!balance", fn: b.cmdBalance},
		"daily":       {usage: "!daily", fn: b.cmdDaily},
		"gift":        {usage: "!gift @user <amount>", fn: b.cmdGift},
		"deposit":     {usage: "!deposit <amount>", fn: b.cmdDeposit},
		"withdraw":    {usage: "!withdraw <amount>", fn: b.cmdWithdraw},
		"leaderboard": {usage: "!leaderboard", fn: b.cmdLeaderboard},
		"stocks":      {usage: "!stocks", fn: b.cmdStocks},
		"market":      {usage: "!market", fn: b.cmdMarket},
		"stock":       {usage: "!stock <@user|ticker>", fn: b.cmdStock},
		"top":         {usage: "!top [day|week|all]", fn: b.cmdTop},
		"risk":        {usage: "!risk", fn: b.cmdRisk},
		"portfolio":   {usage: "!portfolio [@user]", fn: b.cmdPortfolio},
		"buy":         {usage: "!buy <@user|ticker>", fn: b.cmdBuy},
		"sell":        {usage: "!sell <@user|ticker>", fn: b.cmdSell},
		"ipo":         {usage: "!ipo <symbol>", fn: b.cmdIPO},
		"rebrand":     {usage: "!rebrand <symbol>", fn: b.cmdRebrand},

		"admin_add":          {usage: "!admin_add <@user|ticker> <amount>", admin: true, fn: b.cmdAdminAdd},
		"admin_sub":          {usage: "!admin_sub <@user|ticker> <amount>", admin: true, fn: b.cmdAdminSub},
		"admin_set":          {usage: "!admin_set <@user|ticker> <price>", admin: true, fn: b.cmdAdminSet},
		"admin_bankrupt":     {usage: "!admin_bankrupt <@user|ticker>", admin: true, fn: b.cmdAdminBankrupt},
		"admin_remove_stock": {usage: "!admin_remove_stock <ticker>", admin: true, fn: b.cmdAdminBankrupt},
		"admin_gift":         {usage: "!admin_gift @user <amount>", admin: true, fn: b.cmdAdminGift},
		"admin_create_stock": {usage: "!admin_create_stock <symbol> [price] [@user]", admin: true, fn: b.cmdAdminCreate},
		"admin_rename":       {usage: "!admin_rename <ticker> <new symbol>", admin: true, fn: b.cmdAdminRename},
		"admin_market":       {usage: "!admin_market [stable|bull|bear|volatile|crash]", admin: true, fn: b.cmdAdminMarket},
		"admin_award_all":    {usage: "!admin_award_all <amount>", admin: true, fn: b.cmdAdminAwardAll},
		"admin_force_update": {usage: "!admin_force_update", admin: true, fn: b.cmdAdminTick},
		"admin_dividends":    {usage: "!admin_dividends", admin: true, fn: b.cmdAdminDividends},
		"admin_decay":        {usage: "!admin_decay", admin: true, fn: b.cmdAdminDecay},
		"admin_sweep":        {usage: "!admin_sweep", admin: true, fn: b.cmdAdminSweep},
	}
}

// Handle runs cmd for userID. It reports false for commands the bot does not
// know, so unrelated bots sharing the prefix are left alone.
func (b *Bot) Handle(ctx context.Context, userID string, cmd Command) (Reply, bool) {
	rt, ok := b.routes()[cmd.Name]
	if !ok {
		return Reply{}, false
	}
	if rt.admin && !b.allow.IsAdmin(userID) {
		b.log.Warn("admin command refused", "command", cmd.Name, "user_id", userID)
		return Reply{Text: "You don't have permission to use admin commands."}, true
	}
	reply, err := rt.fn(ctx, userID, cmd)
	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			return Reply{Text: "Usage: " + rt.usage}, true
		}
		if errors.Is(err, exchange.ErrStoreIO) {
			b.log.Error("command failed", "command", cmd.Name, "user_id", userID, "err", err)
		}
		return Reply{Text: errorText(err)}, true
	}
	return reply, true
}

type usageError struct{}

func (usageError) Error() string { return "usage" }

func need(cmd Command, n int) error {
	if len(cmd.Args) < n {
		return usageError{}
	}
	return nil
}

// errorText maps engine errors to chat replies.
func errorText(err error) string {
	switch {
	case errors.Is(err, exchange.ErrInsufficientFunds):
		return "You don't have enough USD for that."
	case errors.Is(err, exchange.ErrInsufficientShares):
		return "You don't own any shares of that stock."
	case errors.Is(err, exchange.ErrUnknownSymbol):
		return "That stock isn't listed."
	case errors.Is(err, exchange.ErrNoStock):
		return "That user doesn't have a stock."
	case errors.Is(err, exchange.ErrDuplicateSymbol):
		return "That ticker is already taken."
	case errors.Is(err, exchange.ErrDuplicateCreator):
		return "You already have a stock. Use !rebrand to change its ticker."
	case errors.Is(err, exchange.ErrAlreadyClaimed):
		return "You already claimed your daily reward today."
	case errors.Is(err, exchange.ErrStoreIO):
		return "The exchange couldn't save that change. Please try again."
	case errors.Is(err, exchange.ErrInvalidSymbol), errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrNonPositiveResult), errors.Is(err, exchange.ErrUnknownRegime),
		errors.Is(err, exchange.ErrInvalidTimeframe):
		return "⚠️ " + err.Error()
	default:
		return "An error occurred: " + err.Error()
	}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func (b *Bot) resolve(ctx context.Context, arg string) (string, error) {
	t, err := ParseTarget(arg)
	if err != nil {
		return "", err
	}
	return ResolveSymbol(ctx, b.exchange, t)
}

func (b *Bot) cmdHelp(_ context.Context, userID string, _ Command) (Reply, error) {
	var lines []string
	for _, name := range []string{
		"balance", "daily", "gift", "deposit", "withdraw", "stocks", "market", "stock", "top",
		"risk", "portfolio", "buy", "sell", "ipo", "rebrand", "leaderboard",
	} {
		lines = append(lines, "`"+b.routes()[name].usage+"`")
	}
	if b.allow.IsAdmin(userID) {
		lines = append(lines, "Admins: `!admin_add`, `!admin_sub`, `!admin_set`, `!admin_bankrupt`, `!admin_gift`, "+
			"`!admin_create_stock`, `!admin_remove_stock`, `!admin_rename`, `!admin_market`, `!admin_award_all`, "+
			"`!admin_force_update`, `!admin_dividends`, `!admin_decay`, `!admin_sweep`")
	}
	return Reply{Embed: &discordgo.MessageEmbed{
		Title:       "Exchange commands",
		Description: strings.Join(lines, "\n"),
		Color:       colorBlue,
	}}, nil
}

func (b *Bot) cmdBalance(ctx context.Context, userID string, _ Command) (Reply, error) {
	a, err := b.exchange.Account(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embed: &discordgo.MessageEmbed{
		Title: "Balance",
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Wallet", Value: money(a.Balance), Inline: true},
			{Name: "Bank", Value: money(a.Bank), Inline: true},
		},
	}}, nil
}

func (b *Bot) cmdDaily(ctx context.Context, userID string, _ Command) (Reply, error) {
	res, err := b.exchange.ClaimDaily(ctx, userID, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s claimed **%s** today. Wallet: %s", mention(userID), money(res.Amount), money(res.Balance))}, nil
}

func (b *Bot) cmdGift(ctx context.Context, userID string, cmd Command) (Reply, error) {
	if err := need(cmd, 2); err != nil {
		return Reply{}, err
	}
	to, err := ParseUser(cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	amount, err := parseAmount(cmd.arg(1))
	if err != nil {
		return Reply{}, err
	}
	a, err := b.exchange.Gift(ctx, userID, to.ID, amount)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s gifted %s to %s. Wallet: %s", mention(userID), money(amount), to, money(a.Balance))}, nil
}

func (b *Bot) cmdDeposit(ctx context.Context, userID string, cmd Command) (Reply, error) {
	return b.bankMove(ctx, userID, cmd, "Deposited", b.exchange.Deposit)
}

func (b *Bot) cmdWithdraw(ctx context.Context, userID string, cmd Command) (Reply, error) {
	return b.bankMove(ctx, userID, cmd, "Withdrew", b.exchange.Withdraw)
}

func (b *Bot) bankMove(ctx context.Context, userID string, cmd Command, verb string, move func(context.Context, string, decimal.Decimal) (exchange.Account, error)) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	amount, err := parseAmount(cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	a, err := move(ctx, userID, amount)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s %s. Wallet: %s, Bank: %s", verb, money(amount), money(a.Balance), money(a.Bank))}, nil
}

func (b *Bot) cmdLeaderboard(ctx context.Context, _ string, _ Command) (Reply, error) {
	rows, err := b.exchange.Leaderboard(ctx, 10)
	if err != nil {
		return Reply{}, err
	}
	if len(rows) == 0 {
		return Reply{Text: "Nobody is on the leaderboard yet."}, nil
	}
	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "**%d.** %s %s\n", r.Rank, mention(r.UserID), money(r.NetWorth))
	}
	return Reply{Embed: &discordgo.MessageEmbed{Title: "Leaderboard (net worth)", Description: sb.String(), Color: colorGold}}, nil
}

func (b *Bot) cmdStocks(ctx context.Context, _ string, _ Command) (Reply, error) {
	stocks, err := b.exchange.Stocks(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(stocks) == 0 {
		return Reply{Text: "No stocks are listed yet. Create one with !ipo <symbol>."}, nil
	}
	var sb strings.Builder
	for _, st := range stocks {
		fmt.Fprintf(&sb, "**%s** %s", st.Symbol, money(st.Price))
		if st.Creator != "" {
			fmt.Fprintf(&sb, " (%s)", mention(st.Creator))
		}
		sb.WriteString("\n")
	}
	return Reply{Embed: &discordgo.MessageEmbed{Title: "Listed stocks", Description: sb.String(), Color: colorBlue}}, nil
}

func (b *Bot) cmdMarket(ctx context.Context, _ string, _ Command) (Reply, error) {
	sum, err := b.exchange.MarketSummary(ctx)
	if err != nil {
		return Reply{}, err
	}
	color := colorBlue
	if sum.Regime.Regime == exchange.RegimeCrash || sum.Regime.Regime == exchange.RegimeBear {
		color = colorRed
	}
	return Reply{Embed: &discordgo.MessageEmbed{
		Title: "Market: " + strings.ToUpper(string(sum.Regime.Regime)),
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Index", Value: money(sum.Index), Inline: true},
			{Name: "Listed", Value: fmt.Sprint(sum.Listed), Inline: true},
			{Name: "Up / Down / Flat", Value: fmt.Sprintf("%d / %d / %d", sum.Up, sum.Down, sum.Flat), Inline: true},
			{Name: "Tick range", Value: fmt.Sprintf("%s%% to %s%%", sum.Regime.Min.StringFixed(2), sum.Regime.Max.StringFixed(2)), Inline: true},
		},
	}}, nil
}

func (b *Bot) cmdStock(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	info, err := b.exchange.StockInfo(ctx, sym)
	if err != nil {
		return Reply{}, err
	}
	color := colorGreen
	if info.DayChangePct < 0 {
		color = colorRed
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Price", Value: money(info.Price), Inline: true},
		{Name: "Day", Value: fmt.Sprintf("%+.2f%%", info.DayChangePct), Inline: true},
		{Name: "Week", Value: fmt.Sprintf("%+.2f%%", info.WeekChangePct), Inline: true},
		{Name: "Trend", Value: info.Trend, Inline: true},
		{Name: "Holders", Value: fmt.Sprint(info.Holders), Inline: true},
	}
	if info.Creator != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Creator", Value: mention(info.Creator), Inline: true})
	}
	return Reply{Embed: &discordgo.MessageEmbed{Title: info.Symbol, Color: color, Fields: fields}}, nil
}

func (b *Bot) cmdTop(ctx context.Context, _ string, cmd Command) (Reply, error) {
	timeframe := cmd.arg(0)
	if timeframe == "" {
		timeframe = "day"
	}
	perf, err := b.exchange.TopPerformers(ctx, timeframe, 5)
	if err != nil {
		return Reply{}, err
	}
	if len(perf) == 0 {
		return Reply{Text: "Not enough price history yet."}, nil
	}
	var sb strings.Builder
	for i, p := range perf {
		fmt.Fprintf(&sb, "**%d.** %s %s (%+.2f%%)\n", i+1, p.Symbol, money(p.Price), p.ChangePct)
	}
	return Reply{Embed: &discordgo.MessageEmbed{Title: "Top performers (" + strings.ToLower(timeframe) + ")", Description: sb.String(), Color: colorGreen}}, nil
}

func (b *Bot) cmdRisk(ctx context.Context, _ string, _ Command) (Reply, error) {
	risks, err := b.exchange.DecayRisk(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(risks) == 0 {
		return Reply{Text: "No stocks are at risk of decay."}, nil
	}
	var sb strings.Builder
	for _, r := range risks {
		fmt.Fprintf(&sb, "**%s** %.0f%% (holders: %d)\n", r.Symbol, r.Risk, r.Popularity)
	}
	return Reply{Embed: &discordgo.MessageEmbed{Title: "Decay risk", Description: sb.String(), Color: colorRed}}, nil
}

func (b *Bot) cmdPortfolio(ctx context.Context, userID string, cmd Command) (Reply, error) {
	who := userID
	if len(cmd.Args) > 0 {
		u, err := ParseUser(cmd.arg(0))
		if err != nil {
			return Reply{}, err
		}
		who = u.ID
	}
	p, err := b.exchange.Portfolio(ctx, who)
	if err != nil {
		return Reply{}, err
	}
	var sb strings.Builder
	for _, pos := range p.Positions {
		fmt.Fprintf(&sb, "**%s** x%d @ %s = %s\n", pos.Symbol, pos.Shares, money(pos.Price), money(pos.Value))
	}
	if sb.Len() == 0 {
		sb.WriteString("No shares held.")
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Wallet", Value: money(p.Balance), Inline: true},
		{Name: "Bank", Value: money(p.Bank), Inline: true},
		{Name: "Net worth", Value: money(p.NetWorth), Inline: true},
	}
	if p.OwnStock != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Own stock", Value: p.OwnStock, Inline: true})
	}
	return Reply{Embed: &discordgo.MessageEmbed{
		Title:       "Portfolio",
		Description: mention(who) + "\n" + sb.String(),
		Color:       colorBlue,
		Fields:      fields,
	}}, nil
}

func (b *Bot) cmdBuy(ctx context.Context, userID string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	res, err := b.exchange.Buy(ctx, sym, userID, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s bought 1 share of **%s** for %s. Price is now %s. You hold %d. Wallet: %s",
		mention(userID), res.Symbol, money(res.Price), money(res.NewPrice), res.Shares, money(res.Balance))}, nil
}

func (b *Bot) cmdSell(ctx context.Context, userID string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	res, err := b.exchange.Sell(ctx, sym, userID, b.now())
	if err != nil {
		return Reply{}, err
	}
	text := fmt.Sprintf("%s sold 1 share of **%s** for %s", mention(userID), res.Symbol, money(res.SalePrice))
	if res.SameDaySale {
		text += fmt.Sprintf(" (same-day fee %s)", money(res.Fee))
	}
	text += fmt.Sprintf(". Wallet: %s", money(res.Balance))
	if res.BankruptcyTriggered {
		text += fmt.Sprintf("\n💥 **%s** went bankrupt and was delisted.", res.Symbol)
	} else {
		text += fmt.Sprintf(". Price is now %s.", money(res.NewPrice))
	}
	return Reply{Text: text}, nil
}

func (b *Bot) cmdIPO(ctx context.Context, userID string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	st, err := b.exchange.CreateStock(ctx, userID, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("🎉 %s listed **%s** at %s (IPO cost %s).",
		mention(userID), st.Symbol, money(st.Price), money(decimal.NewFromFloat(b.exchange.Economy().IPOCost)))}, nil
}

func (b *Bot) cmdRebrand(ctx context.Context, userID string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	st, err := b.exchange.RebrandStock(ctx, userID, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Your stock now trades as **%s** (fee %s).",
		st.Symbol, money(decimal.NewFromFloat(b.exchange.Economy().RebrandFee)))}, nil
}

func (b *Bot) cmdAdminAdd(ctx context.Context, _ string, cmd Command) (Reply, error) {
	return b.adjustPrice(ctx, cmd, false)
}

func (b *Bot) cmdAdminSub(ctx context.Context, _ string, cmd Command) (Reply, error) {
	return b.adjustPrice(ctx, cmd, true)
}

func (b *Bot) adjustPrice(ctx context.Context, cmd Command, negate bool) (Reply, error) {
	if err := need(cmd, 2); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	amount, err := parseAmount(cmd.arg(1))
	if err != nil {
		return Reply{}, err
	}
	if !amount.IsPositive() {
		return Reply{}, exchange.ErrInvalidAmount
	}
	if negate {
		amount = amount.Neg()
	}
	st, err := b.exchange.AdjustPrice(ctx, sym, amount)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("**%s** is now %s.", st.Symbol, money(st.Price))}, nil
}

func (b *Bot) cmdAdminSet(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 2); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	price, err := parseAmount(cmd.arg(1))
	if err != nil {
		return Reply{}, err
	}
	st, err := b.exchange.SetPrice(ctx, sym, price)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("**%s** is now %s.", st.Symbol, money(st.Price))}, nil
}

func (b *Bot) cmdAdminBankrupt(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	losses, err := b.exchange.Bankrupt(ctx, sym)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("**%s** was delisted. %d holder(s) lost their shares.", sym, len(losses))}, nil
}

func (b *Bot) cmdAdminGift(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 2); err != nil {
		return Reply{}, err
	}
	to, err := ParseUser(cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	delta, err := parseAmount(cmd.arg(1))
	if err != nil {
		return Reply{}, err
	}
	a, err := b.exchange.AdjustBalance(ctx, to.ID, delta)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s balance changed by %s to %s.", to, money(delta), money(a.Balance))}, nil
}

func (b *Bot) cmdAdminCreate(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	var (
		price   *decimal.Decimal
		creator string
	)
	for _, arg := range cmd.Args[1:] {
		if u, err := ParseUser(arg); err == nil {
			creator = u.ID
			continue
		}
		p, err := parseAmount(arg)
		if err != nil {
			return Reply{}, err
		}
		price = &p
	}
	st, err := b.exchange.ListStock(ctx, cmd.arg(0), creator, price)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Listed **%s** at %s.", st.Symbol, money(st.Price))}, nil
}

func (b *Bot) cmdAdminRename(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 2); err != nil {
		return Reply{}, err
	}
	sym, err := b.resolve(ctx, cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	st, err := b.exchange.RenameStock(ctx, sym, cmd.arg(1))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("**%s** now trades as **%s**.", sym, st.Symbol)}, nil
}

func (b *Bot) cmdAdminMarket(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if len(cmd.Args) == 0 {
		return b.cmdMarket(ctx, "", cmd)
	}
	regime, err := exchange.ParseRegime(cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	st, err := b.exchange.ForceRegime(ctx, regime, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Market switched to **%s** (%s%% to %s%% per tick).",
		strings.ToUpper(string(st.Regime)), st.Min.StringFixed(2), st.Max.StringFixed(2))}, nil
}

func (b *Bot) cmdAdminAwardAll(ctx context.Context, _ string, cmd Command) (Reply, error) {
	if err := need(cmd, 1); err != nil {
		return Reply{}, err
	}
	amount, err := parseAmount(cmd.arg(0))
	if err != nil {
		return Reply{}, err
	}
	n, err := b.exchange.AwardAll(ctx, amount)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Awarded %s to %d account(s).", money(amount), n)}, nil
}

func (b *Bot) cmdAdminTick(ctx context.Context, _ string, _ Command) (Reply, error) {
	rep, err := b.exchange.Tick(ctx, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Tick done: %d price(s) updated, %d bankruptcy(ies). Regime: %s.",
		len(rep.Updated), len(rep.Bankruptcies), rep.Regime.Regime)}, nil
}

func (b *Bot) cmdAdminDividends(ctx context.Context, _ string, _ Command) (Reply, error) {
	rep, err := b.exchange.DistributeDividends(ctx, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Dividends for %s paid to %d user(s) from %d stock(s).", rep.Date, len(rep.Totals), rep.StocksPaying)}, nil
}

func (b *Bot) cmdAdminDecay(ctx context.Context, _ string, _ Command) (Reply, error) {
	changes, err := b.exchange.ApplyDecay(ctx, b.now())
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Decay applied to %d stock(s).", len(changes))}, nil
}

func (b *Bot) cmdAdminSweep(ctx context.Context, _ string, _ Command) (Reply, error) {
	bankrupt, err := b.exchange.EmergencySweep(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Sweep done: %d stock(s) delisted.", len(bankrupt))}, nil
}
