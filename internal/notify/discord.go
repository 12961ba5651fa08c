package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ch3fx/internal/exchange"
)

const (
	colorGreen  = 0x2ecc71
	colorRed    = 0xe74c3c
	colorGold   = 0xf1c40f
	colorBlue   = 0x3498db
	colorOrange = 0xe67e22
)

// EmbedSender is satisfied by *discordgo.Session.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts listings and price moves to the stock channel and
// market-wide announcements to the terminal channel.
type DiscordSink struct {
	sender          EmbedSender
	stockChannel    string
	terminalChannel string
}

func NewDiscordSink(sender EmbedSender, stockChannel, terminalChannel string) *DiscordSink {
	return &DiscordSink{sender: sender, stockChannel: stockChannel, terminalChannel: terminalChannel}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Send(_ context.Context, ev exchange.Event) error {
	channel, embed := d.route(ev)
	if channel == "" || embed == nil {
		return nil
	}
	if _, err := d.sender.ChannelMessageSendEmbed(channel, embed); err != nil {
		return fmt.Errorf("post %s embed: %w", ev.Kind, err)
	}
	return nil
}

func (d *DiscordSink) route(ev exchange.Event) (string, *discordgo.MessageEmbed) {
	switch ev.Kind {
	case exchange.EventListed, exchange.EventRenamed, exchange.EventPriceSet:
		return d.stockChannel, EventEmbed(ev)
	case exchange.EventTick:
		if ev.Tick == nil || len(ev.Tick.Updated) == 0 {
			return "", nil
		}
		return d.stockChannel, EventEmbed(ev)
	default:
		return d.terminalChannel, EventEmbed(ev)
	}
}

// EventEmbed renders ev for chat. It returns nil for events with nothing to show.
func EventEmbed(ev exchange.Event) *discordgo.MessageEmbed {
	switch ev.Kind {
	case exchange.EventListed:
		desc := fmt.Sprintf("**%s** is now trading at **$%s**.", ev.Symbol, ev.Price.StringFixed(2))
		if ev.Creator != "" {
			desc += fmt.Sprintf("\nCreated by <@%s>.", ev.Creator)
		}
		return &discordgo.MessageEmbed{Title: "New listing: " + ev.Symbol, Description: desc, Color: colorGreen}

	case exchange.EventRenamed:
		return &discordgo.MessageEmbed{
			Title:       "Ticker change",
			Description: fmt.Sprintf("**%s** now trades as **%s**.", ev.PrevSymbol, ev.Symbol),
			Color:       colorBlue,
		}

	case exchange.EventPriceSet:
		return &discordgo.MessageEmbed{
			Title:       "Price update: " + ev.Symbol,
			Description: fmt.Sprintf("**%s** was set to **$%s** by an admin.", ev.Symbol, ev.Price.StringFixed(2)),
			Color:       colorBlue,
		}

	case exchange.EventRegime:
		if ev.Regime == nil {
			return nil
		}
		color := colorBlue
		title := "Market condition: " + strings.ToUpper(string(ev.Regime.Regime))
		if ev.Regime.Regime == exchange.RegimeCrash {
			color = colorRed
			title = "MARKET CRASH"
		}
		return &discordgo.MessageEmbed{
			Title: title,
			Description: fmt.Sprintf("Prices now move between **%s** and **%s** per update.",
				ev.Regime.Min.StringFixed(2), ev.Regime.Max.StringFixed(2)),
			Color: color,
		}

	case exchange.EventTick:
		if ev.Tick == nil {
			return nil
		}
		return tickEmbed(ev.Tick)

	case exchange.EventBankruptcy:
		var b strings.Builder
		fmt.Fprintf(&b, "**%s** has gone bankrupt and was delisted.", ev.Symbol)
		if len(ev.Losses) > 0 {
			b.WriteString("\n\nShareholders wiped out:")
			for _, l := range ev.Losses {
				fmt.Fprintf(&b, "\n<@%s> lost %d share(s)", l.UserID, l.SharesLost)
			}
		}
		return &discordgo.MessageEmbed{Title: "Bankruptcy: " + ev.Symbol, Description: b.String(), Color: colorRed}

	case exchange.EventDecay:
		if len(ev.Decay) == 0 {
			return nil
		}
		var b strings.Builder
		for _, c := range ev.Decay {
			fmt.Fprintf(&b, "%s: $%s -> $%s\n", c.Symbol, c.Old.StringFixed(2), c.New.StringFixed(2))
		}
		return &discordgo.MessageEmbed{
			Title:       "Stock decay",
			Description: "The least popular stocks lost value:\n" + b.String(),
			Color:       colorOrange,
		}

	case exchange.EventDividends:
		if ev.Dividends == nil || len(ev.Dividends.Totals) == 0 {
			return nil
		}
		ids := make([]string, 0, len(ev.Dividends.Totals))
		for id := range ev.Dividends.Totals {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return ev.Dividends.Totals[ids[i]].GreaterThan(ev.Dividends.Totals[ids[j]])
		})
		var b strings.Builder
		for i, id := range ids {
			if i == 10 {
				fmt.Fprintf(&b, "...and %d more", len(ids)-10)
				break
			}
			fmt.Fprintf(&b, "<@%s>: $%s\n", id, ev.Dividends.Totals[id].StringFixed(2))
		}
		return &discordgo.MessageEmbed{
			Title:       "Daily dividends",
			Description: b.String(),
			Color:       colorGold,
			Footer:      &discordgo.MessageEmbedFooter{Text: "Paid " + ev.Dividends.Date},
		}
	}
	return nil
}

func tickEmbed(t *exchange.TickReport) *discordgo.MessageEmbed {
	updates := append([]exchange.PriceUpdate(nil), t.Updated...)
	sort.Slice(updates, func(i, j int) bool { return updates[i].Symbol < updates[j].Symbol })

	fields := make([]*discordgo.MessageEmbedField, 0, len(updates))
	for i, up := range updates {
		if i == 25 {
			break
		}
		arrow := "▲"
		if up.New.LessThan(up.Old) {
			arrow = "▼"
		} else if up.New.Equal(up.Old) {
			arrow = "="
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   up.Symbol,
			Value:  fmt.Sprintf("%s $%s", arrow, up.New.StringFixed(2)),
			Inline: true,
		})
	}
	color := colorGreen
	if t.Regime.Regime == exchange.RegimeBear || t.Regime.Regime == exchange.RegimeCrash {
		color = colorRed
	}
	return &discordgo.MessageEmbed{
		Title:  "Market update",
		Color:  color,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: "Market condition: " + string(t.Regime.Regime)},
	}
}
