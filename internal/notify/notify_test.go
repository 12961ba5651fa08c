package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"ch3fx/internal/exchange"
)

type fakeSink struct {
	mu   sync.Mutex
	got  []exchange.Event
	fail bool
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(_ context.Context, ev exchange.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	if f.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestDispatcherFansOutAndSurvivesSinkErrors(t *testing.T) {
	bad := &fakeSink{fail: true}
	good := &fakeSink{}
	d := NewDispatcher(nil, 8, bad, good)
	d.Start()

	d.Publish(exchange.Event{Kind: exchange.EventListed, Symbol: "$ABC"})
	d.Publish(exchange.Event{Kind: exchange.EventBankruptcy, Symbol: "$ABC"})
	d.Close()

	if len(good.got) != 2 || len(bad.got) != 2 {
		t.Fatalf("expected every sink to see both events: good=%d bad=%d", len(good.got), len(bad.got))
	}
	if good.got[1].Kind != exchange.EventBankruptcy {
		t.Fatalf("events out of order: %+v", good.got)
	}

	// Publishing after Close is dropped rather than panicking.
	d.Publish(exchange.Event{Kind: exchange.EventTick})
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(nil, 1, sink)
	d.Publish(exchange.Event{Kind: exchange.EventListed})
	d.Publish(exchange.Event{Kind: exchange.EventDecay})
	d.Start()
	d.Close()
	if len(sink.got) != 1 || sink.got[0].Kind != exchange.EventListed {
		t.Fatalf("expected only the first event, got %+v", sink.got)
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	if err := h.Send(context.Background(), exchange.Event{Kind: exchange.EventPriceSet, Symbol: "$HUB", Price: decimal.RequireFromString("12.5")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case raw := <-ch:
		var ev exchange.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Symbol != "$HUB" || !ev.Price.Equal(decimal.RequireFromString("12.5")) {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no broadcast received")
	}
	unsubscribe()
	unsubscribe()
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()
	for i := 0; i < 100; i++ {
		h.broadcast([]byte{byte(i)})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d", len(ch))
	}
	var last []byte
	for len(ch) > 0 {
		last = <-ch
	}
	if last[0] != 99 {
		t.Fatalf("newest message must survive, got %d", last[0])
	}
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func TestNATSSinkSubject(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "ch3fx.events")
	ev := exchange.Event{Kind: exchange.EventDividends, Dividends: &exchange.DividendReport{Date: "2026-03-10"}}
	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.subject != "ch3fx.events.dividends" {
		t.Fatalf("subject got %q", pub.subject)
	}
	if !strings.Contains(string(pub.data), `"2026-03-10"`) {
		t.Fatalf("payload missing report: %s", pub.data)
	}
}

type fakeSender struct {
	channels []string
	embeds   []*discordgo.MessageEmbed
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	f.embeds = append(f.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestDiscordSinkRouting(t *testing.T) {
	sender := &fakeSender{}
	sink := NewDiscordSink(sender, "stocks", "terminal")
	ctx := context.Background()

	events := []exchange.Event{
		{Kind: exchange.EventListed, Symbol: "$NEW", Creator: "42", Price: decimal.RequireFromString("85")},
		{Kind: exchange.EventBankruptcy, Symbol: "$OLD", Losses: []exchange.ShareLoss{{UserID: "7", SharesLost: 3}}},
		{Kind: exchange.EventTick, Tick: &exchange.TickReport{}},
	}
	for _, ev := range events {
		if err := sink.Send(ctx, ev); err != nil {
			t.Fatalf("send %s: %v", ev.Kind, err)
		}
	}
	if len(sender.embeds) != 2 {
		t.Fatalf("empty tick must not post, got %d embeds", len(sender.embeds))
	}
	if sender.channels[0] != "stocks" || sender.channels[1] != "terminal" {
		t.Fatalf("wrong channels %v", sender.channels)
	}
	if !strings.Contains(sender.embeds[0].Description, "$85.00") || !strings.Contains(sender.embeds[0].Description, "<@42>") {
		t.Fatalf("listing embed: %q", sender.embeds[0].Description)
	}
	if !strings.Contains(sender.embeds[1].Description, "<@7> lost 3 share(s)") {
		t.Fatalf("bankruptcy embed: %q", sender.embeds[1].Description)
	}
}

func TestRegimeEmbedFlagsCrash(t *testing.T) {
	st := exchange.RegimeState{Regime: exchange.RegimeCrash, Min: decimal.NewFromInt(-12), Max: decimal.NewFromInt(-4)}
	embed := EventEmbed(exchange.Event{Kind: exchange.EventRegime, Regime: &st})
	if embed.Title != "MARKET CRASH" || embed.Color != colorRed {
		t.Fatalf("unexpected crash embed %+v", embed)
	}
	if !strings.Contains(embed.Description, "-12.00") {
		t.Fatalf("interval missing: %q", embed.Description)
	}
}
