package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cl "ch3fx/internal/cli"
	"ch3fx/internal/exchange"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const feedSize = 8

var (
	upColor      = lipgloss.Color("#10B981")
	downColor    = lipgloss.Color("#EF4444")
	primaryColor = lipgloss.Color("#7C3AED")
	mutedColor   = lipgloss.Color("#6B7280")
	borderColor  = lipgloss.Color("#374151")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	upStyle    = lipgloss.NewStyle().Bold(true).Foreground(upColor)
	downStyle  = lipgloss.NewStyle().Bold(true).Foreground(downColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

type snapshotMsg struct {
	stocks  []exchange.Stock
	summary exchange.MarketSummary
	err     error
}

type eventMsg exchange.Event

type streamClosedMsg struct{ err error }

type refreshMsg time.Time

type boardModel struct {
	ctx     context.Context
	client  *cl.Client
	events  <-chan tea.Msg
	refresh time.Duration

	table   table.Model
	summary exchange.MarketSummary
	open    map[string]decimal.Decimal
	feed    []string
	live    bool
	status  string
}

func newBoardModel(ctx context.Context, client *cl.Client, events <-chan tea.Msg, refresh time.Duration) boardModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "SYMBOL", Width: 8},
			{Title: "PRICE", Width: 12},
			{Title: "SESSION", Width: 10},
			{Title: "CREATOR", Width: 20},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(borderColor).BorderBottom(true).Bold(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("#F9FAFB")).Background(borderColor).Bold(false)
	t.SetStyles(st)

	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return boardModel{
		ctx:     ctx,
		client:  client,
		events:  events,
		refresh: refresh,
		table:   t,
		open:    map[string]decimal.Decimal{},
		live:    events != nil,
		status:  "loading...",
	}
}

func (m boardModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.listen(), m.tick())
}

func (m boardModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		stocks, err := m.client.ListStocks(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		summary, err := m.client.Market(ctx)
		return snapshotMsg{stocks: stocks, summary: summary, err: err}
	}
}

func (m boardModel) listen() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return msg
	}
}

func (m boardModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "refreshing..."
			return m, m.fetch()
		}
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(5, msg.Height-feedSize-12))
		return m, nil
	case snapshotMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.summary = msg.summary
		m.table.SetRows(m.rows(msg.stocks))
		m.status = "updated " + time.Now().Format("15:04:05")
		return m, nil
	case eventMsg:
		m.feed = append([]string{describeEvent(exchange.Event(msg))}, m.feed...)
		if len(m.feed) > feedSize {
			m.feed = m.feed[:feedSize]
		}
		return m, tea.Batch(m.fetch(), m.listen())
	case streamClosedMsg:
		m.live = false
		if msg.err != nil {
			m.status = "stream closed: " + msg.err.Error()
		}
		return m, nil
	case refreshMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows renders stocks with their change since the board opened. The open
// map is shared between model copies, so baselines survive updates.
func (m boardModel) rows(stocks []exchange.Stock) []table.Row {
	out := make([]table.Row, 0, len(stocks))
	for _, s := range stocks {
		base, ok := m.open[s.Symbol]
		if !ok {
			m.open[s.Symbol] = s.Price
			base = s.Price
		}
		creator := s.Creator
		if creator == "" {
			creator = "-"
		}
		out = append(out, table.Row{s.Symbol, formatMoney(s.Price), sessionChange(base, s.Price), creator})
	}
	return out
}

func sessionChange(base, cur decimal.Decimal) string {
	if !base.IsPositive() {
		return "-"
	}
	pct, _ := cur.Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Float64()
	switch {
	case pct > 0:
		return fmt.Sprintf("▲ %.2f%%", pct)
	case pct < 0:
		return fmt.Sprintf("▼ %.2f%%", -pct)
	}
	return "= 0.00%"
}

func (m boardModel) View() string {
	var b strings.Builder

	regime := strings.ToUpper(string(m.summary.Regime.Regime))
	switch m.summary.Regime.Regime {
	case exchange.RegimeBull:
		regime = upStyle.Render(regime)
	case exchange.RegimeBear, exchange.RegimeCrash:
		regime = downStyle.Render(regime)
	}
	b.WriteString(titleStyle.Render("ch3fx market") + " " + regime + "\n")
	b.WriteString(fmt.Sprintf(" index %s  listed %d  %s  %s  flat %d\n",
		formatMoney(m.summary.Index),
		m.summary.Listed,
		upStyle.Render(fmt.Sprintf("up %d", m.summary.Up)),
		downStyle.Render(fmt.Sprintf("down %d", m.summary.Down)),
		m.summary.Flat,
	))
	b.WriteString(panelStyle.Render(m.table.View()) + "\n")

	feed := mutedStyle.Render("waiting for market events")
	if len(m.feed) > 0 {
		feed = strings.Join(m.feed, "\n")
	}
	b.WriteString(panelStyle.Render(feed) + "\n")

	mode := "live"
	if !m.live {
		mode = fmt.Sprintf("polling every %s", m.refresh)
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf(" %s | %s | ↑/↓ scroll  r refresh  q quit", mode, m.status)))
	return b.String()
}

func describeEvent(ev exchange.Event) string {
	at := ev.At.Local().Format("15:04:05")
	var line string
	switch ev.Kind {
	case exchange.EventTick:
		n := 0
		if ev.Tick != nil {
			n = len(ev.Tick.Updated)
		}
		line = fmt.Sprintf("tick: %d prices moved", n)
	case exchange.EventRegime:
		if ev.Regime != nil {
			line = fmt.Sprintf("regime is now %s", strings.ToUpper(string(ev.Regime.Regime)))
		} else {
			line = "regime changed"
		}
	case exchange.EventListed:
		line = fmt.Sprintf("%s listed at %s", ev.Symbol, formatMoney(ev.Price))
	case exchange.EventRenamed:
		line = fmt.Sprintf("%s renamed to %s", ev.PrevSymbol, ev.Symbol)
	case exchange.EventBankruptcy:
		line = downStyle.Render(fmt.Sprintf("%s went bankrupt (%d holders lost shares)", ev.Symbol, len(ev.Losses)))
	case exchange.EventDecay:
		line = fmt.Sprintf("decay hit %d stocks", len(ev.Decay))
	case exchange.EventDividends:
		paid := 0
		if ev.Dividends != nil {
			paid = len(ev.Dividends.Totals)
		}
		line = upStyle.Render(fmt.Sprintf("dividends paid to %d holders", paid))
	case exchange.EventPriceSet:
		line = fmt.Sprintf("%s price set to %s", ev.Symbol, formatMoney(ev.Price))
	default:
		line = string(ev.Kind)
	}
	return at + "  " + line
}

// streamEvents dials the exchange websocket and forwards decoded events until
// ctx ends or the connection drops.
func streamEvents(ctx context.Context, client *cl.Client) (<-chan tea.Msg, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, client.StreamURL(), client.Headers())
	if err != nil {
		return nil, err
	}
	out := make(chan tea.Msg, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				select {
				case out <- streamClosedMsg{err: err}:
				case <-ctx.Done():
				}
				return
			}
			var ev exchange.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			select {
			case out <- eventMsg(ev):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func runBoard(ctx context.Context, client *cl.Client, refresh time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := streamEvents(ctx, client)
	if err != nil {
		printWarn("live stream unavailable, falling back to polling: " + err.Error())
	}
	_, err = tea.NewProgram(newBoardModel(ctx, client, events, refresh), tea.WithAltScreen()).Run()
	return err
}
