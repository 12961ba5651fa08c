package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ch3fx/internal/exchange"
)

// Target is what an admin or trade command points at: a user (meaning that
// user's own stock) or a ticker.
type Target interface {
	fmt.Stringer
	isTarget()
}

type UserRef struct {
	ID string
}

type TickerRef struct {
	Symbol string
}

func (UserRef) isTarget()   {}
func (TickerRef) isTarget() {}

func (u UserRef) String() string   { return mention(u.ID) }
func (t TickerRef) String() string { return t.Symbol }

var mentionRE = regexp.MustCompile(`^<@!?(\d+)>$`)

// ParseTarget classifies a raw argument once, at the command boundary.
func ParseTarget(arg string) (Target, error) {
	arg = strings.TrimSpace(arg)
	if m := mentionRE.FindStringSubmatch(arg); m != nil {
		return UserRef{ID: m[1]}, nil
	}
	symbol := exchange.NormalizeSymbol(arg)
	if err := exchange.ValidateSymbol(symbol); err != nil {
		return nil, fmt.Errorf("%w: %q", err, arg)
	}
	return TickerRef{Symbol: symbol}, nil
}

// ParseUser accepts only a mention.
func ParseUser(arg string) (UserRef, error) {
	t, err := ParseTarget(arg)
	if err != nil {
		return UserRef{}, fmt.Errorf("expected a user mention, got %q", arg)
	}
	u, ok := t.(UserRef)
	if !ok {
		return UserRef{}, fmt.Errorf("expected a user mention, got %q", arg)
	}
	return u, nil
}

type marketReader interface {
	Market(ctx context.Context) (exchange.MarketState, error)
}

// ResolveSymbol turns a target into a listed symbol. A user resolves to the
// stock they created.
func ResolveSymbol(ctx context.Context, mr marketReader, t Target) (string, error) {
	switch v := t.(type) {
	case TickerRef:
		return v.Symbol, nil
	case UserRef:
		m, err := mr.Market(ctx)
		if err != nil {
			return "", err
		}
		sym, ok := m.CreatorOf[v.ID]
		if !ok || sym == "" {
			return "", fmt.Errorf("%w: %s", exchange.ErrNoStock, v)
		}
		return sym, nil
	default:
		return "", fmt.Errorf("unsupported target %T", t)
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
