package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Command struct {
	Name string
	Args []string
}

var aliases = map[string]string{
	"bal":         "balance",
	"stockmarket": "stocks",
	"mystocks":    "portfolio",
	"port":        "portfolio",
	"rename":      "rebrand",
	"createstock": "ipo",
	"info":        "stock",
	"lb":          "leaderboard",
	"dep":         "deposit",
	"with":        "withdraw",
}

// ParseCommand splits "!name arg1 arg2" into a Command. It reports false when
// content does not start with prefix or names nothing.
func ParseCommand(content, prefix string) (Command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(fields[0])
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	return Command{Name: name, Args: fields[1:]}, true
}

func (c Command) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// parseAmount accepts "12.5" or "$12.5".
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}
