package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "ch3fx/internal/cli"
	"ch3fx/internal/config"
	"ch3fx/internal/exchange"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	if os.Getenv("STK_API_BASE_URL") == "" {
		if sess, err := cl.LoadSession(); err == nil && sess.BaseURL != "" {
			apiBase = sess.BaseURL
		}
	}

	root := &cobra.Command{
		Use:          "stk",
		Short:        "ch3fx exchange CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "exchange API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newMarketCmd(&apiBase, cfg),
		newStocksCmd(&apiBase, cfg),
		newAccountCmd(&apiBase, cfg),
		newBankCmd(&apiBase, cfg),
		newDailyCmd(&apiBase, cfg),
		newGiftCmd(&apiBase, cfg),
		newLeaderboardCmd(&apiBase, cfg),
		newAdminCmd(&apiBase, cfg),
		newBoardCmd(&apiBase, cfg),
	)

	if err := root.Execute(); err != nil {
		printError("error: " + err.Error())
		os.Exit(1)
	}
}

// newClient builds a client from the saved session, letting STK_USER_ID and
// STK_API_TOKEN override it.
func newClient(apiBase *string, cfg config.CLIConfig) (*cl.Client, error) {
	userID, token := cfg.UserID, cfg.APIToken
	if sess, err := cl.LoadSession(); err == nil {
		if userID == "" {
			userID = sess.UserID
		}
		if token == "" {
			token = sess.APIToken
		}
	}
	if userID == "" {
		return nil, fmt.Errorf("login required: run `stk login <discord-user-id>` or set STK_USER_ID")
	}
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), userID, token), nil
}

// run wraps the common session + timeout boilerplate of one API call.
func run(cmd *cobra.Command, apiBase *string, cfg config.CLIConfig, fn func(ctx context.Context, c *cl.Client) error) error {
	client, err := newClient(apiBase, cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return fn(ctx, client)
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login [discord-user-id]",
		Short: "Save your Discord user ID (and API token) locally",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID string
			if len(args) > 0 {
				userID = strings.TrimSpace(args[0])
			} else {
				v, err := promptRequired("Discord user ID")
				if err != nil {
					return err
				}
				userID = v
			}
			if err := cl.SaveSession(cl.Session{
				UserID:   userID,
				APIToken: strings.TrimSpace(token),
				BaseURL:  *apiBase,
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s.", userID))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API bearer token, if the server requires one")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newMarketCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show the market regime and index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Market(ctx)
				if err != nil {
					return err
				}
				renderMarket(out)
				return nil
			})
		},
	}
}

func newStocksCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	stocks := &cobra.Command{
		Use:     "stocks",
		Short:   "Stock market commands",
		Aliases: []string{"stock"},
	}

	stocks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every listed stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.ListStocks(ctx)
				if err != nil {
					return err
				}
				renderStocksList(out)
				return nil
			})
		},
	})

	stocks.AddCommand(&cobra.Command{
		Use:   "show [symbol]",
		Short: "Inspect one stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.StockDetail(ctx, symbol)
				if err != nil {
					return err
				}
				renderStockDetail(out)
				return nil
			})
		},
	})

	var limit int
	top := &cobra.Command{
		Use:       "top [day|week|all]",
		Short:     "Best performers over a timeframe",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			timeframe := "day"
			if len(args) > 0 {
				timeframe = strings.ToLower(args[0])
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.TopPerformers(ctx, timeframe, limit)
				if err != nil {
					return err
				}
				renderPerformers(out, timeframe)
				return nil
			})
		},
	}
	top.Flags().IntVar(&limit, "limit", 5, "rows to show")
	stocks.AddCommand(top)

	stocks.AddCommand(&cobra.Command{
		Use:   "risk",
		Short: "Stocks at risk of decay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.DecayRisk(ctx)
				if err != nil {
					return err
				}
				renderDecayRisk(out)
				return nil
			})
		},
	})

	stocks.AddCommand(&cobra.Command{
		Use:   "buy [symbol]",
		Short: "Buy one share",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Buy(ctx, symbol)
				if err != nil {
					return err
				}
				renderBuyResult(out)
				return nil
			})
		},
	})

	stocks.AddCommand(&cobra.Command{
		Use:   "sell [symbol]",
		Short: "Sell one share",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Sell(ctx, symbol)
				if err != nil {
					return err
				}
				renderSellResult(out)
				return nil
			})
		},
	})

	stocks.AddCommand(&cobra.Command{
		Use:   "ipo [symbol]",
		Short: "List your own stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.IPO(ctx, symbol)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("%s listed at %s.", out.Symbol, formatMoney(out.Price)))
				return nil
			})
		},
	})

	stocks.AddCommand(&cobra.Command{
		Use:   "rebrand [symbol]",
		Short: "Change your stock's ticker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Rebrand(ctx, symbol)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Your stock now trades as %s.", out.Symbol))
				return nil
			})
		},
	})

	return stocks
}

func newAccountCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "account [user-id]",
		Short:   "Show a portfolio (yours by default)",
		Aliases: []string{"portfolio"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var who string
			if len(args) > 0 {
				who = strings.TrimSpace(args[0])
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Portfolio(ctx, who)
				if err != nil {
					return err
				}
				renderPortfolio(out)
				return nil
			})
		},
	}
}

func newBankCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Move cash between wallet and bank",
	}
	move := func(use, short string, fn func(*cl.Client, context.Context, decimal.Decimal) (exchange.Account, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [amount]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := amountFromArgOrPrompt(args, 0, "Amount")
				if err != nil {
					return err
				}
				return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
					out, err := fn(c, ctx, amount)
					if err != nil {
						return err
					}
					printSuccess(fmt.Sprintf("Wallet %s, bank %s.", formatMoney(out.Balance), formatMoney(out.Bank)))
					return nil
				})
			},
		}
	}
	bank.AddCommand(
		move("deposit", "Move cash from wallet to bank", (*cl.Client).Deposit),
		move("withdraw", "Move cash from bank to wallet", (*cl.Client).Withdraw),
	)
	return bank
}

func newDailyCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Claim your daily reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Daily(ctx)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Claimed %s. Wallet %s.", formatMoney(out.Amount), formatMoney(out.Balance)))
				return nil
			})
		},
	}
}

func newGiftCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "gift <user-id> [amount]",
		Short: "Give cash to another user",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := amountFromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Gift(ctx, args[0], amount)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Sent %s to %s. Wallet %s.", formatMoney(amount), args[0], formatMoney(out.Balance)))
				return nil
			})
		},
	}
}

func newLeaderboardCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Richest users by net worth",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
				out, err := c.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				renderLeaderboard(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "rows to show")
	return cmd
}

func newAdminCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (allow-listed users only)",
	}
	post := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return adminCall(cmd, apiBase, cfg, http.MethodPost, path, nil)
			},
		}
	}
	admin.AddCommand(
		post("tick", "Run one market tick now", "/tick"),
		post("dividends", "Pay today's dividends now", "/dividends"),
		post("decay", "Apply decay now", "/decay"),
		post("sweep", "Bankrupt every non-positive stock", "/sweep"),
	)

	admin.AddCommand(&cobra.Command{
		Use:       "regime <stable|bull|bear|volatile|crash>",
		Short:     "Force the market regime",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"stable", "bull", "bear", "volatile", "crash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/regime", map[string]any{"regime": args[0]})
		},
	})

	var price, creator string
	list := &cobra.Command{
		Use:   "list <symbol>",
		Short: "List a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"symbol": args[0]}
			if creator != "" {
				body["creator"] = creator
			}
			if price != "" {
				p, err := parseAmount(price)
				if err != nil {
					return err
				}
				body["price"] = p
			}
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/stocks", body)
		},
	}
	list.Flags().StringVar(&price, "price", "", "initial price (random when empty)")
	list.Flags().StringVar(&creator, "creator", "", "creator user ID")
	admin.AddCommand(list)

	admin.AddCommand(&cobra.Command{
		Use:   "rename <symbol> <new-symbol>",
		Short: "Rename a stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/stocks/"+cl.SymbolPath(args[0])+"/rename", map[string]any{"symbol": args[1]})
		},
	})

	var delta, value string
	priceCmd := &cobra.Command{
		Use:   "price <symbol>",
		Short: "Adjust (--delta) or set (--value) a stock price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if delta != "" {
				d, err := parseAmount(delta)
				if err != nil {
					return err
				}
				body["delta"] = d
			}
			if value != "" {
				v, err := parseAmount(value)
				if err != nil {
					return err
				}
				body["value"] = v
			}
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/stocks/"+cl.SymbolPath(args[0])+"/price", body)
		},
	}
	priceCmd.Flags().StringVar(&delta, "delta", "", "signed price change")
	priceCmd.Flags().StringVar(&value, "value", "", "absolute price")
	priceCmd.MarkFlagsMutuallyExclusive("delta", "value")
	priceCmd.MarkFlagsOneRequired("delta", "value")
	admin.AddCommand(priceCmd)

	admin.AddCommand(&cobra.Command{
		Use:   "remove <symbol>",
		Short: "Bankrupt and delist a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminCall(cmd, apiBase, cfg, http.MethodDelete, "/stocks/"+cl.SymbolPath(args[0]), nil)
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "balance <user-id> <delta>",
		Short: "Adjust a user's wallet (may go negative)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/balance", map[string]any{"user_id": args[0], "delta": d})
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "award-all <amount>",
		Short: "Credit every account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return adminCall(cmd, apiBase, cfg, http.MethodPost, "/award-all", map[string]any{"amount": a})
		},
	})
	return admin
}

func adminCall(cmd *cobra.Command, apiBase *string, cfg config.CLIConfig, method, path string, body map[string]any) error {
	return run(cmd, apiBase, cfg, func(ctx context.Context, c *cl.Client) error {
		out, err := c.Admin(ctx, method, path, body)
		if err != nil {
			return err
		}
		return renderRaw(out)
	})
}

func newBoardCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Live market board",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(apiBase, cfg)
			if err != nil {
				return err
			}
			return runBoard(cmd.Context(), client, refresh)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 30*time.Second, "poll interval when the stream is quiet")
	return cmd
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		symbol := exchange.NormalizeSymbol(args[0])
		if err := exchange.ValidateSymbol(symbol); err != nil {
			return "", err
		}
		return symbol, nil
	}
	return promptSymbol("Symbol")
}

func amountFromArgOrPrompt(args []string, idx int, label string) (decimal.Decimal, error) {
	if len(args) > idx {
		return parseAmount(args[idx])
	}
	return promptAmount(label)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}
