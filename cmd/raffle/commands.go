package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"

	"raffle/internal/config"
	"raffle/internal/lottery"
	"raffle/internal/storage"
	"raffle/internal/token"
)

var walletFlag = cli.StringFlag{Name: "wallet", Usage: "wallet acting on the lottery"}

var commands = []cli.Command{
	{
		Name:      "init",
		Usage:     "create the lottery from a TOML definition",
		ArgsUsage: "<lottery.toml>",
		Action:    initLottery,
	},
	{
		Name:   "activate",
		Usage:  "activate a pending lottery (owner only)",
		Flags:  []cli.Flag{walletFlag},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			if err := n.engine.Activate(ctx, c.String("wallet")); err != nil {
				return nil, err
			}
			return n.engine.GetLottery(), nil
		}),
	},
	{
		Name:   "cancel",
		Usage:  "cancel the current round and refund it (owner only)",
		Flags:  []cli.Flag{walletFlag},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			if err := n.engine.Cancel(ctx, c.String("wallet")); err != nil {
				return nil, err
			}
			return n.engine.GetLottery(), nil
		}),
	},
	{
		Name:  "buy",
		Usage: "buy tickets in the current round",
		Flags: []cli.Flag{
			walletFlag,
			cli.UintFlag{Name: "count", Value: 1, Usage: "number of tickets"},
			cli.StringFlag{Name: "message", Usage: "message stored with the order"},
			cli.BoolFlag{Name: "public", Usage: "make the order public"},
			cli.StringSliceFlag{Name: "funds", Usage: "attached coin as <token key>=<amount>; defaults to the exact cost"},
			cli.BoolFlag{Name: "deposited", Usage: "the contract-token cost was already received by custody"},
		},
		Action: withNode(buy),
	},
	{
		Name:  "incentives",
		Usage: "add an incentive package to the current round",
		Flags: []cli.Flag{
			walletFlag,
			cli.StringSliceFlag{Name: "reward", Usage: "<token key>=<amount>[@position]"},
			cli.StringFlag{Name: "message", Usage: "message stored with the package"},
			cli.BoolFlag{Name: "deposited", Usage: "contract-token rewards were already received by custody"},
		},
		Action: withNode(addIncentives),
	},
	{
		Name:   "claim",
		Usage:  "pay out every pending reward of a wallet",
		Flags:  []cli.Flag{walletFlag},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			return n.engine.ClaimRewards(ctx, c.String("wallet"))
		}),
	},
	{
		Name:   "close",
		Usage:  "close the current round once its duration has passed",
		Flags:  []cli.Flag{walletFlag},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			return n.engine.CloseRound(ctx, c.String("wallet"))
		}),
	},
	{
		Name:      "round",
		Usage:     "show a round, the current one by default",
		ArgsUsage: "[index]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "winners"},
			cli.BoolFlag{Name: "players"},
			cli.BoolFlag{Name: "orders"},
			cli.IntFlag{Name: "decimals", Value: 6, Usage: "decimals of the round token in the summary"},
		},
		Action: withNode(showRound),
	},
	{
		Name:  "claims",
		Usage: "list pending claims, or those of one wallet",
		Flags: []cli.Flag{walletFlag},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			if !c.IsSet("wallet") {
				return n.engine.GetClaims(), nil
			}
			view, err := n.view()
			if err != nil {
				return nil, err
			}
			return view.ClaimsOf(c.String("wallet"))
		}),
	},
	{
		Name:  "deposit",
		Usage: "record contract tokens a wallet sent to custody (owner only)",
		Flags: []cli.Flag{
			walletFlag,
			cli.StringFlag{Name: "owner", Usage: "lottery owner attesting the deposit"},
			cli.StringFlag{Name: "coin", Usage: "<token key>=<amount>"},
		},
		Action: withNode(deposit),
	},
	{
		Name:  "payouts",
		Usage: "list transfer sets waiting for custody",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "flush", Usage: "retry sending them first"},
		},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			if c.Bool("flush") {
				return n.engine.FlushPayouts(ctx)
			}
			return n.engine.GetPayouts(), nil
		}),
	},
	{
		Name:      "incentives-list",
		Usage:     "list incentive packages of a round",
		ArgsUsage: "[index]",
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			index, err := indexArg(c)
			if err != nil {
				return nil, err
			}
			return n.engine.GetIncentives(index)
		}),
	},
	{
		Name:  "balances",
		Usage: "total outstanding claims per token",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "decimals", Value: 6},
		},
		Action: withNode(func(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
			view, err := n.view()
			if err != nil {
				return nil, err
			}
			balances, err := view.Balances()
			if err != nil {
				return nil, err
			}
			return formatBalances(balances, int32(c.Int("decimals"))), nil
		}),
	},
	serveCommand,
}

// withNode opens the stored lottery, runs action and prints its result as JSON.
func withNode(action func(ctx context.Context, c *cli.Context, n *node) (interface{}, error)) func(*cli.Context) error {
	return func(c *cli.Context) error {
		ctx := context.Background()
		n, err := open(ctx, configOf(c))
		if err != nil {
			return err
		}
		defer n.Close()

		result, err := action(ctx, c, n)
		if err != nil {
			return err
		}
		return printJSON(result)
	}
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

func initLottery(c *cli.Context) error {
	cfg := configOf(c)
	if c.NArg() != 1 {
		return xerrors.New("init needs the lottery definition file")
	}

	req, err := config.LoadLotteryFile(c.Args().First())
	if err != nil {
		return err
	}
	state, err := lottery.NewState(*req, time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := storage.Open(cfg.Storage, cfg.DBPath)
	if err != nil {
		return err
	}
	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNoState) {
		_ = store.Close()
		if err == nil {
			return xerrors.Errorf("%s already holds a lottery", cfg.DBPath)
		}
		return err
	}

	n, err := start(ctx, cfg, store, state)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := store.Save(ctx, state); err != nil {
		return err
	}
	return printJSON(n.engine.GetLottery())
}

func buy(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
	wallet := c.String("wallet")
	view, err := n.view()
	if err != nil {
		return nil, err
	}
	cfg, err := view.CurrentConfig()
	if err != nil {
		return nil, err
	}
	count := uint32(c.Uint("count"))
	cost, err := token.Mul(cfg.TicketPrice, uint64(count))
	if err != nil {
		return nil, err
	}

	funds, err := parseCoins(c.StringSlice("funds"))
	if err != nil {
		return nil, err
	}
	owed := token.Coin{Token: cfg.Token, Amount: cost}
	if owed.Token.IsNative() && len(funds) == 0 {
		funds = []token.Coin{owed}
	}
	if !owed.Token.IsNative() && c.Bool("deposited") {
		if err := n.deposits.Deposit(ctx, wallet, owed); err != nil {
			return nil, err
		}
	}

	var message *string
	if c.IsSet("message") {
		m := c.String("message")
		message = &m
	}

	return n.engine.BuyTickets(ctx, lottery.BuyRequest{
		Wallet:   wallet,
		Count:    count,
		Message:  message,
		IsPublic: c.Bool("public"),
		Funds:    funds,
	})
}

func addIncentives(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
	wallet := c.String("wallet")
	rewards, err := parseRewards(c.StringSlice("reward"))
	if err != nil {
		return nil, err
	}

	var funds []token.Coin
	for _, r := range rewards {
		if r.Reward.Token.IsNative() {
			funds = append(funds, r.Reward)
		} else if c.Bool("deposited") {
			if err := n.deposits.Deposit(ctx, wallet, r.Reward); err != nil {
				return nil, err
			}
		}
	}

	var message *string
	if c.IsSet("message") {
		m := c.String("message")
		message = &m
	}

	return n.engine.AddIncentives(ctx, lottery.IncentiveRequest{
		Wallet:  wallet,
		Rewards: rewards,
		Message: message,
		Funds:   funds,
	})
}

func deposit(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
	if c.String("owner") != n.engine.GetLottery().Owner {
		return nil, xerrors.Errorf("deposit attested by %q: %w", c.String("owner"), lottery.ErrUnauthorized)
	}
	coin, err := parseCoin(c.String("coin"))
	if err != nil {
		return nil, err
	}
	if err := n.deposits.Deposit(ctx, c.String("wallet"), coin); err != nil {
		return nil, err
	}
	return coin, nil
}

type roundView struct {
	*lottery.Round
	Pot string `json:"pot"`
}

func showRound(ctx context.Context, c *cli.Context, n *node) (interface{}, error) {
	index, err := indexArg(c)
	if err != nil {
		return nil, err
	}
	round, err := n.engine.GetRound(lottery.RoundQuery{
		Index:   index,
		Winners: c.Bool("winners"),
		Players: c.Bool("players"),
		Orders:  c.Bool("orders"),
	})
	if err != nil {
		return nil, err
	}

	pot, err := token.Mul(round.Config.TicketPrice, round.Counts.Tickets)
	if err != nil {
		return nil, err
	}
	return roundView{Round: round, Pot: formatAmount(pot, int32(c.Int("decimals"))) + " " + round.Config.Token.ID()}, nil
}

func indexArg(c *cli.Context) (*uint32, error) {
	if c.NArg() == 0 {
		return nil, nil
	}
	index, err := strconv.ParseUint(c.Args().First(), 10, 32)
	if err != nil {
		return nil, xerrors.Errorf("round index %q: %w", c.Args().First(), err)
	}
	i := uint32(index)
	return &i, nil
}
