package main

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"raffle/internal/lottery"
	"raffle/internal/token"
)

// formatAmount renders base units with the token's decimals, e.g. 1500000 -> "1.5".
func formatAmount(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

type balanceView struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Units  uint64 `json:"units,string"`
}

func formatBalances(b lottery.Balances, decimals int32) []balanceView {
	views := make([]balanceView, 0, len(b.Native)+len(b.Cw20))
	for _, n := range b.Native {
		views = append(views, balanceView{Token: token.NewNative(*n.Denom).Key(), Amount: formatAmount(n.Amount, decimals), Units: n.Amount})
	}
	for _, c := range b.Cw20 {
		views = append(views, balanceView{Token: token.NewContract(*c.Address).Key(), Amount: formatAmount(c.Amount, decimals), Units: c.Amount})
	}
	return views
}

// parseCoin reads "<token key>=<amount>" in base units.
func parseCoin(raw string) (token.Coin, error) {
	key, amount, ok := strings.Cut(raw, "=")
	if !ok {
		return token.Coin{}, xerrors.Errorf("coin %q is not <token>=<amount>", raw)
	}
	t, err := token.ParseKey(key)
	if err != nil {
		return token.Coin{}, xerrors.Errorf("coin %q: %w", raw, err)
	}
	units, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return token.Coin{}, xerrors.Errorf("coin %q: %w", raw, err)
	}
	return token.Coin{Token: t, Amount: units}, nil
}

func parseCoins(raw []string) ([]token.Coin, error) {
	coins := make([]token.Coin, 0, len(raw))
	for _, r := range raw {
		coin, err := parseCoin(r)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// parseRewards reads "<token key>=<amount>[@position]".
func parseRewards(raw []string) ([]lottery.IncentiveReward, error) {
	rewards := make([]lottery.IncentiveReward, 0, len(raw))
	for _, r := range raw {
		coinPart, positionPart, targeted := strings.Cut(r, "@")
		coin, err := parseCoin(coinPart)
		if err != nil {
			return nil, err
		}

		reward := lottery.IncentiveReward{Reward: coin}
		if targeted {
			position, err := strconv.ParseUint(positionPart, 10, 32)
			if err != nil {
				return nil, xerrors.Errorf("reward %q position: %w", r, err)
			}
			p := uint32(position)
			reward.Position = &p
		}
		rewards = append(rewards, reward)
	}
	return rewards, nil
}
