package lottery

import (
	"sort"

	"golang.org/x/xerrors"

	"raffle/internal/token"
)

// Splitter divides total over winning positions according to their weights.
// Shares must be non-negative and sum to exactly total.
type Splitter func(total uint64, weights []uint64) ([]uint64, error)

// ProportionalSplit gives position i floor(total*w_i/sum(w)); the rounding
// remainder goes to the last position.
func ProportionalSplit(total uint64, weights []uint64) ([]uint64, error) {
	if len(weights) == 0 {
		return nil, xerrors.Errorf("split over no positions: %w", ErrInvalidRound)
	}

	sum, err := token.Sum(weights...)
	if err != nil {
		return nil, err
	}
	if sum == 0 {
		return nil, xerrors.Errorf("split with zero weights: %w", ErrInvalidConfig)
	}

	shares := make([]uint64, len(weights))
	var assigned uint64
	for i, w := range weights {
		share, err := token.MulDiv(total, w, sum)
		if err != nil {
			return nil, err
		}
		shares[i] = share
		assigned += share
	}
	shares[len(shares)-1] += total - assigned
	return shares, nil
}

// Credit is one claims ledger increment produced by an allocation.
type Credit struct {
	Wallet string
	Coin   token.Coin
}

type Allocation struct {
	Credits  []Credit
	Autosend []Transfer
	Winners  []Winner
}

// Allocate splits a closed round's pot and incentives. Royalties are cut from
// the ticket pot only; incentives without a position are split over winners by
// position weight, per token; incentives with a position go whole to that
// winner. The result conserves every token exactly or fails.
func Allocate(round *Round, winners []Winner, incentives []IncentivePackage, split Splitter) (*Allocation, error) {
	if len(winners) == 0 {
		return nil, xerrors.Errorf("round %d has no winners: %w", round.Index, ErrInvalidRound)
	}
	if split == nil {
		split = ProportionalSplit
	}

	cfg := round.Config
	pot, err := token.Mul(cfg.TicketPrice, round.Counts.Tickets)
	if err != nil {
		return nil, xerrors.Errorf("pot size: %w", err)
	}

	expected := map[token.Token]uint64{cfg.Token: pot}
	produced := make(map[token.Token]uint64)
	credits := make(map[string]map[token.Token]uint64)
	alloc := &Allocation{}

	credit := func(wallet string, t token.Token, amount uint64) error {
		if amount == 0 {
			return nil
		}
		if credits[wallet] == nil {
			credits[wallet] = make(map[token.Token]uint64)
		}
		var err error
		if credits[wallet][t], err = token.Add(credits[wallet][t], amount); err != nil {
			return err
		}
		produced[t], err = token.Add(produced[t], amount)
		return err
	}

	var royalties uint64
	for _, r := range cfg.Royalties {
		amount, err := token.MulDiv(pot, uint64(r.Pct), 100)
		if err != nil {
			return nil, xerrors.Errorf("royalty for %s: %w", r.Wallet, err)
		}
		royalties += amount
		if amount == 0 {
			continue
		}

		if r.Autosend {
			alloc.Autosend = append(alloc.Autosend, Transfer{Recipient: r.Wallet, Token: cfg.Token, Amount: amount})
			if produced[cfg.Token], err = token.Add(produced[cfg.Token], amount); err != nil {
				return nil, err
			}
		} else if err := credit(r.Wallet, cfg.Token, amount); err != nil {
			return nil, err
		}
	}

	rest, err := token.Sub(pot, royalties)
	if err != nil {
		return nil, xerrors.Errorf("royalties of %d exceed pot of %d: %w", royalties, pot, ErrConservation)
	}
	untargeted := map[token.Token]uint64{cfg.Token: rest}
	targeted := make([]map[token.Token]uint64, len(winners))

	for _, pkg := range incentives {
		for _, reward := range pkg.Rewards {
			t, amount := reward.Reward.Token, reward.Reward.Amount
			if expected[t], err = token.Add(expected[t], amount); err != nil {
				return nil, xerrors.Errorf("incentive total: %w", err)
			}

			// positions past the last draw fall back to the shared pot
			if reward.Position != nil && int(*reward.Position) < len(winners) {
				pos := *reward.Position
				if targeted[pos] == nil {
					targeted[pos] = make(map[token.Token]uint64)
				}
				if targeted[pos][t], err = token.Add(targeted[pos][t], amount); err != nil {
					return nil, err
				}
				continue
			}

			if untargeted[t], err = token.Add(untargeted[t], amount); err != nil {
				return nil, xerrors.Errorf("incentive total: %w", err)
			}
		}
	}

	weights := cfg.Selection.Method.weights(len(winners))
	alloc.Winners = make([]Winner, len(winners))
	copy(alloc.Winners, winners)
	for i := range alloc.Winners {
		alloc.Winners[i].Amount = 0
	}

	for _, coin := range sortedCoins(untargeted) {
		shares, err := split(coin.Amount, weights)
		if err != nil {
			return nil, xerrors.Errorf("split %s: %w", coin.Token, err)
		}
		if len(shares) != len(winners) {
			return nil, xerrors.Errorf("split %s into %d shares for %d winners: %w", coin.Token, len(shares), len(winners), ErrConservation)
		}

		for i, share := range shares {
			if err := credit(winners[i].Wallet, coin.Token, share); err != nil {
				return nil, err
			}
			if coin.Token == cfg.Token {
				alloc.Winners[i].Amount += share
			}
		}
	}

	for pos, rewards := range targeted {
		for _, coin := range sortedCoins(rewards) {
			if err := credit(winners[pos].Wallet, coin.Token, coin.Amount); err != nil {
				return nil, err
			}
			if coin.Token == cfg.Token {
				alloc.Winners[pos].Amount += coin.Amount
			}
		}
	}

	for t, want := range expected {
		if produced[t] != want {
			return nil, xerrors.Errorf("%s allocated %d of %d: %w", t, produced[t], want, ErrConservation)
		}
	}
	for t, got := range produced {
		if _, ok := expected[t]; !ok && got > 0 {
			return nil, xerrors.Errorf("%s allocated without source: %w", t, ErrConservation)
		}
	}

	wallets := make([]string, 0, len(credits))
	for wallet := range credits {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)
	for _, wallet := range wallets {
		for _, coin := range sortedCoins(credits[wallet]) {
			alloc.Credits = append(alloc.Credits, Credit{Wallet: wallet, Coin: coin})
		}
	}

	return alloc, nil
}
