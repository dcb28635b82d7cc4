package lottery

import (
	"sort"

	"golang.org/x/xerrors"

	"raffle/internal/token"
)

// Claims maps wallet -> token -> pending amount. Stored amounts are always
// positive; an emptied wallet is removed.
type Claims map[string]map[token.Token]uint64

func (c Claims) Credit(wallet string, t token.Token, amount uint64) error {
	if amount == 0 {
		return xerrors.Errorf("credit %s to %s: %w", t, wallet, ErrInvalidAmount)
	}
	if err := t.Validate(); err != nil {
		return err
	}

	rewards, ok := c[wallet]
	if !ok {
		rewards = make(map[token.Token]uint64)
		c[wallet] = rewards
	}

	total, err := token.Add(rewards[t], amount)
	if err != nil {
		return xerrors.Errorf("credit %s to %s: %w", t, wallet, err)
	}
	rewards[t] = total
	return nil
}

// Settle removes every entry of the wallet and returns the transfers paying them out.
func (c Claims) Settle(wallet string) ([]Transfer, error) {
	rewards, ok := c[wallet]
	if !ok || len(rewards) == 0 {
		return nil, xerrors.Errorf("wallet %s: %w", wallet, ErrNothingToClaim)
	}

	transfers := make([]Transfer, 0, len(rewards))
	for _, coin := range sortedCoins(rewards) {
		transfers = append(transfers, Transfer{Recipient: wallet, Token: coin.Token, Amount: coin.Amount})
	}

	delete(c, wallet)
	return transfers, nil
}

// List returns the claims sorted by wallet, rewards sorted by token key.
func (c Claims) List() []Claim {
	wallets := make([]string, 0, len(c))
	for wallet, rewards := range c {
		if len(rewards) > 0 {
			wallets = append(wallets, wallet)
		}
	}
	sort.Strings(wallets)

	claims := make([]Claim, 0, len(wallets))
	for _, wallet := range wallets {
		claims = append(claims, Claim{Wallet: wallet, Rewards: sortedCoins(c[wallet])})
	}
	return claims
}

// Balances sums outstanding claims per token. It is derived on every call.
func (c Claims) Balances() (Balances, error) {
	totals := make(map[token.Token]uint64)
	for _, rewards := range c {
		for t, amount := range rewards {
			total, err := token.Add(totals[t], amount)
			if err != nil {
				return Balances{}, err
			}
			totals[t] = total
		}
	}

	balances := Balances{Native: []Balance{}, Cw20: []Balance{}}
	for _, coin := range sortedCoins(totals) {
		id := coin.Token.ID()
		if coin.Token.IsNative() {
			balances.Native = append(balances.Native, Balance{Amount: coin.Amount, Denom: &id})
		} else {
			balances.Cw20 = append(balances.Cw20, Balance{Amount: coin.Amount, Address: &id})
		}
	}
	return balances, nil
}

func (c Claims) Clone() Claims {
	clone := make(Claims, len(c))
	for wallet, rewards := range c {
		inner := make(map[token.Token]uint64, len(rewards))
		for t, amount := range rewards {
			inner[t] = amount
		}
		clone[wallet] = inner
	}
	return clone
}

// ClaimsFromList rebuilds the ledger from its listed form.
func ClaimsFromList(list []Claim) (Claims, error) {
	claims := make(Claims)
	for _, claim := range list {
		for _, coin := range claim.Rewards {
			if err := claims.Credit(claim.Wallet, coin.Token, coin.Amount); err != nil {
				return nil, err
			}
		}
	}
	return claims, nil
}

func sortedCoins(amounts map[token.Token]uint64) []token.Coin {
	coins := make([]token.Coin, 0, len(amounts))
	for t, amount := range amounts {
		if amount > 0 {
			coins = append(coins, token.Coin{Token: t, Amount: amount})
		}
	}
	sort.Slice(coins, func(i, j int) bool {
		return coins[i].Token.Key() < coins[j].Token.Key()
	})
	return coins
}
