package lottery

import (
	"golang.org/x/xerrors"

	"raffle/internal/token"
)

func (c *RoundConfig) Validate() error {
	if c.TicketPrice == 0 {
		return xerrors.Errorf("zero ticket price: %w", ErrInvalidConfig)
	}

	if err := c.Token.Validate(); err != nil {
		return xerrors.Errorf("round token: %w", err)
	}

	t := c.Targets
	if t.WalletCount == nil && t.TicketCount == nil && t.DurationMinutes == nil {
		return xerrors.Errorf("no round target set: %w", ErrInvalidConfig)
	}
	if (t.WalletCount != nil && *t.WalletCount == 0) || (t.TicketCount != nil && *t.TicketCount == 0) {
		return xerrors.Errorf("zero round target: %w", ErrInvalidConfig)
	}

	if c.MaxTicketsPerWallet != nil && *c.MaxTicketsPerWallet == 0 {
		return xerrors.Errorf("zero max tickets per wallet: %w", ErrInvalidConfig)
	}

	if err := c.Selection.Method.validate(); err != nil {
		return err
	}

	var royalties uint64
	for _, r := range c.Royalties {
		if r.Wallet == "" {
			return xerrors.Errorf("royalty without wallet: %w", ErrInvalidConfig)
		}
		royalties += uint64(r.Pct)
	}
	if royalties > 100 {
		return xerrors.Errorf("royalties sum to %d%%: %w", royalties, ErrInvalidConfig)
	}

	return nil
}

func (m Method) validate() error {
	switch {
	case m.Percent != nil && len(m.Fixed) > 0:
		return xerrors.Errorf("both percent and fixed selection: %w", ErrInvalidConfig)
	case m.Percent != nil:
		if m.Percent.Pct == 0 || m.Percent.Pct > 100 {
			return xerrors.Errorf("selection percent %d: %w", m.Percent.Pct, ErrInvalidConfig)
		}
		if m.Percent.Max != nil && *m.Percent.Max == 0 {
			return xerrors.Errorf("zero selection max: %w", ErrInvalidConfig)
		}
	case len(m.Fixed) > 0:
		var sum uint64
		for _, w := range m.Fixed {
			if w == 0 {
				return xerrors.Errorf("zero fixed position weight: %w", ErrInvalidConfig)
			}
			sum += uint64(w)
		}
		if sum > 100 {
			return xerrors.Errorf("fixed positions sum to %d%%: %w", sum, ErrInvalidConfig)
		}
	default:
		return xerrors.Errorf("no selection method: %w", ErrInvalidConfig)
	}
	return nil
}

// weights are the relative shares of each winning position.
func (m Method) weights(positions int) []uint64 {
	weights := make([]uint64, positions)
	for i := range weights {
		if i < len(m.Fixed) {
			weights[i] = uint64(m.Fixed[i])
		} else {
			weights[i] = 1
		}
	}
	return weights
}

func (c *RoundConfig) cost(count uint32) (token.Coin, error) {
	amount, err := token.Mul(c.TicketPrice, uint64(count))
	if err != nil {
		return token.Coin{}, xerrors.Errorf("ticket cost: %w", err)
	}
	return token.Coin{Token: c.Token, Amount: amount}, nil
}
