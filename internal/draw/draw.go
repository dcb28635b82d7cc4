package draw

import (
	"math/bits"

	"golang.org/x/xerrors"
)

// PercentDraws is the number of positions a percent selection draws:
// ceil(total*pct/100), capped by max when set, never less than one.
func PercentDraws(total uint64, pct uint64, max uint64) uint64 {
	hi, lo := bits.Mul64(total, pct)
	var draws uint64
	if hi >= 100 {
		// more positions than any pool could fill; the cap below applies
		draws = ^uint64(0)
	} else {
		quo, rem := bits.Div64(hi, lo, 100)
		draws = quo
		if rem != 0 {
			draws++
		}
	}

	if max > 0 && draws > max {
		draws = max
	}
	if draws == 0 {
		draws = 1
	}
	return draws
}

// Select draws count positions from the pool and returns, per position, the
// index of the winning entry. Without replacement the drawn ticket leaves the
// pool, so a player may still win again with their remaining tickets.
func Select(pool *Pool, count int, withReplacement bool, entropy Entropy) ([]int, error) {
	if count <= 0 {
		return nil, xerrors.Errorf("draw: invalid number of positions %d", count)
	}
	if !withReplacement && uint64(count) > pool.Total() {
		return nil, xerrors.Errorf("draw: %d positions exceed %d tickets: %w", count, pool.Total(), ErrEmptyPool)
	}

	winners := make([]int, 0, count)
	for position := 0; position < count; position++ {
		if pool.Total() == 0 {
			return nil, ErrEmptyPool
		}

		rank, err := entropy.Intn(pool.Total())
		if err != nil {
			return nil, xerrors.Errorf("draw: position %d: %w", position, err)
		}

		entry, err := pool.Find(rank)
		if err != nil {
			return nil, err
		}
		winners = append(winners, entry)

		if !withReplacement {
			if err := pool.Remove(entry); err != nil {
				return nil, err
			}
		}
	}
	return winners, nil
}
