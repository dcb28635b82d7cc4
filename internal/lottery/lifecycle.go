package lottery

import (
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/draw"
)

func (r *Round) activate(now time.Time) {
	r.Status = RoundActive
	r.StartedAt = now.UTC()
}

// targetReached is true once any configured target is met. Duration is only
// checked when someone interacts with the round; nothing runs in the background.
func (r *Round) targetReached(now time.Time) bool {
	t := r.Config.Targets
	if t.TicketCount != nil && r.Counts.Tickets >= *t.TicketCount {
		return true
	}
	if t.WalletCount != nil && r.Counts.Wallets >= *t.WalletCount {
		return true
	}
	if t.DurationMinutes != nil {
		deadline := r.StartedAt.Add(time.Duration(*t.DurationMinutes) * time.Minute)
		if !now.Before(deadline) {
			return true
		}
	}
	return false
}

// close draws and allocates the round, completes it and opens the next one.
// All of it happens inside the caller's transition, so no one ever observes a
// closed round without winners.
func (t *transition) close(round *Round, endedBy string) error {
	log.Info("closing round", zap.Uint32("round", round.Index), zap.String("ended by", endedBy))

	round.Status = RoundClosed
	round.EndedBy = &endedBy

	winners, err := t.draw(round)
	if err != nil {
		return xerrors.Errorf("draw round %d: %w", round.Index, err)
	}

	alloc, err := Allocate(round, winners, t.state.Incentives[round.Index], t.engine.split)
	if err != nil {
		return xerrors.Errorf("allocate round %d: %w", round.Index, err)
	}

	for _, c := range alloc.Credits {
		if err := t.state.Claims.Credit(c.Wallet, c.Coin.Token, c.Coin.Amount); err != nil {
			return err
		}
	}
	t.send = append(t.send, alloc.Autosend...)

	round.Winners = alloc.Winners
	round.Status = RoundComplete
	log.Info("closing round... done", zap.Uint32("round", round.Index), zap.Int("winners", len(round.Winners)))

	t.advance()
	return nil
}

func (t *transition) draw(round *Round) ([]Winner, error) {
	counts := make([]uint64, len(round.Players))
	for i, p := range round.Players {
		counts[i] = p.TicketCount
	}

	pool, err := draw.NewPool(counts)
	if err != nil {
		return nil, err
	}

	selection := round.Config.Selection
	positions := uint64(len(selection.Method.Fixed))
	if p := selection.Method.Percent; p != nil {
		var max uint64
		if p.Max != nil {
			max = uint64(*p.Max)
		}
		positions = draw.PercentDraws(pool.Total(), uint64(p.Pct), max)
	}
	if !selection.WithReplacement && positions > pool.Total() {
		positions = pool.Total()
	}
	if positions > math.MaxUint32 {
		return nil, xerrors.Errorf("%d winning positions: %w", positions, ErrArithmeticOverflow)
	}
	round.Counts.Drawings = uint32(positions)

	entropy, err := t.engine.entropy(&t.state.Lottery, round)
	if err != nil {
		return nil, err
	}

	entries, err := draw.Select(pool, int(positions), selection.WithReplacement, entropy)
	if err != nil {
		return nil, err
	}

	winners := make([]Winner, len(entries))
	for position, entry := range entries {
		winners[position] = Winner{Wallet: round.Players[entry].Wallet, Position: uint32(position)}
	}
	return winners, nil
}

// advance opens the next round, or completes the lottery after the last one.
func (t *transition) advance() {
	rounds := &t.state.Lottery.Rounds
	if rounds.Index+1 >= rounds.Count {
		t.state.Lottery.Status = StatusComplete
		log.Info("lottery complete", zap.String("lottery", t.state.Lottery.Name))
		return
	}

	rounds.Index++
	t.state.Rounds = append(t.state.Rounds, newRound(rounds.Index, rounds.configFor(rounds.Index), t.now))
	log.Debug("next round opened", zap.Uint32("round", rounds.Index))
}

func (t *transition) closeRound(wallet string) (*Round, error) {
	if wallet == "" {
		return nil, xerrors.Errorf("close round without wallet: %w", ErrUnauthorized)
	}

	round := t.state.Current()
	if round.Status != RoundActive || round.Counts.Tickets == 0 {
		return nil, xerrors.Errorf("round %d is %s with %d tickets: %w", round.Index, round.Status, round.Counts.Tickets, ErrInvalidRound)
	}
	if !round.targetReached(t.now) {
		return nil, xerrors.Errorf("round %d has not reached a target: %w", round.Index, ErrInvalidRound)
	}

	if err := t.close(round, wallet); err != nil {
		return nil, err
	}
	return round, nil
}

func (t *transition) activateLottery(owner string) error {
	if owner != t.state.Lottery.Owner {
		return xerrors.Errorf("%s is not the owner: %w", owner, ErrUnauthorized)
	}

	changed := false
	if t.state.Lottery.Status == StatusPending {
		t.state.Lottery.Status = StatusActive
		changed = true
	}

	round := t.state.Current()
	if t.state.Lottery.Status == StatusActive && round.Status == RoundPending {
		round.activate(t.now)
		changed = true
	}

	if !changed {
		return xerrors.Errorf("lottery is %s, round %d is %s: %w", t.state.Lottery.Status, round.Index, round.Status, ErrInvalidRound)
	}
	return nil
}

// cancel stops the current round before it closes. Ticket payments and
// incentives become claims of whoever paid them.
func (t *transition) cancel(owner string) error {
	if owner != t.state.Lottery.Owner {
		return xerrors.Errorf("%s is not the owner: %w", owner, ErrUnauthorized)
	}

	round := t.state.Current()
	if round.Status != RoundPending && round.Status != RoundActive {
		return xerrors.Errorf("round %d is %s: %w", round.Index, round.Status, ErrInvalidRound)
	}

	for _, o := range round.Orders {
		cost, err := round.Config.cost(o.TicketCount)
		if err != nil {
			return err
		}
		if err := t.state.Claims.Credit(o.Wallet, cost.Token, cost.Amount); err != nil {
			return err
		}
	}

	for _, pkg := range t.state.Incentives[round.Index] {
		for _, r := range pkg.Rewards {
			if err := t.state.Claims.Credit(pkg.Source, r.Reward.Token, r.Reward.Amount); err != nil {
				return err
			}
		}
	}

	round.Status = RoundCanceled
	t.state.Lottery.Status = StatusCanceled
	log.Info("round canceled", zap.Uint32("round", round.Index), zap.Int("orders refunded", len(round.Orders)))
	return nil
}
