package lottery

import (
	"encoding/base64"

	"golang.org/x/xerrors"

	"raffle/internal/token"
)

type IncentiveRequest struct {
	Wallet  string            `json:"wallet"`
	Rewards []IncentiveReward `json:"rewards"`
	Message *string           `json:"message"`
	Funds   []token.Coin      `json:"funds"`
}

func (t *transition) addIncentives(req IncentiveRequest) (*IncentivePackage, error) {
	if req.Wallet == "" {
		return nil, xerrors.Errorf("incentives without source wallet: %w", ErrUnauthorized)
	}
	if s := t.state.Lottery.Status; s != StatusActive && s != StatusPending {
		return nil, xerrors.Errorf("lottery is %s: %w", s, ErrInvalidRound)
	}

	round := t.state.Current()
	if round.Status != RoundPending && round.Status != RoundActive {
		return nil, xerrors.Errorf("round %d is %s: %w", round.Index, round.Status, ErrInvalidRound)
	}
	if len(req.Rewards) == 0 {
		return nil, xerrors.Errorf("incentive package without rewards: %w", ErrInvalidAmount)
	}

	owed := make([]token.Coin, 0, len(req.Rewards))
	rewards := make([]IncentiveReward, 0, len(req.Rewards))
	for _, r := range req.Rewards {
		if err := r.Reward.Token.Validate(); err != nil {
			return nil, err
		}
		if r.Reward.Amount == 0 {
			return nil, xerrors.Errorf("incentive of zero %s: %w", r.Reward.Token, ErrInvalidAmount)
		}
		owed = append(owed, r.Reward)
		rewards = append(rewards, IncentiveReward{Reward: r.Reward, Position: clonePtr(r.Position)})
	}

	if err := t.pay(req.Wallet, owed, req.Funds); err != nil {
		return nil, err
	}

	pkg := IncentivePackage{Source: req.Wallet, Rewards: rewards}
	if req.Message != nil {
		m := base64.StdEncoding.EncodeToString([]byte(*req.Message))
		pkg.Message = &m
	}

	t.state.Incentives[round.Index] = append(t.state.Incentives[round.Index], pkg)
	return &pkg, nil
}
