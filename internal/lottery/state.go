package lottery

import (
	"time"

	"golang.org/x/xerrors"
)

// State is everything the engine owns. The Store persists it as a unit.
type State struct {
	Lottery    Lottery
	Rounds     []*Round
	Incentives map[uint32][]IncentivePackage
	Claims     Claims
	// Outbox holds committed transfer sets custody has not sent yet, oldest first.
	Outbox []TransferSet
}

type InstantiateRequest struct {
	Owner    string        `json:"owner" toml:"owner"`
	Name     string        `json:"name" toml:"name"`
	Activate bool          `json:"activate" toml:"activate"`
	Count    uint32        `json:"count" toml:"count"`
	Configs  []RoundConfig `json:"configs" toml:"configs"`
}

// NewState validates the lottery definition and opens its first round.
func NewState(req InstantiateRequest, now time.Time) (*State, error) {
	if req.Owner == "" {
		return nil, xerrors.Errorf("lottery without owner: %w", ErrUnauthorized)
	}
	if len(req.Configs) == 0 {
		return nil, xerrors.Errorf("lottery without round configs: %w", ErrInvalidConfig)
	}
	if req.Count == 0 {
		return nil, xerrors.Errorf("lottery with zero rounds: %w", ErrInvalidConfig)
	}

	for i := range req.Configs {
		if err := req.Configs[i].Validate(); err != nil {
			return nil, xerrors.Errorf("round config %d: %w", i, err)
		}
	}

	status := StatusPending
	if req.Activate {
		status = StatusActive
	}

	s := &State{
		Lottery: Lottery{
			Owner:  req.Owner,
			Name:   req.Name,
			Status: status,
			Rounds: Rounds{Count: req.Count, Configs: req.Configs},
		},
		Incentives: make(map[uint32][]IncentivePackage),
		Claims:     make(Claims),
	}
	s.Rounds = append(s.Rounds, newRound(0, s.Lottery.Rounds.configFor(0), now))
	return s, nil
}

func (r Rounds) configFor(index uint32) RoundConfig {
	return r.Configs[int(index)%len(r.Configs)]
}

func newRound(index uint32, cfg RoundConfig, now time.Time) *Round {
	round := &Round{
		Index:     index,
		Status:    RoundPending,
		Config:    cfg,
		StartedAt: now.UTC(),
		Orders:    []TicketOrder{},
		Players:   []Player{},
	}
	// fixed selections know their position count up front
	round.Counts.Drawings = uint32(len(cfg.Selection.Method.Fixed))
	return round
}

// Current is the round the lottery is running now.
func (s *State) Current() *Round {
	return s.Rounds[s.Lottery.Rounds.Index]
}

func (s *State) Round(index uint32) (*Round, error) {
	if int(index) >= len(s.Rounds) {
		return nil, xerrors.Errorf("round %d not found: %w", index, ErrInvalidRound)
	}
	return s.Rounds[index], nil
}

func (s *State) Clone() *State {
	clone := &State{
		Lottery:    s.Lottery.clone(),
		Rounds:     make([]*Round, len(s.Rounds)),
		Incentives: make(map[uint32][]IncentivePackage, len(s.Incentives)),
		Claims:     s.Claims.Clone(),
	}
	for i, r := range s.Rounds {
		clone.Rounds[i] = r.Clone()
	}
	for _, set := range s.Outbox {
		clone.Outbox = append(clone.Outbox, set.clone())
	}
	for index, packages := range s.Incentives {
		cloned := make([]IncentivePackage, len(packages))
		for i, p := range packages {
			cloned[i] = p.clone()
		}
		clone.Incentives[index] = cloned
	}
	return clone
}

func (s *State) pending(id string) bool {
	for _, set := range s.Outbox {
		if set.ID == id {
			return true
		}
	}
	return false
}

func (s *State) outbox() []TransferSet {
	sets := make([]TransferSet, len(s.Outbox))
	for i, set := range s.Outbox {
		sets[i] = set.clone()
	}
	return sets
}

func (l Lottery) clone() Lottery {
	configs := make([]RoundConfig, len(l.Rounds.Configs))
	for i, c := range l.Rounds.Configs {
		configs[i] = c.clone()
	}
	l.Rounds.Configs = configs
	return l
}

func (c RoundConfig) clone() RoundConfig {
	c.MaxTicketsPerWallet = clonePtr(c.MaxTicketsPerWallet)
	c.Targets = Targets{
		WalletCount:     clonePtr(c.Targets.WalletCount),
		TicketCount:     clonePtr(c.Targets.TicketCount),
		DurationMinutes: clonePtr(c.Targets.DurationMinutes),
	}
	if p := c.Selection.Method.Percent; p != nil {
		c.Selection.Method.Percent = &Percent{Pct: p.Pct, Max: clonePtr(p.Max)}
	}
	c.Selection.Method.Fixed = cloneSlice(c.Selection.Method.Fixed)
	c.Royalties = cloneSlice(c.Royalties)
	return c
}

func (r *Round) Clone() *Round {
	clone := *r
	clone.players = nil
	clone.Config = r.Config.clone()
	clone.EndedBy = clonePtr(r.EndedBy)
	clone.Winners = cloneSlice(r.Winners)
	clone.Orders = make([]TicketOrder, len(r.Orders))
	for i, o := range r.Orders {
		o.Message = clonePtr(o.Message)
		clone.Orders[i] = o
	}
	clone.Players = make([]Player, len(r.Players))
	for i, p := range r.Players {
		p.OrderIndices = cloneSlice(p.OrderIndices)
		clone.Players[i] = p
	}
	return &clone
}

func (p IncentivePackage) clone() IncentivePackage {
	p.Message = clonePtr(p.Message)
	rewards := make([]IncentiveReward, len(p.Rewards))
	for i, r := range p.Rewards {
		r.Position = clonePtr(r.Position)
		rewards[i] = r
	}
	p.Rewards = rewards
	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneSlice keeps nil as nil so projections still tell "absent" from "empty".
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
