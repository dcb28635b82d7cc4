package lottery

// RoundQuery selects a round (the current one when Index is nil) and which of
// its collections to include. Excluded collections come back nil.
type RoundQuery struct {
	Index   *uint32
	Winners bool
	Players bool
	Orders  bool
}

func (e *Engine) GetRound(q RoundQuery) (*Round, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	round := e.state.Current()
	if q.Index != nil {
		var err error
		if round, err = e.state.Round(*q.Index); err != nil {
			return nil, err
		}
	}

	view := round.Clone()
	if !q.Winners {
		view.Winners = nil
	}
	if !q.Players {
		view.Players = nil
	}
	if !q.Orders {
		view.Orders = nil
	}
	return view, nil
}

// GetPayouts lists the transfer sets still waiting for custody.
func (e *Engine) GetPayouts() []TransferSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.outbox()
}

func (e *Engine) GetLottery() Lottery {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Lottery.clone()
}

func (e *Engine) GetClaims() []Claim {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Claims.List()
}

// GetIncentives lists the packages of a round, the current one when index is nil.
func (e *Engine) GetIncentives(index *uint32) ([]IncentivePackage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i := e.state.Lottery.Rounds.Index
	if index != nil {
		if _, err := e.state.Round(*index); err != nil {
			return nil, err
		}
		i = *index
	}

	packages := make([]IncentivePackage, 0, len(e.state.Incentives[i]))
	for _, p := range e.state.Incentives[i] {
		packages = append(packages, p.clone())
	}
	return packages, nil
}

func (e *Engine) GetBalances() (Balances, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Claims.Balances()
}

// Snapshot returns a deep copy of the whole state.
func (e *Engine) Snapshot() *State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}
