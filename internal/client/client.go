package client

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/logger"
	"raffle/internal/lottery"
)

var log = logger.Named("client")

var ErrNotLoaded = xerrors.New("client: cache not loaded, call Refresh")

// Source is the read side of the engine.
type Source interface {
	GetLottery() lottery.Lottery
	GetRound(q lottery.RoundQuery) (*lottery.Round, error)
	GetClaims() []lottery.Claim
	GetBalances() (lottery.Balances, error)
}

// Cache holds the last lottery view a client fetched. It only changes on
// Refresh; nothing synchronises behind the caller's back.
type Cache struct {
	source Source

	mu       sync.RWMutex
	loaded   bool
	lottery  lottery.Lottery
	round    *lottery.Round
	claims   []lottery.Claim
	balances lottery.Balances
}

func New(source Source) *Cache {
	return &Cache{source: source}
}

func (c *Cache) Refresh() error {
	log.Debug("refreshing cache...")

	round, err := c.source.GetRound(lottery.RoundQuery{Winners: true, Players: true, Orders: true})
	if err != nil {
		return xerrors.Errorf("refresh round: %w", err)
	}
	balances, err := c.source.GetBalances()
	if err != nil {
		return xerrors.Errorf("refresh balances: %w", err)
	}
	l := c.source.GetLottery()
	claims := c.source.GetClaims()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	c.lottery = l
	c.round = round
	c.claims = claims
	c.balances = balances

	log.Debug("refreshing cache... done", zap.Uint32("round", round.Index), zap.String("round status", string(round.Status)))
	return nil
}

func (c *Cache) Lottery() (lottery.Lottery, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return lottery.Lottery{}, ErrNotLoaded
	}
	return c.lottery, nil
}

// Round is the current round as of the last Refresh.
func (c *Cache) Round() (*lottery.Round, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	return c.round.Clone(), nil
}

// CurrentConfig is the configuration of the cached current round.
func (c *Cache) CurrentConfig() (lottery.RoundConfig, error) {
	round, err := c.Round()
	if err != nil {
		return lottery.RoundConfig{}, err
	}
	return round.Config, nil
}

// ClaimsOf returns the cached pending rewards of one wallet, nil when it has none.
func (c *Cache) ClaimsOf(wallet string) (*lottery.Claim, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	for _, claim := range c.claims {
		if claim.Wallet == wallet {
			claim.Rewards = append(claim.Rewards[:0:0], claim.Rewards...)
			return &claim, nil
		}
	}
	return nil, nil
}

func (c *Cache) Balances() (lottery.Balances, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return lottery.Balances{}, ErrNotLoaded
	}
	return c.balances, nil
}
