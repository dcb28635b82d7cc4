package lottery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/draw"
	"raffle/internal/logger"
	"raffle/internal/token"
)

var log = logger.Named("lottery")

// Collection pulls a pre-approved contract-token allowance into custody.
type Collection struct {
	From string
	Coin token.Coin
}

// Custody moves funds on behalf of the engine. Native payments arrive attached
// to the request and need no call.
type Custody interface {
	Collect(ctx context.Context, from string, coin token.Coin) error
	Send(ctx context.Context, transfers []Transfer) error
}

// Store persists a complete post-transition state atomically.
type Store interface {
	Save(ctx context.Context, state *State) error
}

// EntropySource returns the entropy stream for drawing a round.
type EntropySource func(lottery *Lottery, round *Round) (draw.Entropy, error)

// HashEntropySource seeds a blake3 stream with the secret and everything that
// fixed the round's outcome: its index, orders and the closing wallet.
func HashEntropySource(secret []byte) EntropySource {
	return func(lottery *Lottery, round *Round) (draw.Entropy, error) {
		orders, err := json.Marshal(round.Orders)
		if err != nil {
			return nil, err
		}

		var index [4]byte
		binary.BigEndian.PutUint32(index[:], round.Index)

		var endedBy string
		if round.EndedBy != nil {
			endedBy = *round.EndedBy
		}

		return draw.NewHashEntropy(secret, []byte(lottery.Name), index[:], orders, []byte(endedBy)), nil
	}
}

type Option func(*Engine)

func WithStore(store Store) Option {
	return func(e *Engine) { e.store = store }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithEntropy(source EntropySource) Option {
	return func(e *Engine) { e.entropy = source }
}

func WithSplitter(split Splitter) Option {
	return func(e *Engine) { e.split = split }
}

// Engine applies one request at a time. Each request runs against a clone of
// the state; the clone replaces the live state only after its collections went
// through and the store accepted it. Outbound transfers are queued in the
// state's outbox and sent after that, so a transfer is never sent for a state
// that was not persisted.
type Engine struct {
	mu      sync.RWMutex
	state   *State
	custody Custody
	store   Store
	now     func() time.Time
	entropy EntropySource
	split   Splitter
}

func NewEngine(state *State, custody Custody, opts ...Option) *Engine {
	e := &Engine{
		state:   state,
		custody: custody,
		now:     time.Now,
		entropy: HashEntropySource(randomSecret()),
		split:   ProportionalSplit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// randomSecret keeps draws unpredictable for engines built without WithEntropy.
func randomSecret() []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(xerrors.Errorf("entropy secret: %w", err))
	}
	return secret
}

type transition struct {
	engine  *Engine
	state   *State
	now     time.Time
	collect []Collection
	send    []Transfer
	// payee names the wallet a queued transfer set pays, empty for royalties.
	payee string
}

// apply runs fn on a clone of the state and commits it. The returned set is
// the one the transition queued, nil when it queued none.
func (e *Engine) apply(ctx context.Context, op string, fn func(t *transition) error) (*TransferSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &transition{engine: e, state: e.state.Clone(), now: e.now()}
	if err := fn(t); err != nil {
		log.Debug(op+": rejected", zap.Error(err))
		return nil, xerrors.Errorf("%s: %w", op, err)
	}

	set, err := e.commit(ctx, t)
	if err != nil {
		log.Error(op+": commit failed", zap.Error(err))
		return nil, xerrors.Errorf("%s: %w", op, err)
	}
	e.state = t.state
	log.Debug(op + "... done")

	if set == nil {
		return nil, nil
	}
	if err := e.flush(ctx); err != nil {
		log.Warn(op+": payout deferred", zap.String("transfer set", set.ID), zap.Error(err))
	}
	set.Pending = e.state.pending(set.ID)
	return set, nil
}

func (e *Engine) commit(ctx context.Context, t *transition) (*TransferSet, error) {
	var collected []Transfer
	for _, c := range t.collect {
		if err := e.custody.Collect(ctx, c.From, c.Coin); err != nil {
			e.refund(ctx, collected)
			return nil, xerrors.Errorf("collect %d %s from %s: %v: %w", c.Coin.Amount, c.Coin.Token, c.From, err, ErrInsufficientFunds)
		}
		collected = append(collected, Transfer{Recipient: c.From, Token: c.Coin.Token, Amount: c.Coin.Amount})
	}

	var set *TransferSet
	if len(t.send) > 0 {
		set = &TransferSet{ID: uuid.NewString(), Wallet: t.payee, Transfers: t.send, Pending: true}
		t.state.Outbox = append(t.state.Outbox, set.clone())
	}

	if e.store != nil {
		if err := e.store.Save(ctx, t.state); err != nil {
			e.refund(ctx, collected)
			return nil, xerrors.Errorf("persist state: %w", err)
		}
	}
	return set, nil
}

// flush sends the outbox in order. A set leaves the outbox once custody took
// all of it; a partial send keeps only the transfers that did not go out.
func (e *Engine) flush(ctx context.Context) error {
	for len(e.state.Outbox) > 0 {
		head := e.state.Outbox[0]

		sent := len(head.Transfers)
		sendErr := e.custody.Send(ctx, head.Transfers)
		if sendErr != nil {
			var partial *SendError
			if !errors.As(sendErr, &partial) {
				return xerrors.Errorf("send transfer set %s: %w", head.ID, sendErr)
			}
			sent = min(partial.Sent, len(head.Transfers))
		}

		next := *e.state
		next.Outbox = append([]TransferSet(nil), e.state.Outbox...)
		if sent == len(head.Transfers) {
			next.Outbox = next.Outbox[1:]
			if len(next.Outbox) == 0 {
				next.Outbox = nil
			}
		} else {
			head.Transfers = append([]Transfer(nil), head.Transfers[sent:]...)
			next.Outbox[0] = head
		}
		// sent transfers are gone whether or not the store keeps up
		e.state = &next

		if e.store != nil {
			if err := e.store.Save(ctx, e.state); err != nil {
				log.Error("persisting outbox failed", zap.String("transfer set", head.ID), zap.Error(err))
			}
		}
		if sendErr != nil {
			return xerrors.Errorf("send transfer set %s: %w", head.ID, sendErr)
		}
		log.Info("transfer set sent", zap.String("transfer set", head.ID), zap.Int("transfers", sent))
	}
	return nil
}

// FlushPayouts retries every queued transfer set and returns the ones still pending.
func (e *Engine) FlushPayouts(ctx context.Context) ([]TransferSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.flush(ctx)
	return e.state.outbox(), err
}

func (e *Engine) refund(ctx context.Context, collected []Transfer) {
	if len(collected) == 0 {
		return
	}
	if err := e.custody.Send(ctx, collected); err != nil {
		log.Error("refund collected allowances failed", zap.Error(err), zap.Int("transfers", len(collected)))
	}
}

func (e *Engine) BuyTickets(ctx context.Context, req BuyRequest) (*OrderReceipt, error) {
	var receipt *OrderReceipt
	_, err := e.apply(ctx, "buy tickets", func(t *transition) error {
		var err error
		receipt, err = t.buy(req)
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt.ID = uuid.NewString()
	log.Info("tickets bought",
		zap.String("receipt", receipt.ID),
		zap.String("wallet", receipt.Wallet),
		zap.Uint32("count", receipt.TicketCount),
		zap.Uint32("round", receipt.RoundIndex),
		zap.String("round status", string(receipt.RoundStatus)),
	)
	return receipt, nil
}

func (e *Engine) AddIncentives(ctx context.Context, req IncentiveRequest) (*IncentivePackage, error) {
	var pkg IncentivePackage
	_, err := e.apply(ctx, "add incentives", func(t *transition) error {
		added, err := t.addIncentives(req)
		if err != nil {
			return err
		}
		pkg = added.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("incentives added", zap.String("source", pkg.Source), zap.Int("rewards", len(pkg.Rewards)))
	return &pkg, nil
}

// ClaimRewards pays out every pending reward of the wallet at once.
func (e *Engine) ClaimRewards(ctx context.Context, wallet string) (*TransferSet, error) {
	set, err := e.apply(ctx, "claim rewards", func(t *transition) error {
		transfers, err := t.state.Claims.Settle(wallet)
		if err != nil {
			return err
		}
		t.payee = wallet
		t.send = append(t.send, transfers...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("rewards claimed",
		zap.String("transfer set", set.ID),
		zap.String("wallet", wallet),
		zap.Int("transfers", len(set.Transfers)),
		zap.Bool("pending", set.Pending),
	)
	return set, nil
}

// CloseRound lets any wallet close a round whose duration target has passed.
func (e *Engine) CloseRound(ctx context.Context, wallet string) (*Round, error) {
	var closed *Round
	_, err := e.apply(ctx, "close round", func(t *transition) error {
		round, err := t.closeRound(wallet)
		if err != nil {
			return err
		}
		closed = round.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (e *Engine) Activate(ctx context.Context, owner string) error {
	_, err := e.apply(ctx, "activate", func(t *transition) error {
		return t.activateLottery(owner)
	})
	return err
}

func (e *Engine) Cancel(ctx context.Context, owner string) error {
	_, err := e.apply(ctx, "cancel", func(t *transition) error {
		return t.cancel(owner)
	})
	return err
}
