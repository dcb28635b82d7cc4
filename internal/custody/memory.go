package custody

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/logger"
	"raffle/internal/lottery"
	"raffle/internal/token"
)

var log = logger.Named("custody")

var (
	ErrAllowance = errors.New("custody: allowance too low")
	ErrBalance   = errors.New("custody: balance too low")
)

// Book is the balances and allowances of a Memory, as persisted.
type Book struct {
	Balances   map[string]map[token.Token]uint64 `json:"balances"`
	Allowances map[string]map[token.Token]uint64 `json:"allowances"`
}

// Journal persists the book after every change that moved funds.
type Journal interface {
	SaveBook(ctx context.Context, book Book) error
}

type Option func(*Memory)

func WithJournal(journal Journal) Option {
	return func(m *Memory) { m.journal = journal }
}

// Memory is an in-process custody account. Contract tokens move only through
// allowances and balances it tracks; native tokens arrive attached to
// requests, so outbound native transfers are taken as covered.
type Memory struct {
	mu         sync.Mutex
	address    string
	balances   map[string]map[token.Token]uint64
	allowances map[string]map[token.Token]uint64
	sent       []lottery.Transfer
	journal    Journal
}

func NewMemory(address string, opts ...Option) *Memory {
	m := &Memory{
		address:    address,
		balances:   make(map[string]map[token.Token]uint64),
		allowances: make(map[string]map[token.Token]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore replaces balances and allowances with a persisted book.
func (m *Memory) Restore(book Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = copyBook(book.Balances)
	m.allowances = copyBook(book.Allowances)
}

func (m *Memory) Book() Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book()
}

func (m *Memory) book() Book {
	return Book{Balances: copyBook(m.balances), Allowances: copyBook(m.allowances)}
}

// commit journals the book; on failure it rolls back to prev.
func (m *Memory) commit(ctx context.Context, prev Book) error {
	if m.journal == nil {
		return nil
	}
	if err := m.journal.SaveBook(ctx, m.book()); err != nil {
		m.balances, m.allowances = prev.Balances, prev.Allowances
		return xerrors.Errorf("custody: journal book: %w", err)
	}
	return nil
}

// Deposit records contract tokens owner transferred to custody ahead of a
// request, approved for collection by that request.
func (m *Memory) Deposit(ctx context.Context, owner string, coin token.Coin) error {
	if coin.Token.IsNative() {
		return xerrors.Errorf("deposit of native %s: %w", coin.Token.ID(), token.ErrUnknownToken)
	}
	if err := coin.Token.Validate(); err != nil {
		return err
	}
	if coin.Amount == 0 {
		return xerrors.Errorf("deposit of %s: %w", coin.Token, lottery.ErrInvalidAmount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.book()
	add(m.balances, owner, coin.Token, coin.Amount)
	add(m.allowances, owner, coin.Token, coin.Amount)
	if err := m.commit(ctx, prev); err != nil {
		return err
	}

	log.Debug("custody deposit", zap.String("owner", owner), zap.String("token", coin.Token.Key()), zap.Uint64("amount", coin.Amount))
	return nil
}

func (m *Memory) Address() string {
	return m.address
}

// Mint gives wallet a contract-token balance.
func (m *Memory) Mint(wallet string, coin token.Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	add(m.balances, wallet, coin.Token, coin.Amount)
}

// Approve lets custody pull up to coin.Amount from owner.
func (m *Memory) Approve(owner string, coin token.Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	add(m.allowances, owner, coin.Token, coin.Amount)
}

func (m *Memory) Balance(wallet string, t token.Token) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[wallet][t]
}

func (m *Memory) Allowance(owner string, t token.Token) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner][t]
}

// Sent lists every outbound transfer in order.
func (m *Memory) Sent() []lottery.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lottery.Transfer(nil), m.sent...)
}

func (m *Memory) Collect(ctx context.Context, from string, coin token.Coin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[from][coin.Token] < coin.Amount {
		return xerrors.Errorf("%s approved %d %s: %w", from, m.allowances[from][coin.Token], coin.Token, ErrAllowance)
	}
	if m.balances[from][coin.Token] < coin.Amount {
		return xerrors.Errorf("%s holds %d %s: %w", from, m.balances[from][coin.Token], coin.Token, ErrBalance)
	}

	prev := m.book()
	m.allowances[from][coin.Token] -= coin.Amount
	m.balances[from][coin.Token] -= coin.Amount
	add(m.balances, m.address, coin.Token, coin.Amount)
	if err := m.commit(ctx, prev); err != nil {
		return err
	}

	log.Debug("custody collected", zap.String("from", from), zap.String("token", coin.Token.Key()), zap.Uint64("amount", coin.Amount))
	return nil
}

// Send applies all transfers or none.
func (m *Memory) Send(ctx context.Context, transfers []lottery.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	need := make(map[token.Token]uint64)
	for _, tr := range transfers {
		if tr.Token.IsNative() {
			continue
		}
		total, err := token.Add(need[tr.Token], tr.Amount)
		if err != nil {
			return err
		}
		need[tr.Token] = total
	}
	for t, amount := range need {
		if m.balances[m.address][t] < amount {
			return xerrors.Errorf("custody holds %d %s, sending %d: %w", m.balances[m.address][t], t, amount, ErrBalance)
		}
	}

	prev := m.book()
	for _, tr := range transfers {
		if !tr.Token.IsNative() {
			m.balances[m.address][tr.Token] -= tr.Amount
		}
		add(m.balances, tr.Recipient, tr.Token, tr.Amount)
	}
	if err := m.commit(ctx, prev); err != nil {
		return err
	}

	for _, tr := range transfers {
		m.sent = append(m.sent, tr)
		log.Debug("custody sent", zap.String("recipient", tr.Recipient), zap.String("token", tr.Token.Key()), zap.Uint64("amount", tr.Amount))
	}
	return nil
}

func add(book map[string]map[token.Token]uint64, wallet string, t token.Token, amount uint64) {
	if book[wallet] == nil {
		book[wallet] = make(map[token.Token]uint64)
	}
	book[wallet][t] += amount
}

func copyBook(book map[string]map[token.Token]uint64) map[string]map[token.Token]uint64 {
	out := make(map[string]map[token.Token]uint64, len(book))
	for wallet, amounts := range book {
		inner := make(map[token.Token]uint64, len(amounts))
		for t, amount := range amounts {
			inner[t] = amount
		}
		out[wallet] = inner
	}
	return out
}
