package lottery

import (
	"encoding/base64"

	"golang.org/x/xerrors"

	"raffle/internal/token"
)

type BuyRequest struct {
	Wallet   string       `json:"wallet"`
	Count    uint32       `json:"count"`
	Message  *string      `json:"message"`
	IsPublic bool         `json:"is_public"`
	Funds    []token.Coin `json:"funds"`
}

func (t *transition) buy(req BuyRequest) (*OrderReceipt, error) {
	if req.Wallet == "" {
		return nil, xerrors.Errorf("buy tickets without wallet: %w", ErrUnauthorized)
	}
	if t.state.Lottery.Status != StatusActive {
		return nil, xerrors.Errorf("lottery is %s: %w", t.state.Lottery.Status, ErrInvalidRound)
	}

	round := t.state.Current()
	if round.Status != RoundPending && round.Status != RoundActive {
		return nil, xerrors.Errorf("round %d is %s: %w", round.Index, round.Status, ErrInvalidRound)
	}
	if req.Count == 0 {
		return nil, xerrors.Errorf("buy zero tickets: %w", ErrInvalidAmount)
	}

	if limit := round.Config.MaxTicketsPerWallet; limit != nil {
		var owned uint64
		if i, ok := round.player(req.Wallet); ok {
			owned = round.Players[i].TicketCount
		}
		if owned+uint64(req.Count) > uint64(*limit) {
			return nil, xerrors.Errorf("wallet %s would hold %d of %d tickets: %w", req.Wallet, owned+uint64(req.Count), *limit, ErrWalletLimitExceeded)
		}
	}

	cost, err := round.Config.cost(req.Count)
	if err != nil {
		return nil, err
	}
	if err := t.pay(req.Wallet, []token.Coin{cost}, req.Funds); err != nil {
		return nil, err
	}

	if round.Status == RoundPending {
		round.activate(t.now)
	}

	orderIndex, err := round.record(req.Wallet, req.Count, req.Message, req.IsPublic)
	if err != nil {
		return nil, err
	}

	if round.targetReached(t.now) {
		if err := t.close(round, req.Wallet); err != nil {
			return nil, err
		}
	}

	return &OrderReceipt{
		RoundIndex:  round.Index,
		OrderIndex:  orderIndex,
		Wallet:      req.Wallet,
		TicketCount: req.Count,
		Cost:        cost,
		RoundStatus: round.Status,
	}, nil
}

// record appends an order and folds it into the wallet's player aggregate.
func (r *Round) record(wallet string, count uint32, message *string, isPublic bool) (uint32, error) {
	tickets, err := token.Add(r.Counts.Tickets, uint64(count))
	if err != nil {
		return 0, xerrors.Errorf("ticket count: %w", err)
	}

	var encoded *string
	if message != nil {
		m := base64.StdEncoding.EncodeToString([]byte(*message))
		encoded = &m
	}

	orderIndex := uint32(len(r.Orders))
	r.Orders = append(r.Orders, TicketOrder{
		Wallet:      wallet,
		TicketCount: count,
		Message:     encoded,
		IsPublic:    isPublic,
	})

	if i, ok := r.player(wallet); ok {
		r.Players[i].TicketCount += uint64(count)
		r.Players[i].OrderIndices = append(r.Players[i].OrderIndices, orderIndex)
	} else {
		r.Players = append(r.Players, Player{
			Wallet:       wallet,
			TicketCount:  uint64(count),
			OrderIndices: []uint32{orderIndex},
		})
		r.players[wallet] = len(r.Players) - 1
		r.Counts.Wallets++
	}

	r.Counts.Tickets = tickets
	r.Counts.Orders++
	return orderIndex, nil
}

// pay checks attached funds against what is owed. Native tokens must be
// attached exactly; contract tokens are collected from allowances when the
// transition commits.
func (t *transition) pay(wallet string, owed []token.Coin, funds []token.Coin) error {
	want := make(map[token.Token]uint64)
	for _, coin := range owed {
		if !coin.Token.IsNative() {
			t.collect = append(t.collect, Collection{From: wallet, Coin: coin})
			continue
		}
		total, err := token.Add(want[coin.Token], coin.Amount)
		if err != nil {
			return err
		}
		want[coin.Token] = total
	}

	got := make(map[token.Token]uint64)
	for _, coin := range funds {
		if coin.Amount == 0 {
			continue
		}
		if err := coin.Token.Validate(); err != nil {
			return err
		}
		if !coin.Token.IsNative() {
			return xerrors.Errorf("contract tokens cannot be attached as funds: %w", ErrInsufficientFunds)
		}
		total, err := token.Add(got[coin.Token], coin.Amount)
		if err != nil {
			return err
		}
		got[coin.Token] = total
	}

	if len(got) != len(want) {
		return xerrors.Errorf("attached %d denoms, owed %d: %w", len(got), len(want), ErrInsufficientFunds)
	}
	for tok, amount := range want {
		if got[tok] != amount {
			return xerrors.Errorf("attached %d %s, owed %d: %w", got[tok], tok, amount, ErrInsufficientFunds)
		}
	}
	return nil
}
