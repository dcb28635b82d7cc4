package chain

import (
	"context"
	"time"

	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/logger"
	"raffle/internal/lottery"
	"raffle/internal/token"
)

var log = logger.Named("chain")

// Sender broadcasts wallet messages. *wallet.Wallet implements it.
type Sender interface {
	SendV2(ctx context.Context, waitingConfirmation time.Duration, messages ...wallet.Sendable) (ton.Bits256, error)
}

// Collector pulls deposits into custody. Jettons cannot be pulled on TON, so
// deposits are credited off-chain when their transfer notification arrives.
type Collector interface {
	Collect(ctx context.Context, from string, coin token.Coin) error
}

type Config struct {
	// Address receives excess gas from jetton transfers.
	Address ton.AccountID
	// JettonWallets maps a jetton master to the custody's wallet for it.
	JettonWallets map[string]ton.AccountID
	JettonGas     uint64
	ForwardTon    uint64
	// BatchSize is the number of messages per external message; wallet v4 takes 4.
	BatchSize   int
	ConfirmWait time.Duration
}

// Payouts executes lottery transfers as TON messages. Without a Sender it only
// logs the messages it would broadcast.
type Payouts struct {
	cfg       Config
	sender    Sender
	collector Collector
	queryID   func() uint64
}

func NewPayouts(cfg Config, sender Sender, collector Collector) *Payouts {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.JettonGas == 0 {
		cfg.JettonGas = 50_000_000
	}
	if cfg.ConfirmWait == 0 {
		cfg.ConfirmWait = 60 * time.Second
	}
	return &Payouts{
		cfg:       cfg,
		sender:    sender,
		collector: collector,
		queryID:   func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

func (p *Payouts) Collect(ctx context.Context, from string, coin token.Coin) error {
	return p.collector.Collect(ctx, from, coin)
}

// Messages converts transfers to wallet messages without sending them.
func (p *Payouts) Messages(transfers []lottery.Transfer) ([]wallet.Sendable, error) {
	messages := make([]wallet.Sendable, 0, len(transfers))
	for _, tr := range transfers {
		recipient, err := ton.ParseAccountID(tr.Recipient)
		if err != nil {
			return nil, xerrors.Errorf("recipient %q: %w", tr.Recipient, err)
		}

		if tr.Token.IsNative() {
			if tr.Token.ID() != NativeDenom {
				return nil, xerrors.Errorf("native %s: %w", tr.Token.ID(), token.ErrUnknownToken)
			}
			messages = append(messages, NativeMessage(recipient, tr.Amount))
			continue
		}

		jettonWallet, ok := p.cfg.JettonWallets[tr.Token.ID()]
		if !ok {
			return nil, xerrors.Errorf("no custody wallet for jetton %s: %w", tr.Token.ID(), token.ErrUnknownToken)
		}
		body, err := JettonTransferBody(p.queryID(), tr.Amount, recipient, p.cfg.Address, p.cfg.ForwardTon)
		if err != nil {
			return nil, xerrors.Errorf("jetton transfer body: %w", err)
		}
		messages = append(messages, JettonMessage(jettonWallet, p.cfg.JettonGas, body))
	}
	return messages, nil
}

// Send builds every message before broadcasting any, so a malformed transfer
// rejects the whole set. A failed batch returns a *lottery.SendError counting
// the transfers of the batches already broadcast.
func (p *Payouts) Send(ctx context.Context, transfers []lottery.Transfer) error {
	messages, err := p.Messages(transfers)
	if err != nil {
		return err
	}

	if p.sender == nil {
		for _, tr := range transfers {
			log.Info("dry run transfer", zap.String("recipient", tr.Recipient), zap.String("token", tr.Token.Key()), zap.Uint64("amount", tr.Amount))
		}
		return nil
	}

	for start := 0; start < len(messages); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(messages))

		log.Debug("sending messages...", zap.Int("from", start), zap.Int("to", end))
		hash, err := p.sender.SendV2(ctx, p.cfg.ConfirmWait, messages[start:end]...)
		if err != nil {
			err = xerrors.Errorf("send messages %d..%d: %w", start, end, err)
			if start == 0 {
				return err
			}
			return &lottery.SendError{Sent: start, Err: err}
		}
		log.Debug("sending messages... done", zap.String("hash", hash.Hex()))
	}
	return nil
}
