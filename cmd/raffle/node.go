package main

import (
	"context"
	"errors"
	"time"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/chain"
	"raffle/internal/client"
	"raffle/internal/config"
	"raffle/internal/custody"
	"raffle/internal/lottery"
	"raffle/internal/storage"
)

// node is one opened lottery: its store, the engine over the stored state and
// the deposit book contract-token payments are collected from.
type node struct {
	engine   *lottery.Engine
	store    storage.Storage
	deposits *custody.Memory
}

func (n *node) Close() {
	if err := n.store.Close(); err != nil {
		log.Error("closing storage failed", zap.Error(err))
	}
}

// view is a client cache over the engine, refreshed once for the command.
func (n *node) view() (*client.Cache, error) {
	cache := client.New(n.engine)
	if err := cache.Refresh(); err != nil {
		return nil, err
	}
	return cache, nil
}

func open(ctx context.Context, cfg *config.Config) (*node, error) {
	store, err := storage.Open(cfg.Storage, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	state, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		if errors.Is(err, storage.ErrNoState) {
			return nil, xerrors.Errorf("no lottery in %s, run init first", cfg.DBPath)
		}
		return nil, err
	}
	return start(ctx, cfg, store, state)
}

// start builds the engine over state. The deposit book is restored from the
// store and journaled back to it on every change.
func start(ctx context.Context, cfg *config.Config, store storage.Storage, state *lottery.State) (*node, error) {
	address := cfg.CustodyAddress
	if address == "" {
		address = "raffle"
	}

	book, err := store.LoadBook(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	deposits := custody.NewMemory(address, custody.WithJournal(store))
	deposits.Restore(book)

	var funds lottery.Custody = deposits
	if cfg.CustodyAddress != "" {
		payouts, err := chainPayouts(cfg, deposits)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		funds = payouts
	}

	engine := lottery.NewEngine(state, funds,
		lottery.WithStore(store),
		lottery.WithEntropy(lottery.HashEntropySource([]byte(cfg.EntropySecret))),
	)
	return &node{engine: engine, store: store, deposits: deposits}, nil
}

func chainPayouts(cfg *config.Config, deposits *custody.Memory) (*chain.Payouts, error) {
	address, err := ton.ParseAccountID(cfg.CustodyAddress)
	if err != nil {
		return nil, xerrors.Errorf("RAFFLE_CUSTODY_ADDRESS: %w", err)
	}

	jettons := make(map[string]ton.AccountID, len(cfg.JettonWallets))
	for master, w := range cfg.JettonWallets {
		id, err := ton.ParseAccountID(w)
		if err != nil {
			return nil, xerrors.Errorf("jetton wallet of %s: %w", master, err)
		}
		jettons[master] = id
	}

	w, err := chain.NewWallet(cfg.WalletMnemonic, cfg.WalletVersion)
	if err != nil {
		return nil, err
	}
	if w.GetAddress() != address {
		return nil, xerrors.Errorf("wallet %s is not the custody address %s", w.GetAddress().ToRaw(), address.ToRaw())
	}

	return chain.NewPayouts(chain.Config{
		Address:       address,
		JettonWallets: jettons,
		ConfirmWait:   60 * time.Second,
	}, w, deposits), nil
}
