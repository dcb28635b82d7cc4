package chain

import (
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

)

// WalletMap names the wallet contract versions tongo knows, as written in WALLET_VERSION.
var WalletMap = map[string]wallet.Version{
	"V1R1":         wallet.V1R1,
	"V1R2":         wallet.V1R2,
	"V1R3":         wallet.V1R3,
	"V2R1":         wallet.V2R1,
	"V2R2":         wallet.V2R2,
	"V3R1":         wallet.V3R1,
	"V3R2":         wallet.V3R2,
	"V4R1":         wallet.V4R1,
	"V4R2":         wallet.V4R2,
	"V5R1":         wallet.V5R1,
	"HighLoadV2R2": wallet.HighLoadV2R2,
}

func ParseVersion(name string) (wallet.Version, error) {
	version, ok := WalletMap[name]
	if !ok {
		return 0, xerrors.Errorf("unknown wallet version %q", name)
	}
	return version, nil
}

// NewWallet opens the custody wallet on mainnet through a lite client.
func NewWallet(mnemonic, versionName string) (*wallet.Wallet, error) {
	log.Debug("initializing wallet...", zap.String("wallet version", versionName), zap.Bool("wallet mnemonic", mnemonic != ""))

	version, err := ParseVersion(versionName)
	if err != nil {
		return nil, err
	}

	client, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		return nil, xerrors.Errorf("lite client: %w", err)
	}

	pk, err := wallet.SeedToPrivateKey(mnemonic)
	if err != nil {
		return nil, xerrors.Errorf("wallet seed: %w", err)
	}

	w, err := wallet.New(pk, version, client)
	if err != nil {
		return nil, xerrors.Errorf("wallet: %w", err)
	}

	log.Debug("initializing wallet... done", zap.String("address", w.GetAddress().ToRaw()))
	return &w, nil
}

// NormalizeAddress accepts raw or user-friendly forms and returns the raw one,
// so the same account never shows up under two wallet keys.
func NormalizeAddress(address string) (string, error) {
	id, err := ton.ParseAccountID(address)
	if err != nil {
		return "", xerrors.Errorf("address %q: %w", address, err)
	}
	return id.ToRaw(), nil
}
