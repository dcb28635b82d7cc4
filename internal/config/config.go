package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"

	"raffle/internal/lottery"
	"raffle/internal/storage"
)

// ErrEntropySecret rejects a missing or short RAFFLE_ENTROPY_SECRET.
var ErrEntropySecret = errors.New("config: RAFFLE_ENTROPY_SECRET must be at least 16 bytes")

const minSecretLength = 16

type Config struct {
	Storage        storage.Kind
	DBPath         string
	LogLevel       zapcore.Level
	LogFile        string
	ErrorFile      string
	EntropySecret  string
	HTTPAddr       string
	WalletMnemonic string
	WalletVersion  string
	// CustodyAddress is the wallet holding the pot; empty runs custody in memory.
	CustodyAddress string
	// JettonWallets maps jetton masters to the custody's jetton wallets.
	JettonWallets map[string]string
}

// Load reads envPath (when it exists) into the environment, then the RAFFLE_*
// variables. Variables already set win over the file.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("load %s: %w", envPath, err)
		}
	}

	cfg := &Config{
		Storage:        env("RAFFLE_STORAGE", storage.SqliteKind),
		DBPath:         env("RAFFLE_DB_PATH", "persistent.db"),
		LogFile:        env("RAFFLE_LOG_FILE", "raffle.log"),
		ErrorFile:      env("RAFFLE_ERROR_FILE", "raffle.error.log"),
		EntropySecret:  os.Getenv("RAFFLE_ENTROPY_SECRET"),
		HTTPAddr:       env("RAFFLE_HTTP_ADDR", ":8080"),
		WalletMnemonic: os.Getenv("WALLET_MNEMONIC"),
		WalletVersion:  env("WALLET_VERSION", "V4R2"),
		CustodyAddress: os.Getenv("RAFFLE_CUSTODY_ADDRESS"),
	}

	jettons, err := pairs(os.Getenv("RAFFLE_JETTON_WALLETS"))
	if err != nil {
		return nil, xerrors.Errorf("RAFFLE_JETTON_WALLETS: %w", err)
	}
	cfg.JettonWallets = jettons

	if err := cfg.LogLevel.UnmarshalText([]byte(env("RAFFLE_LOG_LEVEL", "info"))); err != nil {
		return nil, xerrors.Errorf("RAFFLE_LOG_LEVEL: %w", err)
	}

	switch cfg.Storage {
	case storage.SqliteKind, storage.BoltKind:
	default:
		return nil, xerrors.Errorf("RAFFLE_STORAGE %q is neither sqlite nor bolt", cfg.Storage)
	}
	if len(cfg.EntropySecret) < minSecretLength {
		return nil, ErrEntropySecret
	}
	if cfg.CustodyAddress != "" && cfg.WalletMnemonic == "" {
		return nil, xerrors.New("RAFFLE_CUSTODY_ADDRESS needs WALLET_MNEMONIC")
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// pairs parses "a=b,c=d".
func pairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" || value == "" {
			return nil, xerrors.Errorf("malformed pair %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

// LoadLotteryFile decodes a TOML lottery definition and validates it.
func LoadLotteryFile(path string) (*lottery.InstantiateRequest, error) {
	var req lottery.InstantiateRequest
	meta, err := toml.DecodeFile(path, &req)
	if err != nil {
		return nil, xerrors.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("%s: unknown key %s: %w", path, undecoded[0], lottery.ErrInvalidConfig)
	}

	if req.Count == 0 {
		req.Count = 1
	}
	for i := range req.Configs {
		if err := req.Configs[i].Validate(); err != nil {
			return nil, xerrors.Errorf("%s: round config %d: %w", path, i, err)
		}
	}
	return &req, nil
}
