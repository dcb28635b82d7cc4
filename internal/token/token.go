package token

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/xerrors"
)

var ErrUnknownToken = errors.New("unknown token")

type Kind uint8

const (
	// Invalid is the zero Kind; a zero Token is never valid.
	Invalid Kind = iota
	Native
	Contract
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Contract:
		return "cw20"
	default:
		return "invalid"
	}
}

// Token identifies a fungible asset. Exactly one variant is populated: the
// fields are private and the only way to build a Token is NewNative,
// NewContract or JSON decoding, which rejects ambiguous input.
type Token struct {
	kind Kind
	id   string
}

func NewNative(denom string) Token {
	return Token{kind: Native, id: denom}
}

func NewContract(address string) Token {
	return Token{kind: Contract, id: address}
}

func (t Token) Kind() Kind {
	return t.kind
}

// ID is the denom for native tokens and the contract address otherwise.
func (t Token) ID() string {
	return t.id
}

func (t Token) IsNative() bool {
	return t.kind == Native
}

func (t Token) Validate() error {
	if t.kind != Native && t.kind != Contract {
		return ErrUnknownToken
	}
	if strings.TrimSpace(t.id) == "" {
		return xerrors.Errorf("%s token without identifier: %w", t.kind, ErrUnknownToken)
	}
	return nil
}

// Key is a stable map key and sort key: "cw20:<address>" or "native:<denom>".
func (t Token) Key() string {
	return t.kind.String() + ":" + t.id
}

func (t Token) String() string {
	return t.Key()
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Token, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Token{}, xerrors.Errorf("token %q: %w", key, ErrUnknownToken)
	}

	var t Token
	switch kind {
	case "native":
		t = NewNative(id)
	case "cw20":
		t = NewContract(id)
	default:
		return Token{}, xerrors.Errorf("token %q: %w", key, ErrUnknownToken)
	}

	if err := t.Validate(); err != nil {
		return Token{}, err
	}
	return t, nil
}

type nativeJSON struct {
	Denom string `json:"denom"`
}

type contractJSON struct {
	Address string `json:"address"`
}

type tokenJSON struct {
	Native *nativeJSON   `json:"native,omitempty"`
	Cw20   *contractJSON `json:"cw20,omitempty"`
}

func (t Token) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case Native:
		return json.Marshal(tokenJSON{Native: &nativeJSON{Denom: t.id}})
	case Contract:
		return json.Marshal(tokenJSON{Cw20: &contractJSON{Address: t.id}})
	default:
		return nil, ErrUnknownToken
	}
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var raw tokenJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.Native != nil && raw.Cw20 == nil:
		*t = NewNative(raw.Native.Denom)
	case raw.Cw20 != nil && raw.Native == nil:
		*t = NewContract(raw.Cw20.Address)
	default:
		return ErrUnknownToken
	}

	return t.Validate()
}

// MarshalText and UnmarshalText use the Key form, which is how tokens are
// written in TOML files and command line flags.
func (t Token) MarshalText() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []byte(t.Key()), nil
}

func (t *Token) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Coin is an amount of a token in its smallest unit.
type Coin struct {
	Token  Token  `json:"token"`
	Amount uint64 `json:"amount,string"`
}
