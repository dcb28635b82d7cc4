package lottery

import (
	"encoding/json"
	"time"

	"golang.org/x/xerrors"

	"raffle/internal/token"
)

type RoundStatus string

const (
	RoundPending  RoundStatus = "pending"
	RoundActive   RoundStatus = "active"
	RoundClosed   RoundStatus = "closed"
	RoundComplete RoundStatus = "complete"
	RoundCanceled RoundStatus = "canceled"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusCanceled Status = "canceled"
)

type Targets struct {
	WalletCount     *uint32 `json:"wallet_count" toml:"wallet_count"`
	TicketCount     *uint64 `json:"ticket_count" toml:"ticket_count"`
	DurationMinutes *uint32 `json:"duration_minutes" toml:"duration_minutes"`
}

type Percent struct {
	Pct uint8   `json:"pct" toml:"pct"`
	Max *uint32 `json:"max" toml:"max"`
}

// Method holds exactly one of Percent or Fixed. Fixed lists one percentage
// weight per winning position: [100] is a single winner taking the pot.
type Method struct {
	Percent *Percent `json:"percent,omitempty" toml:"percent"`
	Fixed   Weights  `json:"fixed,omitempty" toml:"fixed"`
}

// Weights marshals as a list of numbers instead of the base64 string
// encoding/json uses for byte slices.
type Weights []uint8

func (w Weights) MarshalJSON() ([]byte, error) {
	values := make([]uint16, len(w))
	for i, v := range w {
		values[i] = uint16(v)
	}
	return json.Marshal(values)
}

func (w *Weights) UnmarshalJSON(data []byte) error {
	var values []uint16
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		*w = nil
		return nil
	}
	weights := make(Weights, len(values))
	for i, v := range values {
		if v > 100 {
			return xerrors.Errorf("weight %d: %w", v, ErrInvalidConfig)
		}
		weights[i] = uint8(v)
	}
	*w = weights
	return nil
}

type Selection struct {
	Method          Method `json:"method" toml:"method"`
	WithReplacement bool   `json:"with_replacement" toml:"with_replacement"`
}

type Royalty struct {
	Wallet   string `json:"wallet" toml:"wallet"`
	Autosend bool   `json:"autosend" toml:"autosend"`
	Pct      uint8  `json:"pct" toml:"pct"`
}

type RoundConfig struct {
	Name                string      `json:"name,omitempty" toml:"name"`
	TicketPrice         uint64      `json:"ticket_price,string" toml:"ticket_price"`
	MaxTicketsPerWallet *uint32     `json:"max_tickets_per_wallet" toml:"max_tickets_per_wallet"`
	Targets             Targets     `json:"targets" toml:"targets"`
	Selection           Selection   `json:"selection" toml:"selection"`
	Token               token.Token `json:"token" toml:"token"`
	Royalties           []Royalty   `json:"royalties" toml:"royalties"`
}

type Counts struct {
	Wallets  uint32 `json:"wallets"`
	Tickets  uint64 `json:"tickets"`
	Drawings uint32 `json:"drawings"`
	Orders   uint32 `json:"orders"`
}

type TicketOrder struct {
	Wallet      string  `json:"wallet"`
	TicketCount uint32  `json:"ticket_count"`
	Message     *string `json:"message"`
	IsPublic    bool    `json:"is_public"`
}

type Player struct {
	Wallet       string   `json:"wallet"`
	TicketCount  uint64   `json:"ticket_count"`
	OrderIndices []uint32 `json:"order_indices"`
}

// Winner.Position is the draw slot, not a ticket number.
type Winner struct {
	Wallet   string `json:"wallet"`
	Amount   uint64 `json:"amount,string"`
	Position uint32 `json:"position"`
}

type Round struct {
	Index     uint32        `json:"index"`
	Status    RoundStatus   `json:"status"`
	Config    RoundConfig   `json:"config"`
	StartedAt time.Time     `json:"started_at"`
	EndedBy   *string       `json:"ended_by"`
	Winners   []Winner      `json:"winners"`
	Orders    []TicketOrder `json:"orders"`
	Players   []Player      `json:"players"`
	Counts    Counts        `json:"counts"`

	players map[string]int
}

func (r *Round) player(wallet string) (int, bool) {
	if r.players == nil {
		r.players = make(map[string]int, len(r.Players))
		for i, p := range r.Players {
			r.players[p.Wallet] = i
		}
	}
	i, ok := r.players[wallet]
	return i, ok
}

// IncentiveReward targets a winning position, or the whole pot when Position is nil.
type IncentiveReward struct {
	Reward   token.Coin `json:"reward"`
	Position *uint32    `json:"position"`
}

type IncentivePackage struct {
	Source  string            `json:"source"`
	Message *string           `json:"message"`
	Rewards []IncentiveReward `json:"rewards"`
}

type Claim struct {
	Wallet  string       `json:"wallet"`
	Rewards []token.Coin `json:"rewards"`
}

type Balance struct {
	Amount  uint64  `json:"amount,string"`
	Denom   *string `json:"denom"`
	Address *string `json:"address"`
}

type Balances struct {
	Native []Balance `json:"native"`
	Cw20   []Balance `json:"cw20"`
}

type Rounds struct {
	Count   uint32        `json:"count"`
	Index   uint32        `json:"index"`
	Configs []RoundConfig `json:"configs"`
}

type Lottery struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	Rounds Rounds `json:"rounds"`
}

// Transfer is an outbound payment executed by the custody boundary.
type Transfer struct {
	Recipient string      `json:"recipient"`
	Token     token.Token `json:"token"`
	Amount    uint64      `json:"amount,string"`
}

type OrderReceipt struct {
	ID          string      `json:"id"`
	RoundIndex  uint32      `json:"round_index"`
	OrderIndex  uint32      `json:"order_index"`
	Wallet      string      `json:"wallet"`
	TicketCount uint32      `json:"ticket_count"`
	Cost        token.Coin  `json:"cost"`
	RoundStatus RoundStatus `json:"round_status"`
}

// TransferSet is the payout batch of one transition. It waits in the outbox
// while Pending and leaves it once custody sent every transfer.
type TransferSet struct {
	ID        string     `json:"id"`
	Wallet    string     `json:"wallet,omitempty"`
	Transfers []Transfer `json:"transfers"`
	Pending   bool       `json:"pending"`
}

func (s TransferSet) clone() TransferSet {
	s.Transfers = cloneSlice(s.Transfers)
	return s
}
