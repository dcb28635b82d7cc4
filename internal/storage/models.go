package storage

import (
	"encoding/json"

	"golang.org/x/xerrors"
	"gorm.io/datatypes"

	"raffle/internal/custody"
	"raffle/internal/lottery"
	"raffle/internal/token"
)

// LotteryRecord is the single row describing the lottery and its rotation.
type LotteryRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Owner      string `gorm:"not null"`
	Name       string
	Status     string `gorm:"not null"`
	RoundCount uint32 `gorm:"not null"`
	RoundIndex uint32 `gorm:"default:0"`
	Configs    datatypes.JSON
}

type RoundRecord struct {
	Index   uint32 `gorm:"primaryKey;autoIncrement:false"`
	Status  string `gorm:"not null"`
	Payload datatypes.JSON
}

type ClaimRecord struct {
	Wallet  string `gorm:"primaryKey"`
	Rewards datatypes.JSON
}

type IncentiveRecord struct {
	RoundIndex uint32 `gorm:"primaryKey;autoIncrement:false"`
	Sequence   uint32 `gorm:"primaryKey;autoIncrement:false"`
	Source     string `gorm:"not null"`
	Payload    datatypes.JSON
}

// PayoutRecord is one queued transfer set; Sequence keeps the outbox order.
type PayoutRecord struct {
	Sequence  uint32 `gorm:"primaryKey;autoIncrement:false"`
	SetID     string `gorm:"not null"`
	Wallet    string
	Transfers datatypes.JSON
}

// CustodyRecord is the single row holding the deposit book.
type CustodyRecord struct {
	ID   uint `gorm:"primaryKey"`
	Book datatypes.JSON
}

const (
	lotteryRecordID = 1
	custodyRecordID = 1
)

// records flattens a state into the persisted layout.
type records struct {
	lottery    LotteryRecord
	rounds     []*RoundRecord
	claims     []*ClaimRecord
	incentives []*IncentiveRecord
	payouts    []*PayoutRecord
}

func toRecords(state *lottery.State) (*records, error) {
	configs, err := json.Marshal(state.Lottery.Rounds.Configs)
	if err != nil {
		return nil, xerrors.Errorf("encode round configs: %w", err)
	}

	r := &records{
		lottery: LotteryRecord{
			ID:         lotteryRecordID,
			Owner:      state.Lottery.Owner,
			Name:       state.Lottery.Name,
			Status:     string(state.Lottery.Status),
			RoundCount: state.Lottery.Rounds.Count,
			RoundIndex: state.Lottery.Rounds.Index,
			Configs:    datatypes.JSON(configs),
		},
	}

	for _, round := range state.Rounds {
		payload, err := json.Marshal(round)
		if err != nil {
			return nil, xerrors.Errorf("encode round %d: %w", round.Index, err)
		}
		r.rounds = append(r.rounds, &RoundRecord{Index: round.Index, Status: string(round.Status), Payload: payload})
	}

	for _, claim := range state.Claims.List() {
		rewards, err := json.Marshal(claim.Rewards)
		if err != nil {
			return nil, xerrors.Errorf("encode claim of %s: %w", claim.Wallet, err)
		}
		r.claims = append(r.claims, &ClaimRecord{Wallet: claim.Wallet, Rewards: rewards})
	}

	for index, packages := range state.Incentives {
		for seq, pkg := range packages {
			payload, err := json.Marshal(pkg)
			if err != nil {
				return nil, xerrors.Errorf("encode incentive %d/%d: %w", index, seq, err)
			}
			r.incentives = append(r.incentives, &IncentiveRecord{
				RoundIndex: index,
				Sequence:   uint32(seq),
				Source:     pkg.Source,
				Payload:    payload,
			})
		}
	}
	for seq, set := range state.Outbox {
		transfers, err := json.Marshal(set.Transfers)
		if err != nil {
			return nil, xerrors.Errorf("encode transfer set %s: %w", set.ID, err)
		}
		r.payouts = append(r.payouts, &PayoutRecord{Sequence: uint32(seq), SetID: set.ID, Wallet: set.Wallet, Transfers: transfers})
	}
	return r, nil
}

// fromRecords expects rounds ordered by index, incentives by (round, sequence)
// and payouts by sequence.
func fromRecords(r *records) (*lottery.State, error) {
	state := &lottery.State{
		Lottery: lottery.Lottery{
			Owner:  r.lottery.Owner,
			Name:   r.lottery.Name,
			Status: lottery.Status(r.lottery.Status),
			Rounds: lottery.Rounds{Count: r.lottery.RoundCount, Index: r.lottery.RoundIndex},
		},
		Incentives: make(map[uint32][]lottery.IncentivePackage),
	}
	if err := json.Unmarshal(r.lottery.Configs, &state.Lottery.Rounds.Configs); err != nil {
		return nil, xerrors.Errorf("decode round configs: %w", err)
	}

	for i, record := range r.rounds {
		if record.Index != uint32(i) {
			return nil, xerrors.Errorf("round %d stored at position %d", record.Index, i)
		}
		var round lottery.Round
		if err := json.Unmarshal(record.Payload, &round); err != nil {
			return nil, xerrors.Errorf("decode round %d: %w", record.Index, err)
		}
		state.Rounds = append(state.Rounds, &round)
	}
	if int(state.Lottery.Rounds.Index) >= len(state.Rounds) {
		return nil, xerrors.Errorf("current round %d missing, %d stored", state.Lottery.Rounds.Index, len(state.Rounds))
	}

	claims := make([]lottery.Claim, 0, len(r.claims))
	for _, record := range r.claims {
		var rewards []token.Coin
		if err := json.Unmarshal(record.Rewards, &rewards); err != nil {
			return nil, xerrors.Errorf("decode claim of %s: %w", record.Wallet, err)
		}
		claims = append(claims, lottery.Claim{Wallet: record.Wallet, Rewards: rewards})
	}
	var err error
	if state.Claims, err = lottery.ClaimsFromList(claims); err != nil {
		return nil, err
	}

	for _, record := range r.incentives {
		var pkg lottery.IncentivePackage
		if err := json.Unmarshal(record.Payload, &pkg); err != nil {
			return nil, xerrors.Errorf("decode incentive %d/%d: %w", record.RoundIndex, record.Sequence, err)
		}
		state.Incentives[record.RoundIndex] = append(state.Incentives[record.RoundIndex], pkg)
	}

	for _, record := range r.payouts {
		set := lottery.TransferSet{ID: record.SetID, Wallet: record.Wallet, Pending: true}
		if err := json.Unmarshal(record.Transfers, &set.Transfers); err != nil {
			return nil, xerrors.Errorf("decode transfer set %s: %w", record.SetID, err)
		}
		state.Outbox = append(state.Outbox, set)
	}
	return state, nil
}

func encodeBook(book custody.Book) ([]byte, error) {
	raw, err := json.Marshal(book)
	if err != nil {
		return nil, xerrors.Errorf("encode custody book: %w", err)
	}
	return raw, nil
}

func decodeBook(raw []byte) (custody.Book, error) {
	var book custody.Book
	if len(raw) == 0 {
		return book, nil
	}
	if err := json.Unmarshal(raw, &book); err != nil {
		return custody.Book{}, xerrors.Errorf("decode custody book: %w", err)
	}
	return book, nil
}
