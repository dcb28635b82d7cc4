package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"raffle/internal/custody"
	"raffle/internal/lottery"
)

var (
	lotteryBucket    = []byte("lottery")
	roundsBucket     = []byte("rounds")
	claimsBucket     = []byte("claims")
	incentivesBucket = []byte("incentives")
	payoutsBucket    = []byte("payouts")
	custodyBucket    = []byte("custody")

	lotteryKey = []byte("lottery")
	bookKey    = []byte("book")
)

// BoltStorage keeps the same layout as SqliteStorage in bbolt buckets. Keys
// are big-endian so cursors walk rounds and incentives in order.
type BoltStorage struct {
	db *bbolt.DB
}

func NewBoltStorage(path string) (*BoltStorage, error) {
	log.Debug("initializing bolt database...", zap.String("path", path))

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{lotteryBucket, roundsBucket, claimsBucket, incentivesBucket, payoutsBucket, custodyBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("create buckets: %w", err)
	}

	log.Debug("initializing bolt database... done")
	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Load(ctx context.Context) (*lottery.State, error) {
	log.Debug("loading lottery state...")

	var r records
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(lotteryBucket).Get(lotteryKey)
		if raw == nil {
			return ErrNoState
		}
		if err := json.Unmarshal(raw, &r.lottery); err != nil {
			return err
		}

		err := tx.Bucket(roundsBucket).ForEach(func(k, v []byte) error {
			r.rounds = append(r.rounds, &RoundRecord{Index: binary.BigEndian.Uint32(k), Payload: clone(v)})
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(claimsBucket).ForEach(func(k, v []byte) error {
			r.claims = append(r.claims, &ClaimRecord{Wallet: string(k), Rewards: clone(v)})
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(incentivesBucket).ForEach(func(k, v []byte) error {
			r.incentives = append(r.incentives, &IncentiveRecord{
				RoundIndex: binary.BigEndian.Uint32(k[:4]),
				Sequence:   binary.BigEndian.Uint32(k[4:]),
				Payload:    clone(v),
			})
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(payoutsBucket).ForEach(func(k, v []byte) error {
			var record PayoutRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			r.payouts = append(r.payouts, &record)
			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("load state: %w", err)
	}

	state, err := fromRecords(&r)
	if err != nil {
		return nil, err
	}

	log.Debug("loading lottery state... done", zap.Int("rounds", len(state.Rounds)))
	return state, nil
}

func (s *BoltStorage) Save(ctx context.Context, state *lottery.State) error {
	log.Debug("saving lottery state...")

	r, err := toRecords(state)
	if err != nil {
		return err
	}
	head, err := json.Marshal(r.lottery)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.Bucket(lotteryBucket).Put(lotteryKey, head); err != nil {
			return err
		}

		rounds := tx.Bucket(roundsBucket)
		for _, round := range r.rounds {
			if err := rounds.Put(uint32Key(round.Index), round.Payload); err != nil {
				return err
			}
		}

		if err := tx.DeleteBucket(claimsBucket); err != nil {
			return err
		}
		claims, err := tx.CreateBucket(claimsBucket)
		if err != nil {
			return err
		}
		for _, claim := range r.claims {
			if err := claims.Put([]byte(claim.Wallet), claim.Rewards); err != nil {
				return err
			}
		}

		incentives := tx.Bucket(incentivesBucket)
		for _, pkg := range r.incentives {
			key := append(uint32Key(pkg.RoundIndex), uint32Key(pkg.Sequence)...)
			if err := incentives.Put(key, pkg.Payload); err != nil {
				return err
			}
		}

		if err := tx.DeleteBucket(payoutsBucket); err != nil {
			return err
		}
		payouts, err := tx.CreateBucket(payoutsBucket)
		if err != nil {
			return err
		}
		for _, record := range r.payouts {
			raw, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := payouts.Put(uint32Key(record.Sequence), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("save state: %w", err)
	}

	log.Debug("saving lottery state... done", zap.Int("rounds", len(r.rounds)), zap.Int("claims", len(r.claims)), zap.Int("payouts", len(r.payouts)))
	return nil
}

func (s *BoltStorage) LoadBook(ctx context.Context) (custody.Book, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw = clone(tx.Bucket(custodyBucket).Get(bookKey))
		return nil
	})
	if err != nil {
		return custody.Book{}, xerrors.Errorf("load custody book: %w", err)
	}
	return decodeBook(raw)
}

func (s *BoltStorage) SaveBook(ctx context.Context, book custody.Book) error {
	raw, err := encodeBook(book)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.Bucket(custodyBucket).Put(bookKey, raw)
	})
	if err != nil {
		return xerrors.Errorf("save custody book: %w", err)
	}
	return nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func uint32Key(v uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, v)
	return key
}

// bbolt values are only valid inside the transaction.
func clone(v []byte) []byte {
	return append([]byte(nil), v...)
}
