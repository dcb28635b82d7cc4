package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"raffle/internal/custody"
	"raffle/internal/lottery"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {
	log.Debug("initializing database...", zap.String("path", path))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}

	err = db.AutoMigrate(
		&LotteryRecord{},
		&RoundRecord{},
		&ClaimRecord{},
		&IncentiveRecord{},
		&PayoutRecord{},
		&CustodyRecord{},
	)
	if err != nil {
		return nil, xerrors.Errorf("migrate %s: %w", path, err)
	}

	log.Debug("initializing database... done")
	return &SqliteStorage{db: db}, nil
}

func (s *SqliteStorage) Load(ctx context.Context) (*lottery.State, error) {
	log.Debug("loading lottery state...")

	var r records
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&r.lottery, lotteryRecordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoState
			}
			return err
		}
		if err := tx.Order("`index`").Find(&r.rounds).Error; err != nil {
			return err
		}
		if err := tx.Order("wallet").Find(&r.claims).Error; err != nil {
			return err
		}
		if err := tx.Order("round_index, sequence").Find(&r.incentives).Error; err != nil {
			return err
		}
		return tx.Order("sequence").Find(&r.payouts).Error
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

func (s *SqliteStorage) Save(ctx context.Context, state *lottery.State) error {
	log.Debug("saving lottery state...")

	r, err := toRecords(state)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "name", "status", "round_count", "round_index", "configs"}),
		}).Create(&r.lottery).Error
		if err != nil {
			return err
		}

		if len(r.rounds) > 0 {
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "index"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "payload"}),
			}).CreateInBatches(r.rounds, 100).Error
			if err != nil {
				return err
			}
		}

		// settled wallets disappear from the ledger, so claims are rewritten whole
		if err := tx.Where("1 = 1").Delete(&ClaimRecord{}).Error; err != nil {
			return err
		}
		if len(r.claims) > 0 {
			if err := tx.CreateInBatches(r.claims, 100).Error; err != nil {
				return err
			}
		}

		if len(r.incentives) > 0 {
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "round_index"}, {Name: "sequence"}},
				DoUpdates: clause.AssignmentColumns([]string{"source", "payload"}),
			}).CreateInBatches(r.incentives, 100).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Where("1 = 1").Delete(&PayoutRecord{}).Error; err != nil {
			return err
		}
		if len(r.payouts) > 0 {
			return tx.CreateInBatches(r.payouts, 100).Error
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("save state: %w", err)
	}

	log.Debug("saving lottery state... done", zap.Int("rounds", len(r.rounds)), zap.Int("claims", len(r.claims)), zap.Int("payouts", len(r.payouts)))
	return nil
}

func (s *SqliteStorage) LoadBook(ctx context.Context) (custody.Book, error) {
	var record CustodyRecord
	err := s.db.WithContext(ctx).First(&record, custodyRecordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return custody.Book{}, nil
	}
	if err != nil {
		return custody.Book{}, xerrors.Errorf("load custody book: %w", err)
	}
	return decodeBook(record.Book)
}

func (s *SqliteStorage) SaveBook(ctx context.Context, book custody.Book) error {
	raw, err := encodeBook(book)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"book"}),
	}).Create(&CustodyRecord{ID: custodyRecordID, Book: raw}).Error
	if err != nil {
		return xerrors.Errorf("save custody book: %w", err)
	}
	return nil
}

func (s *SqliteStorage) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
