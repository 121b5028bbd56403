package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bordereau/internal/config"
	"bordereau/internal/usecase"
)

// Store runs every unit of work in a SERIALIZABLE transaction. Document rows
// additionally carry a version that Update checks.
type Store struct {
	DB    *gorm.DB
	clock func() time.Time
}

func NewStore(cfg config.Config, log logrus.FieldLogger) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	return Open(postgres.Open(cfg.PostgresDSN), log)
}

// Open connects through dialector. Slow queries and driver errors go to log.
func Open(dialector gorm.Dialector, log logrus.FieldLogger) (*Store, error) {
	gcfg := &gorm.Config{Logger: logger.Discard}
	if log != nil {
		gcfg.Logger = logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	gdb, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb, clock: time.Now}, nil
}

// WithClock overrides the time source used for event timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx usecase.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.DB.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{db: gtx, clock: s.clock})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return classifyError(err)
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type tx struct {
	db    *gorm.DB
	clock func() time.Time
}

func (t *tx) Documents() usecase.DocumentRepository       { return documentRepo{t.db} }
func (t *tx) Transporters() usecase.TransporterRepository { return legRepo{t.db} }
func (t *tx) Packagings() usecase.PackagingRepository     { return packagingRepo{t.db} }
func (t *tx) Revisions() usecase.RevisionRepository       { return revisionRepo{t.db} }
func (t *tx) Events() usecase.EventRepository             { return eventRepo{db: t.db, clock: t.clock} }
