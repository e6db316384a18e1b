// Package tablestore is the relational Graph Store. Postgres is used in
// production and SQLite for local runs and tests; both go through gorm.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Store implements graph.Store over SQL tables
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ graph.Store = (*Store)(nil)

// Open connects to Postgres or SQLite. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported table store driver: %s", driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection serializes transactions
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// New wraps an open database
func New(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("graph.table"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the tables and the two read views
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&nodeRow{},
		&nodeContextRow{},
		&edgeRow{},
		&textSourceRow{},
		&auditRow{},
		&mutationRow{},
		&runRow{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	create := "CREATE OR REPLACE VIEW"
	if s.db.Dialector.Name() == "sqlite" {
		create = "CREATE VIEW IF NOT EXISTS"
	}

	interest := make([]string, 0, len(graph.InterestContexts))
	for _, c := range graph.InterestContexts {
		interest = append(interest, "'"+string(c)+"'")
	}

	views := []string{
		create + ` node_stats AS
			SELECT n.user_id, n.id, n.node_type, n.weight, n.sentiment, n.first_seen, n.last_seen,
				(SELECT COUNT(*) FROM edges e
					WHERE e.user_id = n.user_id AND (e.source_id = n.id OR e.target_id = n.id)) AS connections
			FROM nodes n`,
		create + ` interest_nodes AS
			SELECT s.* FROM node_stats s
			WHERE s.sentiment = 'positive'
				OR EXISTS (SELECT 1 FROM node_contexts c
					WHERE c.user_id = s.user_id AND c.node_id = s.id
						AND c.context_type IN (` + strings.Join(interest, ", ") + `))`,
	}
	for _, v := range views {
		if err := db.Exec(v).Error; err != nil {
			return fmt.Errorf("create view: %w", err)
		}
	}

	s.logger.Info("Table store migrated", zap.String("dialect", s.db.Dialector.Name()))
	return nil
}

// claim records a mutation token inside tx; false means it was applied before
func claim(tx *gorm.DB, userID, token string, now time.Time) (bool, error) {
	if token == "" {
		return true, nil
	}
	res := tx.Exec(
		"INSERT INTO applied_mutations (user_id, token, applied_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		userID, token, now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// wrap maps database errors onto the store error kinds
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case kgerrors.KindOf(err) != "":
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return kgerrors.New(kgerrors.KindNotFound, op, "record not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return kgerrors.New(kgerrors.KindDuplicateID, op, "duplicate key", err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return kgerrors.New(kgerrors.KindConstraintViolation, op, "constraint violated", err)
	case errors.Is(err, context.Canceled):
		return kgerrors.New(kgerrors.KindCanceled, op, "operation canceled", err)
	}
	return kgerrors.TransientStore(op, err)
}
