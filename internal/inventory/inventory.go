// Package inventory stores the wheel inventory: projects, versions, wheels,
// orphan wheels, inspected wheel data and the changelog serial.
//
// Every exported operation runs in its own transaction. Operations called on
// the Inventory passed to a Transaction callback join that transaction and
// become savepoints, so a unit of work composed of several operations commits
// or rolls back as a whole.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and tunes the database connection.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Inventory is the repository over the wheel inventory tables.
type Inventory struct {
	db      *gorm.DB
	log     zerolog.Logger
	now     func() time.Time
	version string
}

// Option configures an Inventory.
type Option func(*Inventory)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(inv *Inventory) {
		inv.log = l
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(inv *Inventory) {
		inv.now = now
	}
}

// WithVersion sets the wheelodex version recorded on processing errors.
func WithVersion(v string) Option {
	return func(inv *Inventory) {
		inv.version = v
	}
}

// Open connects to the configured database.
func Open(cfg Config, opts ...Option) (*Inventory, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	default:
		return nil, &BadInputError{Reason: fmt.Sprintf("unsupported database driver %q", cfg.Driver)}
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, &DatabaseError{Inner: fmt.Errorf("connecting to %s: %w", cfg.Driver, err)}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &DatabaseError{Inner: err}
	}
	if cfg.Driver == DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	} else {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(db, opts...), nil
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:wheelodex.db"
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// New wraps an open gorm handle.
func New(db *gorm.DB, opts ...Option) *Inventory {
	inv := &Inventory{
		db:      db,
		log:     zerolog.Nop(),
		now:     time.Now,
		version: "dev",
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// DB returns the underlying gorm handle.
func (inv *Inventory) DB() *gorm.DB {
	return inv.db
}

// Close closes the database connection pool.
func (inv *Inventory) Close() error {
	sqlDB, err := inv.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the inventory tables.
func (inv *Inventory) Migrate(ctx context.Context) error {
	err := inv.db.WithContext(ctx).AutoMigrate(allModels()...)
	return wrapErrorWithDetails(err, "migrate", "all tables")
}

// Tables lists the tables present in the database.
func (inv *Inventory) Tables(ctx context.Context) ([]string, error) {
	tables, err := inv.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list tables", "")
	}
	return tables, nil
}

// Transaction runs fn as one unit of work. The Inventory passed to fn is
// bound to the transaction; fn returning an error rolls everything back.
func (inv *Inventory) Transaction(ctx context.Context, fn func(tx *Inventory) error) error {
	return inv.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(inv.with(tx))
	})
}

func (inv *Inventory) with(tx *gorm.DB) *Inventory {
	cp := *inv
	cp.db = tx
	return &cp
}

// unit runs fn in a transaction (a savepoint when already inside one).
func (inv *Inventory) unit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return inv.db.WithContext(ctx).Transaction(fn)
}
