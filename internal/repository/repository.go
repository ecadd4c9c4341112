package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/fjod/trophythreads/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
	LockTimeout       time.Duration
}

type Repository struct {
	db          *sql.DB
	dialect     dialect
	lockTimeout time.Duration
}

// CartRepository is the cart store. Every item operation is scoped to the
// owner's cart, so ids from another cart are reported as not found.
type CartRepository interface {
	GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	GetOrCreateCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	GetItem(ctx context.Context, owner domain.Owner, itemID int64) (*domain.CartItem, error)
	AddCatalogItem(ctx context.Context, owner domain.Owner, product *domain.Product, quantity int) (int64, error)
	AddExternalItem(ctx context.Context, owner domain.Owner, snapshot domain.ExternalSnapshot, quantity int) (int64, error)
	UpdateItemQuantity(ctx context.Context, owner domain.Owner, itemID int64, quantity int) error
	ToggleItemSelected(ctx context.Context, owner domain.Owner, itemID int64) (bool, error)
	SetAllSelected(ctx context.Context, owner domain.Owner, selected bool) error
	RemoveItem(ctx context.Context, owner domain.Owner, itemID int64) error
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) error
}

type PurchaseRepository interface {
	ListPurchasesByToken(ctx context.Context, token uuid.UUID, userID *int64) ([]domain.Purchase, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// Atomic runs fn inside one database transaction. Any error returned by fn
// rolls the whole unit back.
type Atomic interface {
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error
}

type RepoInterface interface {
	CartRepository
	CatalogRepository
	PurchaseRepository
	OutboxRepository
	Atomic
	Close() error
	RunMigrations(migrationsPath string) error
}

var (
	ErrCartNotFound = errors.New("cart not found")
)

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.Info().Str("host", cred.Host).Str("db", cred.DBName).Msg("connected to postgres")
	return &Repository{db: db, dialect: dialectPostgres, lockTimeout: cred.LockTimeout}, nil
}

// NewSQLiteRepository opens a SQLite database for local runs and tests.
// SQLite allows one writer at a time, so the pool is pinned to a single
// connection and commits serialize on it. Foreign keys are switched on
// through the DSN since SQLite leaves them off per connection.
func NewSQLiteRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	return &Repository{db: db, dialect: dialectSQLite}, nil
}

func sqliteDSN(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)"
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.dialect {
	case dialectPostgres:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{})
	default:
		driver, err = migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s/%s", migrationsPath, r.dialect),
		r.dialect.String(),
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
