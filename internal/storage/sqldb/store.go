package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of the client directory, financial and
// credit stores that supports multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

// Ensure Store implements ClientDataStore
var _ ports.ClientDataStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.ByName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewPostgres creates a new PostgreSQL store
func NewPostgres(dsn string) (*Store, error) {
	return New(Config{Driver: "postgres", DSN: dsn})
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	realType, boolType := s.dialect.RealType(), s.dialect.BooleanType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS financials (
			client_id TEXT PRIMARY KEY,
			monthly_income %[1]s NOT NULL DEFAULT 0,
			monthly_expenses %[1]s NOT NULL DEFAULT 0
		)`, realType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS credit_history (
			client_id TEXT PRIMARY KEY,
			debt %s NOT NULL DEFAULT 0,
			late_payments INTEGER NOT NULL DEFAULT 0,
			has_bankruptcy %s NOT NULL DEFAULT %s
		)`, realType, boolType, s.dialect.FalseLiteral()),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Put inserts or replaces a client across the three tables in one transaction.
func (s *Store) Put(ctx context.Context, c ports.ClientData) error {
	if c.Identity.ID == "" {
		return fmt.Errorf("client id is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	writes := []struct {
		what  string
		query string
		args  []any
	}{
		{
			what:  "client",
			query: s.dialect.Upsert("clients", "id", "name", "address"),
			args:  []any{c.Identity.ID, c.Identity.Name, c.Identity.Address},
		},
		{
			what:  "financials",
			query: s.dialect.Upsert("financials", "client_id", "monthly_income", "monthly_expenses"),
			args:  []any{c.Identity.ID, c.Financials.MonthlyIncome, c.Financials.MonthlyExpenses},
		},
		{
			what:  "credit history",
			query: s.dialect.Upsert("credit_history", "client_id", "debt", "late_payments", "has_bankruptcy"),
			args:  []any{c.Identity.ID, c.Credit.Debt, c.Credit.LatePayments, c.Credit.HasBankruptcy},
		},
	}

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, w.query, w.args...); err != nil {
			return fmt.Errorf("failed to store %s: %w", w.what, err)
		}
	}

	return tx.Commit()
}

// Seed stores every client that is not already present.
func (s *Store) Seed(ctx context.Context, clients []ports.ClientData) error {
	for _, c := range clients {
		var exists int
		err := s.db.GetContext(ctx, &exists, s.dialect.Rebind(`SELECT COUNT(1) FROM clients WHERE id = ?`), c.Identity.ID)
		if err != nil {
			return fmt.Errorf("failed to check client %s: %w", c.Identity.ID, err)
		}
		if exists > 0 {
			continue
		}
		if err := s.Put(ctx, c); err != nil {
			return fmt.Errorf("failed to seed client %s: %w", c.Identity.ID, err)
		}
	}
	return nil
}

type clientRow struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Address string `db:"address"`
}

type financialsRow struct {
	MonthlyIncome   float64 `db:"monthly_income"`
	MonthlyExpenses float64 `db:"monthly_expenses"`
}

type creditRow struct {
	Debt          float64 `db:"debt"`
	LatePayments  int     `db:"late_payments"`
	HasBankruptcy bool    `db:"has_bankruptcy"`
}

func (s *Store) GetClientIdentity(ctx context.Context, clientID string) (domain.ClientRecord, error) {
	query := s.dialect.Rebind(`SELECT id, name, address FROM clients WHERE id = ?`)

	var row clientRow
	err := s.db.GetContext(ctx, &row, query, clientID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.UnknownClient(clientID), fmt.Errorf("client %s: %w", clientID, domain.ErrClientNotFound)
	}
	if err != nil {
		return domain.UnknownClient(clientID), fmt.Errorf("failed to get client: %w", err)
	}

	return domain.ClientRecord{ID: row.ID, Name: row.Name, Address: row.Address}, nil
}

func (s *Store) GetClientFinancials(ctx context.Context, clientID string) (domain.FinancialProfile, error) {
	query := s.dialect.Rebind(`SELECT monthly_income, monthly_expenses FROM financials WHERE client_id = ?`)

	var row financialsRow
	err := s.db.GetContext(ctx, &row, query, clientID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.FinancialProfile{}, nil
	}
	if err != nil {
		return domain.FinancialProfile{}, fmt.Errorf("failed to get financials: %w", err)
	}

	return domain.FinancialProfile{MonthlyIncome: row.MonthlyIncome, MonthlyExpenses: row.MonthlyExpenses}, nil
}

func (s *Store) GetClientCreditHistory(ctx context.Context, clientID string) (domain.CreditHistory, error) {
	query := s.dialect.Rebind(`SELECT debt, late_payments, has_bankruptcy FROM credit_history WHERE client_id = ?`)

	var row creditRow
	err := s.db.GetContext(ctx, &row, query, clientID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.CreditHistory{}, fmt.Errorf("credit history %s: %w", clientID, domain.ErrClientNotFound)
	}
	if err != nil {
		return domain.CreditHistory{}, fmt.Errorf("failed to get credit history: %w", err)
	}

	return domain.CreditHistory{Debt: row.Debt, LatePayments: row.LatePayments, HasBankruptcy: row.HasBankruptcy}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
