// Package dialect holds the SQL differences between the databases the
// client store runs on: driver, placeholders, column types and upserts.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect describes one SQL database.
type Dialect struct {
	name     string
	driver   string
	bind     int
	boolType string
	realType string
	pragmas  []string
}

var (
	// SQLite runs on modernc.org/sqlite.
	SQLite = Dialect{
		name:     "sqlite",
		driver:   "sqlite",
		bind:     sqlx.QUESTION,
		boolType: "INTEGER",
		realType: "REAL",
		pragmas: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		},
	}

	// Postgres runs on the pgx stdlib driver.
	Postgres = Dialect{
		name:     "postgres",
		driver:   "pgx",
		bind:     sqlx.DOLLAR,
		boolType: "BOOLEAN",
		realType: "DOUBLE PRECISION",
	}
)

// ByName returns the dialect for a storage type or driver name.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver: %s", name)
	}
}

func (d Dialect) Name() string { return d.name }

// DriverName is the database/sql driver to open.
func (d Dialect) DriverName() string { return d.driver }

// Rebind rewrites ? placeholders into the dialect's bind style.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.bind, query)
}

func (d Dialect) BooleanType() string { return d.boolType }

// RealType is used for money amounts and ratios.
func (d Dialect) RealType() string { return d.realType }

// FalseLiteral is the column default for a false boolean.
func (d Dialect) FalseLiteral() string {
	if d.boolType == "BOOLEAN" {
		return "FALSE"
	}
	return "0"
}

// Upsert builds an INSERT of key and cols into table that overwrites cols
// when a row with the same key exists. With no cols the existing row wins.
// Placeholders are already rebound.
func (d Dialect) Upsert(table, key string, cols ...string) string {
	all := append([]string{key}, cols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		table, strings.Join(all, ", "), marks, key)
	if len(cols) == 0 {
		b.WriteString("DO NOTHING")
		return d.Rebind(b.String())
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = excluded." + col
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return d.Rebind(b.String())
}

// InitStatements run once per connection pool, before the schema.
func (d Dialect) InitStatements() []string { return d.pragmas }
