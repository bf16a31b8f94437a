// Package migrations applies the embedded schema migrations for whichever
// SQL dialect the store was configured with.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Supported dialects. The value doubles as the embedded migration directory.
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

//go:embed sqlite/*.sql mysql/*.sql
var migrationFiles embed.FS

// Up brings the database to the latest schema version. A database already at
// the latest version is not an error.
func Up(db *sql.DB, dialect string) error {
	sourceDriver, err := iofs.New(migrationFiles, dialect)
	if err != nil {
		return fmt.Errorf("reading %s migrations: %w", dialect, err)
	}

	var dbDriver database.Driver
	switch dialect {
	case DialectSQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DialectMySQL:
		dbDriver, err = mysql.WithInstance(db, &mysql.Config{})
	default:
		return fmt.Errorf("unknown dialect: %s", dialect)
	}
	if err != nil {
		return fmt.Errorf("creating %s migration driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dialect, dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	// Closing m would close the caller's db connection; the caller owns it.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
