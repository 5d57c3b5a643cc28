// Package store persists poll cursors, the credit ledger and connections
// in SQL. SQLite is the default; Postgres is used when a DSN is configured.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver  string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"-"`
}

// Open opens the SQLite database at dataDir/state.db, creating dataDir if needed.
// It enables WAL mode and runs pending migrations. Caller must call Close when done.
func Open(dataDir string) (*DB, error) {
	return OpenWith(Options{Driver: DriverSQLite, DataDir: dataDir})
}

// OpenWith opens the configured database and runs pending migrations.
func OpenWith(o Options) (*DB, error) {
	switch o.Driver {
	case "", DriverSQLite:
		return openSQLite(o.DataDir)
	case DriverPostgres:
		if o.DSN == "" {
			return nil, fmt.Errorf("state store: postgres requires a dsn")
		}
		db, err := sql.Open("postgres", o.DSN)
		if err != nil {
			return nil, fmt.Errorf("state store: open db: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("state store: ping: %w", err)
		}
		return finishOpen(db, DriverPostgres)
	default:
		return nil, fmt.Errorf("state store: unknown driver %q", o.Driver)
	}
}

func openSQLite(dataDir string) (*DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("state store: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	dbPath := filepath.Join(dataDir, "state.db")
	// Pragmas in the DSN apply to every pooled connection. WAL lets readers
	// run alongside the single writer; busy_timeout makes writers queue.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("state store: open db: %w", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: WAL: %w", err)
	}
	if mode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("state store: journal mode is %q, want wal", mode)
	}
	return finishOpen(db, DriverSQLite)
}

func finishOpen(db *sql.DB, driver string) (*DB, error) {
	d := &DB{db: db, driver: driver}
	if err := d.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// DB holds the connection and the dialect it speaks.
type DB struct {
	db     *sql.DB
	driver string
}

// SQLDB returns the underlying *sql.DB for use by stores. Do not close it directly; use Close on DB.
func (d *DB) SQLDB() *sql.DB {
	return d.db
}

func (d *DB) Driver() string { return d.driver }

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(q string) string {
	if d.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) runMigrations() error {
	if _, err := d.db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := d.currentVersion()
	if err != nil {
		return err
	}
	names, err := migrationNames(d.driver)
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= 0 {
			continue
		}
		if n <= current {
			continue
		}
		sql, err := migrationSQL(d.driver, name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %s: begin: %w", name, err)
		}
		if _, err := tx.Exec(sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: clear version: %w", name, err)
		}
		if _, err := tx.Exec(d.rebind("INSERT INTO schema_version (version) VALUES (?)"), n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: set version: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: commit: %w", name, err)
		}
	}
	return nil
}

func (d *DB) currentVersion() (int, error) {
	var v sql.NullInt64
	err := d.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func migrationNames(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid migration name")
	}
	return strconv.Atoi(parts[0])
}

func migrationSQL(driver, name string) (string, error) {
	data, err := fs.ReadFile(migrationsFS, "migrations/"+driver+"/"+name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
