package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentworkforce/recordsync/internal/record"
)

const (
	sqlCollectionsTableName = "recordsync_collections"
	sqlFlagsTableName       = "recordsync_flags"
	sqlOperationTimeout     = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver      string
	placeholder func(n int) string
}

var (
	postgresDialect = sqlDialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	sqliteDialect = sqlDialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
	}
)

// SQLStore keeps one row per collection holding the JSON-encoded array. It
// backs both the postgres and sqlite schemes.
type SQLStore struct {
	dsn              string
	dialect          sqlDialect
	collectionsTable string
	flagsTable       string
	openDB           sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	return newSQLStore(dsn, postgresDialect)
}

// NewSQLiteStore opens a database file through modernc.org/sqlite.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return newSQLStore(path, sqliteDialect)
}

func newSQLStore(dsn string, dialect sqlDialect) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dsn:              dsn,
		dialect:          dialect,
		collectionsTable: sqlCollectionsTableName,
		flagsTable:       sqlFlagsTableName,
		openDB:           sql.Open,
	}, nil
}

func (s *SQLStore) Load(key string) ([]record.Record, error) {
	if !validKey(key) {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE collection_key = %s",
		quoteIdentifier(s.collectionsTable), s.dialect.placeholder(1))
	var payload string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCollection([]byte(payload))
}

func (s *SQLStore) Save(key string, records []record.Record) error {
	if !validKey(key) {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := encodeCollection(records)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (collection_key, payload, updated_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (collection_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		quoteIdentifier(s.collectionsTable),
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))
	_, err = s.db.ExecContext(ctx, query, key, string(payload), nowText())
	return err
}

func (s *SQLStore) Flag(name string) (bool, error) {
	if !validKey(name) {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT flag_value FROM %s WHERE flag_name = %s",
		quoteIdentifier(s.flagsTable), s.dialect.placeholder(1))
	var value int
	err := s.db.QueryRowContext(ctx, query, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

func (s *SQLStore) SetFlag(name string, value bool) error {
	if !validKey(name) {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	if !value {
		query := fmt.Sprintf("DELETE FROM %s WHERE flag_name = %s",
			quoteIdentifier(s.flagsTable), s.dialect.placeholder(1))
		_, err := s.db.ExecContext(ctx, query, name)
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (flag_name, flag_value, updated_at)
		VALUES (%s, 1, %s)
		ON CONFLICT (flag_name)
		DO UPDATE SET flag_value = EXCLUDED.flag_value, updated_at = EXCLUDED.updated_at`,
		quoteIdentifier(s.flagsTable), s.dialect.placeholder(1), s.dialect.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, name, nowText())
	return err
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.driver == sqliteDialect.driver {
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					collection_key TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`, quoteIdentifier(s.collectionsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					flag_name TEXT PRIMARY KEY,
					flag_value INTEGER NOT NULL,
					updated_at TEXT NOT NULL
				)`, quoteIdentifier(s.flagsTable)),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
