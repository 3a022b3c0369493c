// Package sqldb opens the databases questions are asked about and runs
// generated statements against them.
package sqldb

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Provider is the kind of database behind a connection
type Provider string

const (
	Postgres Provider = "postgres"
	MySQL    Provider = "mysql"
	MSSQL    Provider = "mssql"
	SQLite   Provider = "sqlite"
)

// ParseProvider validates a provider name
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case Postgres, MySQL, MSSQL, SQLite:
		return p, nil
	default:
		return "", errors.Errorf("unsupported database provider: %s", s)
	}
}

// Config locates a target database. For sqlite, DBName is the file path.
type Config struct {
	Provider Provider
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DriverName returns the database/sql driver registered for the provider
func (c Config) DriverName() string {
	switch c.Provider {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	case MSSQL:
		return "sqlserver"
	default:
		return "sqlite"
	}
}

// DSN renders the driver connection string
func (c Config) DSN() (string, error) {
	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	switch c.Provider {
	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   hostPort,
			Path:   "/" + c.DBName,
		}
		return u.String(), nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort
		cfg.DBName = c.DBName
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case MSSQL:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     hostPort,
			RawQuery: url.Values{"database": {c.DBName}}.Encode(),
		}
		return u.String(), nil
	case SQLite:
		if c.DBName == "" {
			return "", errors.New("sqlite connection needs a file path")
		}
		return c.DBName, nil
	default:
		return "", errors.Errorf("unsupported database provider: %s", c.Provider)
	}
}

// String describes the target without credentials
func (c Config) String() string {
	if c.Provider == SQLite {
		return fmt.Sprintf("sqlite:%s", c.DBName)
	}
	return fmt.Sprintf("%s://%s:%d/%s", c.Provider, c.Host, c.Port, c.DBName)
}

// DB is an open target database
type DB struct {
	db       *sqlx.DB
	provider Provider
}

// Open connects to the target database and verifies it answers
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", cfg)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", cfg)
	}

	if cfg.Provider == SQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &DB{db: db, provider: cfg.Provider}, nil
}

// Wrap adopts an already open handle, mainly for tests
func Wrap(db *sqlx.DB, provider Provider) *DB {
	return &DB{db: db, provider: provider}
}

// Provider returns the kind of database
func (d *DB) Provider() Provider {
	return d.provider
}

// Sqlx exposes the underlying handle
func (d *DB) Sqlx() *sqlx.DB {
	return d.db
}

// Close releases the connection pool
func (d *DB) Close() error {
	return d.db.Close()
}
