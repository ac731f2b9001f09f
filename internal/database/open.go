// internal/database/open.go
//
// Engine construction: dialect → driver → pooled *bun.DB.
//
// Context
// -------
// `Open()` is the default Opener used by `Database.Connect()`.  The dialect
// named in the config picks both the database/sql driver and the bun
// dialect:
//
//	postgres, postgresql  → uptrace pgdriver      + pgdialect
//	pgx                   → jackc/pgx stdlib      + pgdialect
//	mysql                 → go-sql-driver/mysql   + mysqldialect
//	sqlite, sqlite3       → mattn/go-sqlite3      + sqlitedialect
//
// Driver-specific options live in `db.other`.  The keys below are read by
// convention; anything else is passed through untouched and ignored here.
//
//	max_open_conns     int      (default 15, sqlite 1)
//	max_idle_conns     int      (default 5)
//	conn_max_lifetime  duration (default 30m)
//	echo               bool     (attach bundebug query logging)
//	sslmode            string   (postgres only; "disable" turns TLS off)
//
// Open pings before returning so Connect can treat "reachable" as part of
// the attempt.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/knadh/koanf/providers/confmap"
	koanf "github.com/knadh/koanf/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"

	"github.com/yanizio/stencil/internal/config"
)

// Opener creates a live engine.  Tests swap it to simulate outages.
type Opener func(ctx context.Context, cfg config.DatabaseConfigs) (*bun.DB, error)

// Options are the pool tunables recognised in `db.other`.
type Options struct {
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Echo            bool          `koanf:"echo"`
	SSLMode         string        `koanf:"sslmode"`
}

// OptionsFromOther decodes the recognised keys of `db.other`, weakly typed,
// and fills defaults for the rest.
func OptionsFromOther(other map[string]any) (Options, error) {
	var o Options
	if len(other) > 0 {
		k := koanf.New(".")
		if err := k.Load(confmap.Provider(other, ""), nil); err != nil {
			return o, err
		}
		if err := k.Unmarshal("", &o); err != nil {
			return o, fmt.Errorf("db.other: %w", err)
		}
	}

	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 15
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	return o, nil
}

// Open builds and pings an engine for cfg.
func Open(ctx context.Context, cfg config.DatabaseConfigs) (*bun.DB, error) {
	opts, err := OptionsFromOther(cfg.Other)
	if err != nil {
		return nil, err
	}

	sqldb, dial, err := openSQL(cfg, opts)
	if err != nil {
		return nil, err
	}

	// sqlite serialises writers.
	if isSQLite(cfg.Dialect) {
		if _, set := cfg.Other["max_open_conns"]; !set {
			opts.MaxOpenConns = 1
		}
	}
	sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	sqldb.SetMaxIdleConns(opts.MaxIdleConns)
	sqldb.SetConnMaxLifetime(opts.ConnMaxLifetime)

	db := bun.NewDB(sqldb, dial)
	if opts.Echo {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openSQL(cfg config.DatabaseConfigs, opts Options) (*sql.DB, schema.Dialect, error) {
	switch strings.ToLower(cfg.Dialect) {
	case "postgres", "postgresql":
		popts := []pgdriver.Option{pgdriver.WithDSN(postgresURL(cfg))}
		if strings.EqualFold(opts.SSLMode, "disable") {
			popts = append(popts, pgdriver.WithInsecure(true))
		}
		return sql.OpenDB(pgdriver.NewConnector(popts...)), pgdialect.New(), nil

	case "pgx":
		db, err := sql.Open("pgx", postgresURL(cfg))
		return db, pgdialect.New(), err

	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.Username.Reveal()
		mc.Passwd = cfg.Password.Reveal()
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		conn, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, nil, err
		}
		return sql.OpenDB(conn), mysqldialect.New(), nil

	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite3", cfg.Name)
		return db, sqlitedialect.New(), err
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Dialect)
}

// postgresURL renders the DSN with the credentials escaped, in the
// postgres:// form both pgdriver and pgx parse.
func postgresURL(cfg config.DatabaseConfigs) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username.Reveal(), cfg.Password.Reveal()),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	return u.String()
}

func isSQLite(dialect string) bool {
	d := strings.ToLower(dialect)
	return d == "sqlite" || d == "sqlite3"
}

// sqlxDriver maps a bun dialect to the driver name sqlx uses for bindvars.
func sqlxDriver(db *bun.DB) string {
	switch db.Dialect().Name() {
	case dialect.PG:
		return "postgres"
	case dialect.MySQL:
		return "mysql"
	case dialect.SQLite:
		return "sqlite3"
	}
	return ""
}
