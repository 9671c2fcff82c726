// Package mysql is the authoritative store: inventory, payments, the property
// graph, distribution messages and the change_log feed.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"hotel_sync/internal/domain"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errDuplicateEntry  = 1062
)

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Open connects with the driver settings every query here relies on.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// conditional updates read RowsAffected as "matched", not "changed"
	cfg.ClientFoundRows = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	// DEFAULT CURRENT_TIMESTAMP columns are compared against UTC times.
	cfg.Params["time_zone"] = "'+00:00'"
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) withTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

// storeErr classifies a driver error; already classified errors pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.E(domain.KindNotFound, op, err)
	}
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && me.Number != errDeadlock && me.Number != errLockWaitTimeout {
		return domain.E(domain.KindSchemaViolation, op, err)
	}
	return domain.E(domain.KindTransientIO, op, err)
}
