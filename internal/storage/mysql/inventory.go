package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hotel_sync/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(s rowScanner) (domain.InventoryRecord, error) {
	var (
		rec    domain.InventoryRecord
		closed sql.NullTime
	)
	err := s.Scan(&rec.ID, &rec.HotelCode, &rec.InvTypeCode, &rec.StartDate, &rec.EndDate,
		&rec.Count, &rec.Version, &closed, &rec.UpdatedAt)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	rec.ClosedAt = timePtr(closed)
	return rec, nil
}

func (r *Repo) GetInventory(ctx context.Context, id int64) (domain.InventoryRecord, error) {
	rec, err := scanInventory(r.db.QueryRowContext(ctx, getInventorySQL, id))
	return rec, storeErr("mysql.GetInventory", err)
}

func (r *Repo) FindInventoryByKey(ctx context.Context, k domain.InventoryKey) (domain.InventoryRecord, error) {
	rec, err := scanInventory(r.db.QueryRowContext(ctx, findInventoryByKeySQL,
		k.HotelCode, k.InvTypeCode, k.StartDate.Format(domain.DateLayout), k.EndDate.Format(domain.DateLayout)))
	return rec, storeErr("mysql.FindInventoryByKey", err)
}

// CreateInventory inserts at version 1 and records the insert on the change
// log in the same transaction.
func (r *Repo) CreateInventory(ctx context.Context, k domain.InventoryKey, count int) (domain.InventoryRecord, error) {
	const op = "mysql.CreateInventory"
	var rec domain.InventoryRecord
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertInventorySQL,
			k.HotelCode, k.InvTypeCode, k.StartDate.Format(domain.DateLayout), k.EndDate.Format(domain.DateLayout), count)
		if err != nil {
			if isDuplicate(err) {
				return domain.E(domain.KindVersionConflict, op, fmt.Errorf("inventory %s/%s already exists", k.HotelCode, k.InvTypeCode))
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := appendChange(ctx, tx, domain.CollectionInventory, id, domain.OpInsert); err != nil {
			return err
		}
		rec, err = scanInventory(tx.QueryRowContext(ctx, getInventorySQL, id))
		return err
	})
	if err != nil {
		return domain.InventoryRecord{}, storeErr(op, err)
	}
	return rec, nil
}

func (r *Repo) UpdateInventoryCount(ctx context.Context, id, expectedVersion int64, count int) (domain.InventoryRecord, error) {
	return r.casInventory(ctx, "mysql.UpdateInventoryCount", id, updateInventoryCountSQL, count, id, expectedVersion)
}

func (r *Repo) CloseInventory(ctx context.Context, id, expectedVersion int64, at time.Time) (domain.InventoryRecord, error) {
	return r.casInventory(ctx, "mysql.CloseInventory", id, closeInventorySQL, at.UTC(), id, expectedVersion)
}

// casInventory runs a version-guarded update. Zero affected rows means the
// record is gone, closed or was written by someone else first.
func (r *Repo) casInventory(ctx context.Context, op string, id int64, query string, args ...any) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		cur, err := scanInventory(tx.QueryRowContext(ctx, getInventorySQL, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.E(domain.KindNotFound, op, fmt.Errorf("inventory %d", id))
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.E(domain.KindVersionConflict, op,
				fmt.Errorf("inventory %d is at version %d (closed=%t)", id, cur.Version, cur.Closed()))
		}
		if err := appendChange(ctx, tx, domain.CollectionInventory, id, domain.OpUpdate); err != nil {
			return err
		}
		rec = cur
		return nil
	})
	if err != nil {
		return domain.InventoryRecord{}, storeErr(op, err)
	}
	return rec, nil
}

func appendChange(ctx context.Context, tx *sql.Tx, collection string, id int64, opType domain.OperationType) error {
	_, err := tx.ExecContext(ctx, appendChangeSQL, collection, strconv.FormatInt(id, 10), string(opType))
	return err
}
