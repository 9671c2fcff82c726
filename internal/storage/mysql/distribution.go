package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hotel_sync/internal/domain"
)

func scanDistribution(s rowScanner) (domain.DistributionMessage, error) {
	var (
		m                domain.DistributionMessage
		hotelName        sql.NullString
		lines, lineErrs  []byte
		lastErr          sql.NullString
		status           string
		sentAt, nextTime sql.NullTime
	)
	if err := s.Scan(&m.ID, &m.EchoToken, &m.HotelCode, &hotelName, &lines, &status, &m.Attempt,
		&lineErrs, &lastErr, &sentAt, &nextTime, &m.CreatedAt); err != nil {
		return domain.DistributionMessage{}, err
	}
	m.HotelName = hotelName.String
	m.AckStatus = domain.AckStatus(status)
	m.LastError = lastErr.String
	m.SentAt = timePtr(sentAt)
	m.NextAttemptAt = timePtr(nextTime)
	m.CreatedAt = m.CreatedAt.UTC()
	if err := json.Unmarshal(lines, &m.Lines); err != nil {
		return domain.DistributionMessage{}, fmt.Errorf("decode lines of %s: %w", m.EchoToken, err)
	}
	if len(lineErrs) > 0 {
		if err := json.Unmarshal(lineErrs, &m.LineErrors); err != nil {
			return domain.DistributionMessage{}, fmt.Errorf("decode line errors of %s: %w", m.EchoToken, err)
		}
	}
	return m, nil
}

func lineErrorsJSON(errs []domain.LineError) ([]byte, error) {
	if len(errs) == 0 {
		return nil, nil
	}
	return json.Marshal(errs)
}

// SaveDistribution persists a message before it is sent.
func (r *Repo) SaveDistribution(ctx context.Context, m domain.DistributionMessage) (domain.DistributionMessage, error) {
	const op = "mysql.SaveDistribution"
	lines, err := json.Marshal(m.Lines)
	if err != nil {
		return domain.DistributionMessage{}, domain.E(domain.KindSchemaViolation, op, err)
	}
	lineErrs, err := lineErrorsJSON(m.LineErrors)
	if err != nil {
		return domain.DistributionMessage{}, domain.E(domain.KindSchemaViolation, op, err)
	}
	if m.AckStatus == "" {
		m.AckStatus = domain.AckPending
	}
	res, err := r.db.ExecContext(ctx, insertDistributionSQL,
		m.EchoToken, m.HotelCode, valStr(m.HotelName), string(lines), string(m.AckStatus), m.Attempt,
		valJSON(lineErrs), valStr(m.LastError), valTime(m.SentAt), valTime(m.NextAttemptAt))
	if err != nil {
		return domain.DistributionMessage{}, storeErr(op, err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return domain.DistributionMessage{}, storeErr(op, err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

// UpdateDistribution records the outcome of attempt m.Attempt. It fails with
// VersionConflict when another sender has since claimed a later attempt or
// the message is already Acked.
func (r *Repo) UpdateDistribution(ctx context.Context, m domain.DistributionMessage) error {
	const op = "mysql.UpdateDistribution"
	lineErrs, err := lineErrorsJSON(m.LineErrors)
	if err != nil {
		return domain.E(domain.KindSchemaViolation, op, err)
	}
	res, err := r.db.ExecContext(ctx, updateDistributionSQL,
		string(m.AckStatus), valJSON(lineErrs), valStr(m.LastError),
		valTime(m.SentAt), valTime(m.NextAttemptAt), m.EchoToken, m.Attempt)
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return domain.E(domain.KindVersionConflict, op, fmt.Errorf("distribution %s attempt %d superseded", m.EchoToken, m.Attempt))
	}
	return nil
}

// ClaimDistributionAttempt takes attempt+1 of a message for one sender and
// holds it until the given time. It reports false when another sender got
// there first.
func (r *Repo) ClaimDistributionAttempt(ctx context.Context, id int64, attempt int, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, claimDistributionAttemptSQL, until.UTC(), id, attempt)
	if err != nil {
		return false, storeErr("mysql.ClaimDistributionAttempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("mysql.ClaimDistributionAttempt", err)
	}
	return n == 1, nil
}

func (r *Repo) GetDistribution(ctx context.Context, echoToken string) (domain.DistributionMessage, error) {
	m, err := scanDistribution(r.db.QueryRowContext(ctx, getDistributionSQL, echoToken))
	return m, storeErr("mysql.GetDistribution", err)
}

// ClaimDueDistributions locks due rows with SKIP LOCKED so concurrent
// claimers split the backlog, then moves each row's next attempt past the
// lease before releasing the locks.
func (r *Repo) ClaimDueDistributions(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.DistributionMessage, error) {
	const op = "mysql.ClaimDueDistributions"
	if limit <= 0 {
		return nil, nil
	}
	var out []domain.DistributionMessage
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, claimDueDistributionsSQL, now.UTC(), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			m, err := scanDistribution(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, m)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}

		next := now.Add(lease).UTC()
		args := make([]any, 0, len(out)+1)
		args = append(args, next)
		for i := range out {
			args = append(args, out[i].ID)
			out[i].NextAttemptAt = &next
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE distribution_messages SET next_attempt_at = ? WHERE id IN ("+placeholders(len(out))+")", args...)
		return err
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}
