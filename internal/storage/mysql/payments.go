package mysql

import (
	"context"
	"time"
)

// CancelExpiredPending is a single conditional write; rows that left Pending
// in the meantime are not touched.
func (r *Repo) CancelExpiredPending(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, cancelExpiredPendingSQL, now.UTC(), cutoff.UTC())
	if err != nil {
		return 0, storeErr("mysql.CancelExpiredPending", err)
	}
	return res.RowsAffected()
}
