package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"hotel_sync/internal/changefeed"
	"hotel_sync/internal/domain"
)

// ChangeFeed serves change_log as a resumable feed. A token is the id of the
// last row consumed.
type ChangeFeed struct {
	db     *sql.DB
	poll   time.Duration
	settle time.Duration
	batch  int
	clock  clockwork.Clock
}

type FeedOptions struct {
	PollInterval time.Duration
	Settle       time.Duration
	BatchSize    int
	Clock        clockwork.Clock
}

func NewChangeFeed(db *sql.DB, o FeedOptions) *ChangeFeed {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return &ChangeFeed{db: db, poll: o.PollInterval, settle: o.Settle, batch: o.BatchSize, clock: o.Clock}
}

func (f *ChangeFeed) floor(ctx context.Context) (int64, error) {
	var v int64
	err := f.db.QueryRowContext(ctx, changeFloorSQL).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Open positions a stream after token. Unparseable tokens and tokens below
// the retention floor are reported as expired.
func (f *ChangeFeed) Open(ctx context.Context, token string, collections []string) (changefeed.Stream, error) {
	const op = "mysql.ChangeFeed.Open"
	if len(collections) == 0 {
		return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("no collections to watch"))
	}
	var pos int64
	if token == "" {
		if err := f.db.QueryRowContext(ctx, changeHeadSQL).Scan(&pos); err != nil {
			return nil, storeErr(op, err)
		}
	} else {
		v, err := strconv.ParseInt(token, 10, 64)
		if err != nil || v < 0 {
			return nil, changefeed.ErrTokenExpired
		}
		floor, err := f.floor(ctx)
		if err != nil {
			return nil, storeErr(op, err)
		}
		if v < floor {
			return nil, changefeed.ErrTokenExpired
		}
		pos = v
	}

	cols := make([]any, len(collections))
	for i, c := range collections {
		cols[i] = c
	}
	return &changeStream{
		feed:  f,
		pos:   pos,
		query: fmt.Sprintf(readChangesSQL, placeholders(len(collections))),
		cols:  cols,
	}, nil
}

type changeStream struct {
	feed   *ChangeFeed
	pos    int64
	query  string
	cols   []any
	buf    []changefeed.Change
	closed bool
}

func (s *changeStream) Next(ctx context.Context) (changefeed.Change, error) {
	for len(s.buf) == 0 {
		if s.closed {
			return changefeed.Change{}, fmt.Errorf("changefeed stream closed")
		}
		if err := s.fill(ctx); err != nil {
			return changefeed.Change{}, err
		}
		if len(s.buf) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return changefeed.Change{}, ctx.Err()
		case <-s.feed.clock.After(s.feed.poll):
		}
	}
	c := s.buf[0]
	s.buf = s.buf[1:]
	return c, nil
}

// fill reads the next batch. An idle read also checks that retention has
// not overtaken the stream's position.
func (s *changeStream) fill(ctx context.Context) error {
	args := make([]any, 0, len(s.cols)+3)
	args = append(args, s.pos, s.feed.settle.Microseconds())
	args = append(args, s.cols...)
	args = append(args, s.feed.batch)

	rows, err := s.feed.db.QueryContext(ctx, s.query, args...)
	if err != nil {
		return storeErr("mysql.ChangeFeed.Next", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			c   changefeed.Change
			opT string
		)
		if err := rows.Scan(&id, &c.Collection, &c.DocumentID, &opT, &c.At); err != nil {
			return storeErr("mysql.ChangeFeed.Next", err)
		}
		c.Operation = domain.OperationType(opT)
		c.Token = strconv.FormatInt(id, 10)
		c.At = c.At.UTC()
		s.pos = id
		s.buf = append(s.buf, c)
	}
	if err := rows.Err(); err != nil {
		return storeErr("mysql.ChangeFeed.Next", err)
	}
	if len(s.buf) > 0 {
		return nil
	}
	floor, err := s.feed.floor(ctx)
	if err != nil {
		return storeErr("mysql.ChangeFeed.Next", err)
	}
	if s.pos < floor {
		return changefeed.ErrTokenExpired
	}
	return nil
}

func (s *changeStream) Position() string { return strconv.FormatInt(s.pos, 10) }

func (s *changeStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}

// TrimChangeLog deletes rows older than olderThan and raises the floor so
// tokens pointing into the removed range are reported as expired.
func (r *Repo) TrimChangeLog(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "mysql.TrimChangeLog"
	var removed int64
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		var through int64
		if err := tx.QueryRowContext(ctx, trimBoundarySQL, olderThan.UTC()).Scan(&through); err != nil {
			return err
		}
		if through == 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, trimChangesSQL, through)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, raiseFloorSQL, through)
		return err
	})
	if err != nil {
		return 0, storeErr(op, err)
	}
	return removed, nil
}
