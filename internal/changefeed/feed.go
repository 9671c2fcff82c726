// Package changefeed turns a resumable mutation feed into a bounded stream
// of SyncEvents.
package changefeed

import (
	"context"
	"errors"
	"time"

	"hotel_sync/internal/domain"
)

// ErrTokenExpired is returned by Feed.Open (or Stream.Next) when the feed no
// longer holds the position named by the resume token.
var ErrTokenExpired = errors.New("changefeed: resume token expired")

// Change is one raw entry read from the feed.
type Change struct {
	Collection string
	DocumentID string
	Operation  domain.OperationType
	Token      string
	At         time.Time
}

// Feed opens a stream positioned after token. An empty token starts at the
// current head of the feed.
type Feed interface {
	Open(ctx context.Context, token string, collections []string) (Stream, error)
}

// Stream is pulled one change at a time. Next blocks until a change is
// available, ctx is done, or the underlying connection fails.
type Stream interface {
	Next(ctx context.Context) (Change, error)
	Close() error
}

// Positioner is implemented by streams that can name the position they
// were opened at, so a stream opened at the head can be resumed exactly.
type Positioner interface {
	Position() string
}

type Overflow string

const (
	OverflowBlock      Overflow = "block"
	OverflowDropOldest Overflow = "drop-oldest"
)

func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case OverflowBlock, "":
		return OverflowBlock, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	}
	return "", errors.New("changefeed: unknown overflow policy " + s)
}
