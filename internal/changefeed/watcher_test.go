package changefeed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel_sync/internal/changefeed"
	"hotel_sync/internal/domain"
)

// script is one Open call: either an open error, or a stream that yields
// changes and then fails with end (nil end blocks until ctx is done).
type script struct {
	openErr error
	changes []changefeed.Change
	end     error
}

type fakeFeed struct {
	mu      sync.Mutex
	scripts []script
	opened  []string
	idle    chan struct{}
}

func newFeed(scripts ...script) *fakeFeed {
	return &fakeFeed{scripts: scripts, idle: make(chan struct{}, 1)}
}

func (f *fakeFeed) Open(ctx context.Context, token string, _ []string) (changefeed.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, token)
	if len(f.scripts) == 0 {
		return &fakeStream{idle: f.idle}, nil
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeStream{changes: s.changes, end: s.end, idle: f.idle}, nil
}

func (f *fakeFeed) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

type fakeStream struct {
	changes []changefeed.Change
	end     error
	idle    chan struct{}
	once    sync.Once
}

func (s *fakeStream) Next(ctx context.Context) (changefeed.Change, error) {
	if len(s.changes) > 0 {
		c := s.changes[0]
		s.changes = s.changes[1:]
		return c, nil
	}
	if s.end != nil {
		return changefeed.Change{}, s.end
	}
	s.once.Do(func() {
		select {
		case s.idle <- struct{}{}:
		default:
		}
	})
	<-ctx.Done()
	return changefeed.Change{}, ctx.Err()
}

func (s *fakeStream) Close() error { return nil }

type memCheckpoint struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memCheckpoint) LoadToken(_ context.Context, consumer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[consumer], nil
}

func (m *memCheckpoint) SaveToken(_ context.Context, consumer, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		delete(m.tokens, consumer)
		return nil
	}
	m.tokens[consumer] = token
	return nil
}

func change(token string) changefeed.Change {
	return changefeed.Change{Collection: domain.CollectionInventory, DocumentID: "doc-" + token, Operation: domain.OpUpdate, Token: token, At: time.Now()}
}

func opts() changefeed.Options {
	return changefeed.Options{
		Consumer:       "test",
		Collections:    []string{domain.CollectionInventory},
		QueueSize:      8,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func recv(t *testing.T, ch <-chan domain.SyncEvent) domain.SyncEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.SyncEvent{}
}

func TestWatcher_EmitsInOrderAndCommits(t *testing.T) {
	feed := newFeed(script{changes: []changefeed.Change{change("1"), change("2"), change("3")}})
	cp := &memCheckpoint{tokens: map[string]string{}}
	w := changefeed.New(feed, cp, opts())

	ch, err := w.Start(context.Background(), "")
	require.NoError(t, err)
	defer w.Stop()

	for _, want := range []string{"1", "2", "3"} {
		ev := recv(t, ch)
		assert.Equal(t, want, ev.ResumeToken)
		assert.Equal(t, domain.OpUpdate, ev.OperationType)
		assert.Equal(t, "doc-"+want, ev.DocumentID)
		require.NoError(t, w.Commit(context.Background(), ev.ResumeToken))
	}
	tok, _ := cp.LoadToken(context.Background(), "test")
	assert.Equal(t, "3", tok)
}

func TestWatcher_ResumesFromCheckpoint(t *testing.T) {
	feed := newFeed()
	cp := &memCheckpoint{tokens: map[string]string{"test": "41"}}
	w := changefeed.New(feed, cp, opts())

	_, err := w.Start(context.Background(), "")
	require.NoError(t, err)
	<-feed.idle
	w.Stop()
	assert.Equal(t, []string{"41"}, feed.Opened())
}

func TestWatcher_ReconnectsAfterLastDeliveredToken(t *testing.T) {
	boom := errors.New("connection reset")
	feed := newFeed(
		script{openErr: boom},
		script{changes: []changefeed.Change{change("5"), change("6")}, end: boom},
		script{changes: []changefeed.Change{change("7")}},
	)
	w := changefeed.New(feed, nil, opts())

	ch, err := w.Start(context.Background(), "4")
	require.NoError(t, err)
	defer w.Stop()

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, recv(t, ch).ResumeToken)
	}
	assert.Equal(t, []string{"5", "6", "7"}, got)
	assert.Equal(t, []string{"4", "4", "6"}, feed.Opened())
}

func TestWatcher_ExpiredTokenTriggersColdStart(t *testing.T) {
	feed := newFeed(
		script{openErr: changefeed.ErrTokenExpired},
		script{changes: []changefeed.Change{change("100")}},
	)
	cp := &memCheckpoint{tokens: map[string]string{"test": "3"}}
	reasons := make(chan string, 1)
	o := opts()
	o.OnColdStart = func(reason string) { reasons <- reason }
	w := changefeed.New(feed, cp, o)

	ch, err := w.Start(context.Background(), "")
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, "100", recv(t, ch).ResumeToken)
	select {
	case r := <-reasons:
		assert.Contains(t, r, "3")
	case <-time.After(time.Second):
		t.Fatal("cold start callback not called")
	}
	assert.Equal(t, []string{"3", ""}, feed.Opened())
	tok, _ := cp.LoadToken(context.Background(), "test")
	assert.Empty(t, tok, "expired checkpoint is cleared")
}

func TestWatcher_DropOldestKeepsNewest(t *testing.T) {
	feed := newFeed(script{changes: []changefeed.Change{change("1"), change("2"), change("3")}})
	o := opts()
	o.QueueSize = 1
	o.Overflow = changefeed.OverflowDropOldest
	w := changefeed.New(feed, nil, o)

	ch, err := w.Start(context.Background(), "")
	require.NoError(t, err)
	defer w.Stop()

	<-feed.idle
	assert.Equal(t, "3", recv(t, ch).ResumeToken)
}

func TestWatcher_SkipsNonMutationChanges(t *testing.T) {
	drop := changefeed.Change{Collection: domain.CollectionInventory, Operation: "invalidate", Token: "2"}
	feed := newFeed(script{changes: []changefeed.Change{change("1"), drop, change("3")}})
	w := changefeed.New(feed, nil, opts())

	ch, err := w.Start(context.Background(), "")
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, "1", recv(t, ch).ResumeToken)
	assert.Equal(t, "3", recv(t, ch).ResumeToken)
}

func TestWatcher_StopClosesChannel(t *testing.T) {
	w := changefeed.New(newFeed(), nil, opts())
	ch, err := w.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = w.Start(context.Background(), "")
	assert.Error(t, err, "second start is rejected")

	w.Stop()
	_, ok := <-ch
	assert.False(t, ok)
}
