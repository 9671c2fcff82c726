package app_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hotel_sync/internal/domain"
)

// ---- inventory ----

type memInventory struct {
	mu     sync.Mutex
	recs   map[int64]domain.InventoryRecord
	nextID int64
	// beforeWrite runs inside Update/Create, before the version check;
	// tests use it to simulate a concurrent writer.
	beforeWrite func(m *memInventory)
	failAll     error
}

func newInventory(recs ...domain.InventoryRecord) *memInventory {
	m := &memInventory{recs: map[int64]domain.InventoryRecord{}}
	for _, r := range recs {
		m.recs[r.ID] = r
		if r.ID > m.nextID {
			m.nextID = r.ID
		}
	}
	return m
}

func (m *memInventory) GetInventory(_ context.Context, id int64) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return domain.InventoryRecord{}, m.failAll
	}
	r, ok := m.recs[id]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memInventory) FindInventoryByKey(_ context.Context, k domain.InventoryKey) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return domain.InventoryRecord{}, m.failAll
	}
	return m.findLocked(k)
}

func (m *memInventory) findLocked(k domain.InventoryKey) (domain.InventoryRecord, error) {
	for _, r := range m.recs {
		if r.HotelCode == k.HotelCode && r.InvTypeCode == k.InvTypeCode &&
			r.StartDate.Equal(k.StartDate) && r.EndDate.Equal(k.EndDate) {
			return r, nil
		}
	}
	return domain.InventoryRecord{}, domain.ErrNotFound
}

func (m *memInventory) CreateInventory(_ context.Context, k domain.InventoryKey, count int) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeWrite != nil {
		m.beforeWrite(m)
	}
	if _, err := m.findLocked(k); err == nil {
		return domain.InventoryRecord{}, domain.E(domain.KindVersionConflict, "mem.Create", fmt.Errorf("duplicate key"))
	}
	m.nextID++
	r := domain.InventoryRecord{ID: m.nextID, HotelCode: k.HotelCode, InvTypeCode: k.InvTypeCode,
		StartDate: k.StartDate, EndDate: k.EndDate, Count: count, Version: 1}
	m.recs[r.ID] = r
	return r, nil
}

func (m *memInventory) UpdateInventoryCount(_ context.Context, id, expected int64, count int) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeWrite != nil {
		m.beforeWrite(m)
	}
	r, ok := m.recs[id]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	if r.Version != expected || r.Closed() {
		return domain.InventoryRecord{}, domain.E(domain.KindVersionConflict, "mem.Update", fmt.Errorf("stale"))
	}
	r.Count = count
	r.Version++
	m.recs[id] = r
	return r, nil
}

func (m *memInventory) CloseInventory(_ context.Context, id, expected int64, at time.Time) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	if r.Version != expected || r.Closed() {
		return domain.InventoryRecord{}, domain.E(domain.KindVersionConflict, "mem.Close", fmt.Errorf("stale"))
	}
	r.ClosedAt = &at
	r.Version++
	m.recs[id] = r
	return r, nil
}

func (m *memInventory) get(id int64) domain.InventoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id]
}

// ---- distribution ----

type memDistributions struct {
	mu     sync.Mutex
	msgs   map[int64]domain.DistributionMessage
	nextID int64
}

func newDistributions() *memDistributions {
	return &memDistributions{msgs: map[int64]domain.DistributionMessage{}}
}

func (s *memDistributions) SaveDistribution(_ context.Context, m domain.DistributionMessage) (domain.DistributionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.msgs[m.ID] = m
	return m, nil
}

func (s *memDistributions) UpdateDistribution(_ context.Context, m domain.DistributionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.msgs[m.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.AckStatus == domain.AckAcked || cur.Attempt != m.Attempt {
		return domain.ErrVersionConflict
	}
	s.msgs[m.ID] = m
	return nil
}

func (s *memDistributions) ClaimDistributionAttempt(_ context.Context, id int64, attempt int, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.msgs[id]
	if !ok || cur.AckStatus == domain.AckAcked || cur.Attempt != attempt {
		return false, nil
	}
	cur.Attempt++
	cur.NextAttemptAt = &until
	s.msgs[id] = cur
	return true, nil
}

func (s *memDistributions) GetDistribution(_ context.Context, echo string) (domain.DistributionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.EchoToken == echo {
			return m, nil
		}
	}
	return domain.DistributionMessage{}, domain.ErrNotFound
}

func (s *memDistributions) ClaimDueDistributions(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.DistributionMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DistributionMessage
	for _, id := range s.idsLocked() {
		m := s.msgs[id]
		if m.AckStatus == domain.AckAcked || m.NextAttemptAt == nil || m.NextAttemptAt.After(now) {
			continue
		}
		next := now.Add(lease)
		m.NextAttemptAt = &next
		s.msgs[id] = m
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memDistributions) idsLocked() []int64 {
	ids := make([]int64, 0, len(s.msgs))
	for id := range s.msgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memDistributions) all() []domain.DistributionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DistributionMessage
	for _, id := range s.idsLocked() {
		out = append(out, s.msgs[id])
	}
	return out
}

// ---- partner ----

type sentCall struct {
	EchoToken string
	Hotel     string
	Attempt   int
	Lines     []string
}

type fakePartner struct {
	mu    sync.Mutex
	calls []sentCall
	// respond decides the outcome for a message; nil means plain success.
	respond func(m domain.DistributionMessage) (domain.PartnerAck, error)
}

func (p *fakePartner) SendRateAmountNotif(_ context.Context, m domain.DistributionMessage) (domain.PartnerAck, error) {
	p.mu.Lock()
	c := sentCall{EchoToken: m.EchoToken, Hotel: m.HotelCode, Attempt: m.Attempt}
	for _, l := range m.Lines {
		c.Lines = append(c.Lines, l.RatePlanCode)
	}
	p.calls = append(p.calls, c)
	respond := p.respond
	p.mu.Unlock()
	if respond != nil {
		return respond(m)
	}
	return domain.PartnerAck{EchoToken: m.EchoToken, Success: true}, nil
}

func (p *fakePartner) sent() []sentCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentCall(nil), p.calls...)
}

type hintedErr struct{ d time.Duration }

func (e hintedErr) Error() string                 { return "partner busy" }
func (e hintedErr) RetryAfterHint() time.Duration { return e.d }

// ---- rate plans / properties / index ----

type fakeRatePlans struct {
	lines []domain.RatePlanLine
	asked [][]domain.RatePlanRef
	mu    sync.Mutex
}

func (f *fakeRatePlans) ListRatePlanLines(_ context.Context, refs []domain.RatePlanRef) ([]domain.RatePlanLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, refs)
	var out []domain.RatePlanLine
	for _, l := range f.lines {
		if len(refs) == 0 || matchesRef(l, refs) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchesRef(l domain.RatePlanLine, refs []domain.RatePlanRef) bool {
	for _, r := range refs {
		if r.Code == l.RatePlanCode && (r.HotelCode == "" || r.HotelCode == l.HotelCode) {
			return true
		}
	}
	return false
}

type fakeProps struct {
	mu   sync.Mutex
	aggs []domain.PropertyAggregate
	err  error
	hits int
}

func (f *fakeProps) LoadAggregates(context.Context) ([]domain.PropertyAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.PropertyAggregate(nil), f.aggs...), nil
}

type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]string
	calls   int
	failIDs map[string]bool
	failErr error
}

func newIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]string{}, failIDs: map[string]bool{}}
}

func (f *fakeIndex) BulkUpsert(_ context.Context, _ string, docs []domain.IndexDocument) (domain.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return domain.BulkResult{}, f.failErr
	}
	var res domain.BulkResult
	for _, d := range docs {
		if f.failIDs[d.ID] {
			res.Items = append(res.Items, domain.BulkItemResult{ID: d.ID, Status: 400, Error: "mapper_parsing_exception"})
			continue
		}
		f.docs[d.ID] = string(d.Body)
		res.Items = append(res.Items, domain.BulkItemResult{ID: d.ID, Status: 200})
	}
	return res, nil
}

func (f *fakeIndex) snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.docs))
	for k, v := range f.docs {
		out[k] = v
	}
	return out
}

type memGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memGuard) FirstSeen(_ context.Context, consumer, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := consumer + "/" + token
	if g.seen[k] {
		return false, nil
	}
	g.seen[k] = true
	return true, nil
}

func (g *memGuard) Forget(_ context.Context, consumer, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, consumer+"/"+token)
	return nil
}

// ---- payments ----

type memPayments struct {
	mu      sync.Mutex
	intents map[string]domain.PaymentIntent
	fail    error
	ticks   int
}

func (p *memPayments) CancelExpiredPending(_ context.Context, cutoff, now time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
	if p.fail != nil {
		return 0, p.fail
	}
	var n int64
	for id, in := range p.intents {
		if in.Status == domain.PaymentPending && !in.CreatedAt.After(cutoff) {
			in.Status = domain.PaymentCancelled
			in.UpdatedAt = now
			p.intents[id] = in
			n++
		}
	}
	return n, nil
}

func (p *memPayments) status(id string) domain.PaymentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intents[id].Status
}

// ---- change log ----

type fakeTrimmer struct {
	cutoffs []time.Time
}

func (f *fakeTrimmer) TrimChangeLog(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, olderThan)
	return 3, nil
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
