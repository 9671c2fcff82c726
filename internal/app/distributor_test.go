package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel_sync/internal/app"
	"hotel_sync/internal/domain"
)

func rateLine(hotel, plan string) domain.RatePlanLine {
	return domain.RatePlanLine{
		HotelCode: hotel, HotelName: "Hotel " + hotel, RatePlanCode: plan, InvTypeCode: "DLX",
		StartDate: day("2025-06-01"), EndDate: day("2025-06-30"), WeekdayMask: domain.AllWeek, CurrencyCode: "EUR",
		BaseAmountsByOccupancy: []domain.GuestAmount{{NumberOfGuests: 2, AmountBeforeTax: decimal.NewFromInt(120)}},
	}
}

func newDistributor(store *memDistributions, p *fakePartner) *app.Distributor {
	return app.NewDistributor(store, p, &fakeRatePlans{}, app.DistributorOptions{
		FanOut: 2, MaxAttempts: 3, RetryBase: time.Second, RetryMax: time.Minute, SendTimeout: time.Second,
	})
}

func TestBuildAndSend_GroupsByHotelInSourceOrder(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{}
	d := newDistributor(store, p)

	lines := []domain.RatePlanLine{rateLine("H1", "A"), rateLine("H2", "B"), rateLine("H1", "C"), rateLine("H2", "D"), rateLine("H1", "E")}
	msgs, err := d.BuildAndSend(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "H1", msgs[0].HotelCode)
	assert.Equal(t, "H2", msgs[1].HotelCode)
	assert.NotEqual(t, msgs[0].EchoToken, msgs[1].EchoToken)
	for _, m := range msgs {
		assert.Equal(t, domain.AckAcked, m.AckStatus)
		assert.Equal(t, 1, m.Attempt)
		assert.Nil(t, m.NextAttemptAt)
	}

	byHotel := map[string][]string{}
	for _, c := range p.sent() {
		byHotel[c.Hotel] = c.Lines
	}
	assert.Equal(t, []string{"A", "C", "E"}, byHotel["H1"])
	assert.Equal(t, []string{"B", "D"}, byHotel["H2"])
}

func TestBuildAndSend_FailureIsRetriedWithSameEchoToken(t *testing.T) {
	store := newDistributions()
	var mu sync.Mutex
	fail := true
	p := &fakePartner{respond: func(m domain.DistributionMessage) (domain.PartnerAck, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "test", errors.New("503"))
		}
		return domain.PartnerAck{EchoToken: m.EchoToken, Success: true}, nil
	}}
	d := newDistributor(store, p)

	msgs, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A")})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.AckFailed, msgs[0].AckStatus)
	require.NotNil(t, msgs[0].NextAttemptAt)
	assert.NotEmpty(t, msgs[0].LastError)

	// nothing is due yet
	n, err := d.Retry(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	// make it due and let the partner recover
	stored := store.all()[0]
	past := time.Now().Add(-time.Second)
	stored.NextAttemptAt = &past
	require.NoError(t, store.UpdateDistribution(context.Background(), stored))
	mu.Lock()
	fail = false
	mu.Unlock()

	n, err = d.Retry(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent := p.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].EchoToken, sent[1].EchoToken)
	assert.Equal(t, 1, sent[0].Attempt)
	assert.Equal(t, 2, sent[1].Attempt)

	final := store.all()[0]
	assert.Equal(t, domain.AckAcked, final.AckStatus)
	assert.Equal(t, 2, final.Attempt)
}

func TestRetry_NeverResendsAcked(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{}
	d := newDistributor(store, p)

	_, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A")})
	require.NoError(t, err)

	// even if the row looks due, an Acked message is never claimed
	m := store.all()[0]
	past := time.Now().Add(-time.Hour)
	m.NextAttemptAt = &past
	store.msgs[m.ID] = m

	n, err := d.Retry(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, p.sent(), 1)
}

func TestBuildAndSend_LineErrorsAckMessage(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{respond: func(m domain.DistributionMessage) (domain.PartnerAck, error) {
		return domain.PartnerAck{EchoToken: m.EchoToken, LineErrors: []domain.LineError{{Line: 1, Code: "402", Message: "unknown rate plan"}}}, nil
	}}
	d := newDistributor(store, p)

	msgs, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A"), rateLine("H1", "B")})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.AckAcked, msgs[0].AckStatus)
	require.Len(t, msgs[0].LineErrors, 1)
	assert.Equal(t, 1, msgs[0].LineErrors[0].Line)
}

func TestBuildAndSend_UnattributedErrorsFailWholeMessage(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{respond: func(m domain.DistributionMessage) (domain.PartnerAck, error) {
		return domain.PartnerAck{EchoToken: m.EchoToken, Errors: []string{"450 unable to process"}}, nil
	}}
	d := newDistributor(store, p)

	msgs, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A")})
	require.NoError(t, err)
	assert.Equal(t, domain.AckFailed, msgs[0].AckStatus)
	assert.NotNil(t, msgs[0].NextAttemptAt)
	assert.Contains(t, msgs[0].LastError, "450")
}

func TestBuildAndSend_SchemaViolationIsNotRetried(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{respond: func(domain.DistributionMessage) (domain.PartnerAck, error) {
		return domain.PartnerAck{}, domain.E(domain.KindSchemaViolation, "test", errors.New("bad currency"))
	}}
	d := newDistributor(store, p)

	msgs, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A")})
	require.NoError(t, err)
	assert.Equal(t, domain.AckFailed, msgs[0].AckStatus)
	assert.Nil(t, msgs[0].NextAttemptAt)
}

func TestBuildAndSend_GivesUpAfterMaxAttemptsAndHonorsRetryAfter(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{respond: func(domain.DistributionMessage) (domain.PartnerAck, error) {
		return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "test", hintedErr{d: 10 * time.Minute})
	}}
	d := newDistributor(store, p)

	start := time.Now()
	msgs, err := d.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A")})
	require.NoError(t, err)
	require.NotNil(t, msgs[0].NextAttemptAt)
	assert.True(t, msgs[0].NextAttemptAt.After(start.Add(9*time.Minute)), "Retry-After wins over a shorter backoff")

	for i := 0; i < 2; i++ {
		m := store.all()[0]
		past := time.Now().Add(-time.Second)
		m.NextAttemptAt = &past
		store.msgs[m.ID] = m
		_, err := d.Retry(context.Background(), 10)
		require.NoError(t, err)
	}
	final := store.all()[0]
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, domain.AckFailed, final.AckStatus)
	assert.Nil(t, final.NextAttemptAt, "left for an operator")
}

func TestEnqueueRatePlans_PersistsWithoutSending(t *testing.T) {
	store := newDistributions()
	p := &fakePartner{}
	plans := &fakeRatePlans{lines: []domain.RatePlanLine{rateLine("H1", "A"), rateLine("H2", "B"), rateLine("H1", "C")}}
	d := app.NewDistributor(store, p, plans, app.DistributorOptions{})

	msgs, err := d.EnqueueRatePlans(context.Background(), domain.RefsForCodes([]string{"A", "C"}))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.AckPending, msgs[0].AckStatus)
	assert.Empty(t, p.sent())

	n, err := d.Retry(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.AckAcked, store.all()[0].AckStatus)
}

func TestEnqueueRatePlans_HotelScopedRefSkipsOtherHotels(t *testing.T) {
	store := newDistributions()
	plans := &fakeRatePlans{lines: []domain.RatePlanLine{rateLine("H1", "BAR"), rateLine("H2", "BAR")}}
	d := app.NewDistributor(store, &fakePartner{}, plans, app.DistributorOptions{})

	msgs, err := d.EnqueueRatePlans(context.Background(), []domain.RatePlanRef{{HotelCode: "H2", Code: "BAR"}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "H2", msgs[0].HotelCode)

	msgs, err = d.EnqueueRatePlans(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, msgs, "no refs never means every plan")
}

func TestBuildAndSend_ExpiredHoldIsNotSentTwice(t *testing.T) {
	store := newDistributions()
	gate := make(chan struct{})
	var once sync.Once
	p := &fakePartner{respond: func(m domain.DistributionMessage) (domain.PartnerAck, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			<-gate
		}
		return domain.PartnerAck{EchoToken: m.EchoToken, Success: true}, nil
	}}
	opts := app.DistributorOptions{FanOut: 1, MaxAttempts: 3, RetryBase: time.Second, RetryMax: time.Minute,
		SendTimeout: time.Second, Lease: time.Millisecond}
	slow := app.NewDistributor(store, p, &fakeRatePlans{}, opts)
	opts.FanOut = 4
	other := app.NewDistributor(store, p, &fakeRatePlans{}, opts)

	done := make(chan []domain.DistributionMessage, 1)
	go func() {
		msgs, _ := slow.BuildAndSend(context.Background(), []domain.RatePlanLine{rateLine("H1", "A"), rateLine("H2", "B")})
		done <- msgs
	}()

	// H1 is in flight and H2 waits for the only fan-out slot; both holds lapse
	require.Eventually(t, func() bool { return len(p.sent()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, err := other.Retry(context.Background(), 10)
	require.NoError(t, err)
	close(gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BuildAndSend did not return")
	}

	perHotel := map[string][]int{}
	for _, c := range p.sent() {
		perHotel[c.Hotel] = append(perHotel[c.Hotel], c.Attempt)
	}
	assert.Equal(t, []int{1}, perHotel["H2"], "a message waiting for a slot is not sent again")
	assert.ElementsMatch(t, []int{1, 2}, perHotel["H1"], "every send carries its own attempt")

	for _, m := range store.all() {
		assert.Equal(t, domain.AckAcked, m.AckStatus, m.HotelCode)
		if m.HotelCode == "H1" {
			assert.Equal(t, 2, m.Attempt, "the older attempt does not overwrite the newer one")
		}
	}
}
