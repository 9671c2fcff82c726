package ota

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

const maxResponseBytes = 1 << 20

// PartnerError is a non-2xx answer from the partner. RetryAfter carries the
// server hint when one was sent.
type PartnerError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *PartnerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ota: partner status %d", e.Status)
	}
	return fmt.Sprintf("ota: partner status %d: %s", e.Status, e.Body)
}

func (e *PartnerError) RetryAfterHint() time.Duration { return e.RetryAfter }

type Client struct {
	endpoint string
	hc       *http.Client
	rl       *rate.Limiter
	creds    Credentials
	now      func() time.Time
}

func New(endpoint string, creds Credentials, timeout time.Duration, rps int) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ota endpoint is required")
	}
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
		rl:       rate.NewLimiter(rate.Limit(rps), rps),
		creds:    creds,
		now:      time.Now,
	}, nil
}

// SendRateAmountNotif posts one message. The echo token of m is sent as is,
// so a retried message is the same logical message to the partner.
func (c *Client) SendRateAmountNotif(ctx context.Context, m domain.DistributionMessage) (domain.PartnerAck, error) {
	rq, err := BuildRateAmountNotif(m.EchoToken, c.now(), c.creds, m.HotelCode, m.HotelName, m.Lines)
	if err != nil {
		return domain.PartnerAck{}, err
	}
	body, err := Encode(rq)
	if err != nil {
		return domain.PartnerAck{}, err
	}

	// client-side rate limiting
	if err := c.rl.Wait(ctx); err != nil {
		return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "ota.Send", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PartnerAck{}, domain.E(domain.KindSchemaViolation, "ota.Send", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", "hotel-sync/1.0")
	req.Header.Set("X-Echo-Token", m.EchoToken)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("ota", "rate_amount_notif", 0, time.Since(start))
		// network error, timeout or context canceled
		return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "ota.Send", err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("ota", "rate_amount_notif", resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "ota.Send", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return domain.PartnerAck{}, domain.E(domain.KindTransientIO, "ota.Send", &PartnerError{
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(snippet),
			RetryAfter: retryAfter(resp, c.now()),
		})
	}

	ack, err := DecodeAck(data, len(m.Lines))
	if err != nil {
		return domain.PartnerAck{}, err
	}
	if ack.EchoToken != "" && ack.EchoToken != m.EchoToken {
		return domain.PartnerAck{}, domain.E(domain.KindSchemaViolation, "ota.Send",
			fmt.Errorf("echo token mismatch: sent %s, got %s", m.EchoToken, ack.EchoToken))
	}
	return ack, nil
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response, now time.Time) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	// seconds form
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	// HTTP-date form
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
