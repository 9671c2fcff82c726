package ota

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotel_sync/internal/domain"
)

// Credentials fill the POS block and envelope header.
type Credentials struct {
	RequestorID     string
	IDContext       string
	MessagePassword string
	Target          string
	Version         string
}

const (
	flagOn  = "1"
	flagOff = "0"
)

// BuildRateAmountNotif encodes one hotel group. Message order follows line order.
func BuildRateAmountNotif(echoToken string, ts time.Time, creds Credentials, hotelCode, hotelName string, lines []domain.RatePlanLine) (HotelRateAmountNotifRQ, error) {
	const op = "ota.BuildRateAmountNotif"
	if echoToken == "" {
		return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("echo token is required"))
	}
	if hotelCode == "" {
		return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("hotel code is required"))
	}
	if len(lines) == 0 {
		return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("no rate lines for hotel %s", hotelCode))
	}

	msgs := make([]RateAmountMessage, 0, len(lines))
	for i, l := range lines {
		if l.HotelCode != hotelCode {
			return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, op,
				fmt.Errorf("line %d belongs to hotel %s, not %s", i, l.HotelCode, hotelCode))
		}
		m, err := buildMessage(l)
		if err != nil {
			return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("line %d: %w", i, err))
		}
		msgs = append(msgs, m)
	}

	return HotelRateAmountNotifRQ{
		Xmlns:     Namespace,
		EchoToken: echoToken,
		TimeStamp: ts.UTC().Format(time.RFC3339),
		Target:    creds.Target,
		Version:   creds.Version,
		POS: POS{Source: Source{RequestorID: RequestorID{
			ID:              creds.RequestorID,
			IDContext:       creds.IDContext,
			MessagePassword: creds.MessagePassword,
		}}},
		RateAmountMessages: RateAmountMessages{
			HotelCode: hotelCode,
			HotelName: hotelName,
			Messages:  msgs,
		},
	}, nil
}

func buildMessage(l domain.RatePlanLine) (RateAmountMessage, error) {
	switch {
	case l.InvTypeCode == "" || l.RatePlanCode == "":
		return RateAmountMessage{}, fmt.Errorf("inventory and rate plan codes are required")
	case l.StartDate.IsZero() || l.EndDate.IsZero() || l.EndDate.Before(l.StartDate):
		return RateAmountMessage{}, fmt.Errorf("invalid date range")
	case len(l.CurrencyCode) != 3:
		return RateAmountMessage{}, fmt.Errorf("currency code %q is not ISO 4217", l.CurrencyCode)
	case len(l.BaseAmountsByOccupancy) == 0:
		return RateAmountMessage{}, fmt.Errorf("at least one base amount is required")
	}

	rate := Rate{
		Mon:          dayFlag(l.WeekdayMask, domain.Monday),
		Tue:          dayFlag(l.WeekdayMask, domain.Tuesday),
		Weds:         dayFlag(l.WeekdayMask, domain.Wednesday),
		Thur:         dayFlag(l.WeekdayMask, domain.Thursday),
		Fri:          dayFlag(l.WeekdayMask, domain.Friday),
		Sat:          dayFlag(l.WeekdayMask, domain.Saturday),
		Sun:          dayFlag(l.WeekdayMask, domain.Sunday),
		CurrencyCode: strings.ToUpper(l.CurrencyCode),
	}
	for _, a := range l.BaseAmountsByOccupancy {
		if a.NumberOfGuests <= 0 || a.AmountBeforeTax.IsNegative() {
			return RateAmountMessage{}, fmt.Errorf("invalid base amount for %d guests", a.NumberOfGuests)
		}
		rate.BaseByGuestAmts.Amounts = append(rate.BaseByGuestAmts.Amounts, BaseByGuestAmt{
			AmountBeforeTax: a.AmountBeforeTax.StringFixed(2),
			NumberOfGuests:  strconv.Itoa(a.NumberOfGuests),
		})
	}
	if len(l.ExtraGuestAmounts) > 0 {
		extra := &AdditionalGuestAmounts{}
		for _, a := range l.ExtraGuestAmounts {
			if a.AgeQualifyingCode == "" || a.Amount.IsNegative() {
				return RateAmountMessage{}, fmt.Errorf("invalid additional guest amount")
			}
			extra.Amounts = append(extra.Amounts, AdditionalGuestAmount{
				AgeQualifyingCode: a.AgeQualifyingCode,
				Amount:            a.Amount.StringFixed(2),
			})
		}
		rate.AdditionalGuestAmounts = extra
	}

	return RateAmountMessage{
		StatusApplicationControl: StatusApplicationControl{
			InvTypeCode:  l.InvTypeCode,
			RatePlanCode: l.RatePlanCode,
			Start:        l.StartDate.Format(domain.DateLayout),
			End:          l.EndDate.Format(domain.DateLayout),
		},
		Rates: Rates{Rate: []Rate{rate}},
	}, nil
}

func dayFlag(m, day domain.WeekdayMask) string {
	if m&day != 0 {
		return flagOn
	}
	return flagOff
}

func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, domain.E(domain.KindSchemaViolation, "ota.Encode", err)
	}
	return buf.Bytes(), nil
}

func DecodeRateAmountNotif(data []byte) (HotelRateAmountNotifRQ, error) {
	var rq HotelRateAmountNotifRQ
	if err := xml.Unmarshal(data, &rq); err != nil {
		return HotelRateAmountNotifRQ{}, domain.E(domain.KindSchemaViolation, "ota.DecodeRateAmountNotif", err)
	}
	return rq, nil
}

// ToLines turns a parsed envelope back into lines. Each Rate inside a
// message yields its own line so multi-rate messages are not lost.
func ToLines(rq HotelRateAmountNotifRQ) ([]domain.RatePlanLine, error) {
	const op = "ota.ToLines"
	hotel := rq.RateAmountMessages.HotelCode
	var out []domain.RatePlanLine
	for i, m := range rq.RateAmountMessages.Messages {
		sac := m.StatusApplicationControl
		start, err := time.Parse(domain.DateLayout, sac.Start)
		if err != nil {
			return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d start: %w", i, err))
		}
		end, err := time.Parse(domain.DateLayout, sac.End)
		if err != nil {
			return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d end: %w", i, err))
		}
		for _, r := range m.Rates.Rate {
			mask, err := maskFromFlags(r)
			if err != nil {
				return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d: %w", i, err))
			}
			line := domain.RatePlanLine{
				HotelCode:    hotel,
				HotelName:    rq.RateAmountMessages.HotelName,
				RatePlanCode: sac.RatePlanCode,
				InvTypeCode:  sac.InvTypeCode,
				StartDate:    start,
				EndDate:      end,
				WeekdayMask:  mask,
				CurrencyCode: r.CurrencyCode,
			}
			for _, a := range r.BaseByGuestAmts.Amounts {
				n, err := strconv.Atoi(a.NumberOfGuests)
				if err != nil {
					return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d guests: %w", i, err))
				}
				amt, err := decimal.NewFromString(a.AmountBeforeTax)
				if err != nil {
					return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d amount: %w", i, err))
				}
				line.BaseAmountsByOccupancy = append(line.BaseAmountsByOccupancy, domain.GuestAmount{NumberOfGuests: n, AmountBeforeTax: amt})
			}
			if r.AdditionalGuestAmounts != nil {
				for _, a := range r.AdditionalGuestAmounts.Amounts {
					amt, err := decimal.NewFromString(a.Amount)
					if err != nil {
						return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("message %d extra amount: %w", i, err))
					}
					line.ExtraGuestAmounts = append(line.ExtraGuestAmounts, domain.ExtraGuestAmount{AgeQualifyingCode: a.AgeQualifyingCode, Amount: amt})
				}
			}
			out = append(out, line)
		}
	}
	return out, nil
}

func maskFromFlags(r Rate) (domain.WeekdayMask, error) {
	var m domain.WeekdayMask
	flags := []struct {
		v   string
		day domain.WeekdayMask
	}{
		{r.Mon, domain.Monday}, {r.Tue, domain.Tuesday}, {r.Weds, domain.Wednesday},
		{r.Thur, domain.Thursday}, {r.Fri, domain.Friday}, {r.Sat, domain.Saturday}, {r.Sun, domain.Sunday},
	}
	for _, f := range flags {
		switch strings.ToLower(strings.TrimSpace(f.v)) {
		case flagOn, "true":
			m |= f.day
		case flagOff, "false", "":
		default:
			return 0, fmt.Errorf("bad day flag %q", f.v)
		}
	}
	return m, nil
}

// DecodeAck parses the partner response. Errors carrying a RecordID are
// attributed to that line; the rest fail the whole message.
func DecodeAck(data []byte, lineCount int) (domain.PartnerAck, error) {
	var rs HotelRateAmountNotifRS
	if err := xml.Unmarshal(data, &rs); err != nil {
		return domain.PartnerAck{}, domain.E(domain.KindSchemaViolation, "ota.DecodeAck", err)
	}
	ack := domain.PartnerAck{EchoToken: rs.EchoToken, Success: rs.Success != nil}
	if rs.Errors == nil {
		return ack, nil
	}
	for _, e := range rs.Errors.Items {
		msg := strings.TrimSpace(e.Text)
		if msg == "" {
			msg = e.ShortText
		}
		rec, err := strconv.Atoi(strings.TrimSpace(e.RecordID))
		if err != nil || rec < 1 || rec > lineCount {
			ack.Errors = append(ack.Errors, strings.TrimSpace(e.Code+" "+msg))
			continue
		}
		ack.LineErrors = append(ack.LineErrors, domain.LineError{Line: rec - 1, Code: e.Code, Message: msg})
	}
	return ack, nil
}
