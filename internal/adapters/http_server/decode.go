package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"hotel_sync/internal/adapters/ota"
	"hotel_sync/internal/domain"
)

const maxBodyBytes = 4 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// badRequest carries per-field messages into the problem body.
type badRequest struct {
	msg    string
	fields map[string]string
}

func (e *badRequest) Error() string { return e.msg }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &badRequest{msg: "invalid request body: " + err.Error()}
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &badRequest{msg: "validation failed: " + err.Error()}
	}
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		// drop the root struct name: "deltas[0].start"
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		fields[key] = validationMessage(fe)
	}
	return &badRequest{msg: "validation failed", fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	}
	return "is invalid"
}

func isXML(r *http.Request) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(ct, "application/xml") || strings.HasPrefix(ct, "text/xml")
}

// decodeOTABody reads an OTA_HotelRateAmountNotifRQ pushed by an upstream
// rate manager and returns its lines in message order.
func decodeOTABody(w http.ResponseWriter, r *http.Request) ([]domain.RatePlanLine, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &badRequest{msg: "invalid request body: " + err.Error()}
	}
	rq, err := ota.DecodeRateAmountNotif(data)
	if err != nil {
		return nil, &badRequest{msg: "invalid OTA message: " + err.Error()}
	}
	lines, err := ota.ToLines(rq)
	if err != nil {
		return nil, &badRequest{msg: "invalid OTA message: " + err.Error()}
	}
	if len(lines) == 0 {
		return nil, &badRequest{msg: "OTA message carries no rates"}
	}
	return lines, nil
}
