package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/app"
	"hotel_sync/internal/domain"
)

type Reconciler interface {
	Apply(ctx context.Context, deltas []domain.AvailabilityDelta) domain.ApplyResult
	CloseRange(ctx context.Context, id, expectedVersion int64) (domain.InventoryRecord, error)
}

type Queries interface {
	GetInventory(ctx context.Context, id int64) (domain.InventoryRecord, error)
	FindInventory(ctx context.Context, k domain.InventoryKey) (domain.InventoryRecord, error)
	GetDistribution(ctx context.Context, echoToken string) (domain.DistributionMessage, error)
}

type Distributor interface {
	BuildAndSend(ctx context.Context, lines []domain.RatePlanLine) ([]domain.DistributionMessage, error)
	DistributeRatePlans(ctx context.Context, codes []string) ([]domain.DistributionMessage, error)
}

type Resyncer interface {
	Resync(ctx context.Context, t domain.Trigger) (app.SyncReport, error)
}

type Handlers struct {
	Reconciler  Reconciler
	Queries     Queries
	Distributor Distributor
	Index       Resyncer
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
	// ResyncTimeout bounds a background rebuild started over HTTP.
	ResyncTimeout time.Duration
}

type problem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/readyz", h.ready)

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/inventory/availability", h.applyAvailability)
		r.Get("/inventory", h.findInventory)
		r.Get("/inventory/{id}", h.getInventory)
		r.Post("/inventory/{id}/close", h.closeInventory)

		r.Post("/distribution", h.distribute)
		r.Get("/distribution/{echoToken}", h.getDistribution)

		r.Post("/index/resync", h.resync)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemFields(w, status, title, detail, nil)
}

func writeProblemFields(w http.ResponseWriter, status int, title, detail string, fields map[string]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail, Fields: fields}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps an error kind onto a status code.
func writeError(w http.ResponseWriter, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		writeProblemFields(w, http.StatusBadRequest, "Bad Request", br.msg, br.fields)
		return
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case domain.KindVersionConflict:
		writeProblem(w, http.StatusConflict, "Version Conflict", err.Error())
	case domain.KindSchemaViolation:
		writeProblem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	case domain.KindTransientIO:
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "a backing service is unavailable, retry later")
	default:
		log.Error().Err(err).Msg("unhandled error")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

func (h *Handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// applyAvailability answers 200 when every delta applied and 207 when any
// was rejected; the body always lists both sides.
func (h *Handlers) applyAvailability(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res := h.Reconciler.Apply(r.Context(), req.toDeltas())
	status := http.StatusOK
	if len(res.Rejected) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (h *Handlers) getInventory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	rec, err := h.Queries.GetInventory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCacheable(w, r, rec)
}

func (h *Handlers) findInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, errS := time.Parse(domain.DateLayout, q.Get("start"))
	end, errE := time.Parse(domain.DateLayout, q.Get("end"))
	if errS != nil || errE != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid range", "start and end must be dates (YYYY-MM-DD)")
		return
	}
	rec, err := h.Queries.FindInventory(r.Context(), domain.InventoryKey{
		HotelCode:   strings.TrimSpace(q.Get("hotelCode")),
		InvTypeCode: strings.TrimSpace(q.Get("invTypeCode")),
		StartDate:   start,
		EndDate:     end,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeCacheable(w, r, rec)
}

func (h *Handlers) closeInventory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var req closeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.Reconciler.CloseRange(r.Context(), id, req.ExpectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) distribute(w http.ResponseWriter, r *http.Request) {
	if isXML(r) {
		lines, err := decodeOTABody(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		msgs, err := h.Distributor.BuildAndSend(r.Context(), lines)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
		return
	}

	var req distributionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if (len(req.RatePlanCodes) == 0) == (len(req.Lines) == 0) {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "exactly one of ratePlanCodes or lines is required")
		return
	}

	var (
		msgs []domain.DistributionMessage
		err  error
	)
	if len(req.RatePlanCodes) > 0 {
		msgs, err = h.Distributor.DistributeRatePlans(r.Context(), req.RatePlanCodes)
	} else {
		lines, lerr := req.toLines()
		if lerr != nil {
			writeError(w, lerr)
			return
		}
		msgs, err = h.Distributor.BuildAndSend(r.Context(), lines)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handlers) getDistribution(w http.ResponseWriter, r *http.Request) {
	m, err := h.Queries.GetDistribution(r.Context(), chi.URLParam(r, "echoToken"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// resync starts a full rebuild and returns at once. Rebuilds are serialized
// by the engine, so repeated calls queue rather than overlap.
func (h *Handlers) resync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator"
	}
	timeout := h.ResyncTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	go func() {
		defer cancel()
		rep, err := h.Index.Resync(ctx, domain.FullScan(reason))
		if err != nil {
			log.Error().Err(err).Str("reason", reason).Msg("requested resync failed")
			return
		}
		log.Info().Str("reason", reason).Int("indexed", rep.Indexed).Int("failed", rep.Failed).Msg("requested resync done")
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "reason": reason})
}
