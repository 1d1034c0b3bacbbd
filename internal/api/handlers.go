package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"bizdash/internal/logging"
	"bizdash/internal/model"
	"bizdash/internal/refresh"
	"bizdash/internal/state"
	"bizdash/internal/summary"
	"bizdash/internal/validation"
)

// Refresher runs one refresh cycle on demand.
type Refresher interface {
	RunOnce(ctx context.Context) (refresh.Result, error)
	Dataset() string
}

const (
	defaultOrdersLimit = 100
	defaultRecentLimit = 10
)

// Handler serves the latest snapshot of one dataset.
type Handler struct {
	store     state.Store
	refresher Refresher
	breaker   func() string
	started   time.Time
}

type HandlerOption func(*Handler)

// WithBreakerState reports the source's circuit breaker state on /health.
func WithBreakerState(fn func() string) HandlerOption {
	return func(h *Handler) { h.breaker = fn }
}

func NewHandler(store state.Store, refresher Refresher, opts ...HandlerOption) *Handler {
	h := &Handler{store: store, refresher: refresher, started: time.Now()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// latest writes 503 and returns false when no refresh has completed yet.
func (h *Handler) latest(rw *ResponseWriter) (state.Snapshot, bool) {
	snap, ok := h.store.Get(h.refresher.Dataset())
	if !ok {
		rw.ServiceUnavailable("no refresh has completed yet")
	}
	return snap, ok
}

type healthResponse struct {
	Status        string `json:"status"`
	Dataset       string `json:"dataset"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Seq           int64  `json:"seq"`
	LastRefresh   string `json:"lastRefresh,omitempty"`
	Source        string `json:"source,omitempty"`
	FetchError    string `json:"fetchError,omitempty"`
	Breaker       string `json:"breaker,omitempty"`
}

// Health answers 200 even before the first refresh. Status is starting
// until then, and degraded while the last fetch failed or the source's
// breaker is open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "starting",
		Dataset:       h.refresher.Dataset(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if snap, ok := h.store.Get(h.refresher.Dataset()); ok {
		resp.Status = "ok"
		if snap.FetchError != "" {
			resp.Status = "degraded"
		}
		resp.Seq = snap.Seq
		resp.LastRefresh = time.UnixMilli(snap.UpdatedAt).UTC().Format(model.TimestampLayout)
		resp.Source = snap.Source
		resp.FetchError = snap.FetchError
	}
	if h.breaker != nil {
		resp.Breaker = h.breaker()
		if resp.Breaker == "open" && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	NewResponseWriter(w, r).Success(resp)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	snap, ok := h.latest(rw)
	if !ok {
		return
	}
	rw.Success(snap.Summary)
}

type datasetInfo struct {
	Dataset     string `json:"dataset"`
	Seq         int64  `json:"seq"`
	UpdatedAt   string `json:"updatedAt"`
	Source      string `json:"source"`
	TotalOrders int    `json:"totalOrders"`
	FetchError  string `json:"fetchError,omitempty"`
}

// Datasets lists every dataset the store holds, sorted by name.
func (h *Handler) Datasets(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	out := []datasetInfo{}
	err := h.store.Range(func(key string, snap state.Snapshot) error {
		out = append(out, datasetInfo{
			Dataset:     key,
			Seq:         snap.Seq,
			UpdatedAt:   time.UnixMilli(snap.UpdatedAt).UTC().Format(model.TimestampLayout),
			Source:      snap.Source,
			TotalOrders: snap.Summary.TotalOrders,
			FetchError:  snap.FetchError,
		})
		return nil
	})
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("list datasets")
		rw.InternalError("could not list datasets")
		return
	}
	slices.SortFunc(out, func(a, b datasetInfo) int { return strings.Compare(a.Dataset, b.Dataset) })
	rw.Success(out)
}

type ordersRequest struct {
	Limit  int `query:"limit" validate:"min=1,max=1000"`
	Offset int `query:"offset" validate:"min=0"`
}

// Orders pages through the records in export order.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req := ordersRequest{Limit: defaultOrdersLimit}
	if !bindQuery(rw, r, map[string]*int{"limit": &req.Limit, "offset": &req.Offset}) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError(verr.Error(), verr.Fields)
		return
	}
	snap, ok := h.latest(rw)
	if !ok {
		return
	}

	total := len(snap.Records)
	start := min(req.Offset, total)
	end := min(start+req.Limit, total)
	page := snap.Records[start:end]
	rw.SuccessWithPagination(page, &PaginationMeta{
		Total:   total,
		Count:   len(page),
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: end < total,
	})
}

type recentRequest struct {
	Limit int `query:"limit" validate:"min=1,max=100"`
}

type recentOrder struct {
	model.OrderRecord
	StatusClass model.StatusClass `json:"statusClass"`
}

// RecentOrders lists the newest rows first, each tagged with its status class.
func (h *Handler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req := recentRequest{Limit: defaultRecentLimit}
	if !bindQuery(rw, r, map[string]*int{"limit": &req.Limit}) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError(verr.Error(), verr.Fields)
		return
	}
	snap, ok := h.latest(rw)
	if !ok {
		return
	}

	recent := summary.RecentOrders(snap.Records, req.Limit)
	out := make([]recentOrder, len(recent))
	for i, rec := range recent {
		out[i] = recentOrder{OrderRecord: rec, StatusClass: model.ClassifyStatus(rec.OrderStatus)}
	}
	rw.Success(out)
}

type reportResponse struct {
	Seq            int64    `json:"seq"`
	UpdatedAt      string   `json:"updatedAt"`
	Source         string   `json:"source"`
	FetchError     string   `json:"fetchError,omitempty"`
	Header         []string `json:"header"`
	Rows           int      `json:"rows"`
	Parsed         int      `json:"parsed"`
	StrayQuotes    int      `json:"strayQuotes"`
	InvalidDates   int      `json:"invalidDates"`
	CoercedNumbers int      `json:"coercedNumbers"`
}

// Report exposes the parse diagnostics of the latest snapshot.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	snap, ok := h.latest(rw)
	if !ok {
		return
	}
	rep := snap.Report
	rw.Success(reportResponse{
		Seq:            snap.Seq,
		UpdatedAt:      time.UnixMilli(snap.UpdatedAt).UTC().Format(model.TimestampLayout),
		Source:         snap.Source,
		FetchError:     snap.FetchError,
		Header:         rep.Header,
		Rows:           rep.Rows,
		Parsed:         rep.Parsed,
		StrayQuotes:    rep.StrayQuotes,
		InvalidDates:   rep.InvalidDates,
		CoercedNumbers: rep.CoercedNumbers,
	})
}

type refreshResponse struct {
	Seq        int64                `json:"seq"`
	Applied    bool                 `json:"applied"`
	FetchError string               `json:"fetchError,omitempty"`
	Summary    model.MetricsSummary `json:"summary"`
}

// Refresh runs one cycle now. A failed fetch still answers 200: the cycle
// stored an empty summary and fetchError says why.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	res, err := h.refresher.RunOnce(r.Context())
	if err != nil && r.Context().Err() != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("client went away during refresh")
		rw.ServiceUnavailable("refresh abandoned")
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("manual refresh failed")
		rw.InternalError("refresh failed")
		return
	}
	resp := refreshResponse{Seq: res.Seq, Applied: res.Applied, Summary: res.Snapshot.Summary}
	if res.FetchErr != nil {
		resp.FetchError = res.FetchErr.Error()
	}
	rw.Success(resp)
}

// bindQuery parses the named integer query parameters that are present.
// It writes a validation error and returns false on the first bad value.
func bindQuery(rw *ResponseWriter, r *http.Request, params map[string]*int) bool {
	q := r.URL.Query()
	for name, dst := range params {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			rw.ValidationError(name+" must be an integer", []validation.FieldError{{Field: name, Tag: "integer", Message: name + " must be an integer"}})
			return false
		}
		*dst = n
	}
	return true
}
