package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/internal/metrics"
	"bizdash/internal/model"
	"bizdash/internal/refresh"
	"bizdash/internal/state"
	"bizdash/internal/summary"
)

// fakeRefresher applies a fixed snapshot with an increasing seq.
type fakeRefresher struct {
	store   state.Store
	records []model.OrderRecord
	seq     atomic.Int64
	err     error
	fetch   error
}

func (f *fakeRefresher) Dataset() string { return "orders" }

func (f *fakeRefresher) RunOnce(ctx context.Context) (refresh.Result, error) {
	if err := ctx.Err(); err != nil {
		return refresh.Result{}, err
	}
	if f.err != nil {
		return refresh.Result{}, f.err
	}
	seq := f.seq.Add(1)
	snap := state.Snapshot{
		Seq:       seq,
		UpdatedAt: 1706774400000,
		Source:    "fake",
		Records:   f.records,
		Summary:   summary.Compute(f.records),
	}
	if f.fetch != nil {
		snap.FetchError = f.fetch.Error()
	}
	applied, cur, err := f.store.Apply("orders", snap)
	return refresh.Result{Seq: seq, Applied: applied, Snapshot: cur, FetchErr: f.fetch}, err
}

func orders(n int) []model.OrderRecord {
	out := make([]model.OrderRecord, n)
	for i := range out {
		out[i] = model.OrderRecord{
			OrderID:     fmt.Sprintf("o%d", i+1),
			Category:    "Food",
			OrderStatus: "Pending",
			FinalAmount: 10,
		}
	}
	out[n-1].OrderStatus = "Delivered"
	return out
}

func setup(t *testing.T, records []model.OrderRecord) (*fakeRefresher, http.Handler) {
	t.Helper()
	st := state.NewInMemoryStore()
	fr := &fakeRefresher{store: st, records: records}
	h := NewHandler(st, fr)
	return fr, NewRouter(h, RouterConfig{RefreshPerMinute: 100, Metrics: metrics.NewRegistry().Handler()})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealth_BeforeAndAfterRefresh(t *testing.T) {
	fr, h := setup(t, orders(3))

	rec, env := do(t, h, http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "starting", health.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, rec.Header().Get("X-Request-Id"), env.Meta.RequestID)

	_, err := fr.RunOnce(context.Background())
	require.NoError(t, err)
	_, env = do(t, h, http.MethodGet, "/api/v1/health")
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.Seq)
	assert.Equal(t, "2024-02-01T08:00:00.000Z", health.LastRefresh)
}

func TestHealth_OpenBreakerIsDegraded(t *testing.T) {
	st := state.NewInMemoryStore()
	fr := &fakeRefresher{store: st, records: orders(2)}
	breaker := "closed"
	h := NewRouter(NewHandler(st, fr, WithBreakerState(func() string { return breaker })), RouterConfig{})
	_, err := fr.RunOnce(context.Background())
	require.NoError(t, err)

	var health healthResponse
	_, env := do(t, h, http.MethodGet, "/api/v1/health")
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "closed", health.Breaker)

	breaker = "open"
	_, env = do(t, h, http.MethodGet, "/api/v1/health")
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "open", health.Breaker)
}

func TestDatasets(t *testing.T) {
	fr, h := setup(t, orders(3))

	_, env := do(t, h, http.MethodGet, "/api/v1/datasets")
	var list []datasetInfo
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	_, err := fr.RunOnce(context.Background())
	require.NoError(t, err)
	_, _, err = fr.store.Apply("archive", state.Snapshot{Seq: 1, Source: "file"})
	require.NoError(t, err)

	rec, env := do(t, h, http.MethodGet, "/api/v1/datasets")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "archive", list[0].Dataset)
	assert.Equal(t, "orders", list[1].Dataset)
	assert.Equal(t, 3, list[1].TotalOrders)
	assert.Equal(t, "2024-02-01T08:00:00.000Z", list[1].UpdatedAt)
}

func TestSummary_UnavailableUntilFirstRefresh(t *testing.T) {
	fr, h := setup(t, orders(5))

	rec, env := do(t, h, http.MethodGet, "/api/v1/summary")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, ErrCodeServiceUnavailable, env.Error.Code)

	_, _ = fr.RunOnce(context.Background())
	rec, env = do(t, h, http.MethodGet, "/api/v1/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var s model.MetricsSummary
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, 5, s.TotalOrders)
	assert.Equal(t, 50.0, s.TotalRevenue)
	assert.InDelta(t, 20.0, s.ConversionRate, 1e-9)
}

func TestOrders_Paging(t *testing.T) {
	fr, h := setup(t, orders(25))
	_, _ = fr.RunOnce(context.Background())

	rec, env := do(t, h, http.MethodGet, "/api/v1/orders?limit=10&offset=20")
	require.Equal(t, http.StatusOK, rec.Code)
	var page []model.OrderRecord
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page, 5)
	assert.Equal(t, "o21", page[0].OrderID)
	assert.Equal(t, &PaginationMeta{Total: 25, Count: 5, Offset: 20, Limit: 10, HasMore: false}, env.Meta.Pagination)

	_, env = do(t, h, http.MethodGet, "/api/v1/orders?limit=10")
	assert.True(t, env.Meta.Pagination.HasMore)

	_, env = do(t, h, http.MethodGet, "/api/v1/orders?offset=100")
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page)
}

func TestOrders_Validation(t *testing.T) {
	fr, h := setup(t, orders(2))
	_, _ = fr.RunOnce(context.Background())

	for _, q := range []string{"limit=0", "limit=1001", "offset=-1", "limit=ten"} {
		rec, env := do(t, h, http.MethodGet, "/api/v1/orders?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		require.NotNil(t, env.Error, q)
		assert.Equal(t, ErrCodeValidationFailed, env.Error.Code, q)
	}
}

func TestRecentOrders(t *testing.T) {
	fr, h := setup(t, orders(15))
	_, _ = fr.RunOnce(context.Background())

	rec, env := do(t, h, http.MethodGet, "/api/v1/orders/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []struct {
		OrderID     string `json:"orderId"`
		StatusClass string `json:"statusClass"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &recent))
	require.Len(t, recent, 10)
	assert.Equal(t, "o15", recent[0].OrderID)
	assert.Equal(t, "completed", recent[0].StatusClass)
	assert.Equal(t, "pending", recent[1].StatusClass)
	assert.Equal(t, "o6", recent[9].OrderID)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/orders/recent?limit=101")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport(t *testing.T) {
	fr, h := setup(t, orders(1))
	fr.fetch = errors.New("upstream returned an error status: 502 Bad Gateway")
	_, _ = fr.RunOnce(context.Background())

	_, env := do(t, h, http.MethodGet, "/api/v1/report")
	var rep reportResponse
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "fake", rep.Source)
	assert.Contains(t, rep.FetchError, "502")

	_, env = do(t, h, http.MethodGet, "/api/v1/health")
	var health healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "degraded", health.Status)
}

func TestRefresh(t *testing.T) {
	_, h := setup(t, orders(4))

	rec, env := do(t, h, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp refreshResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(1), resp.Seq)
	assert.Equal(t, 4, resp.Summary.TotalOrders)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefresh_StoreError(t *testing.T) {
	fr, h := setup(t, orders(1))
	fr.err = errors.New("disk on fire")
	rec, env := do(t, h, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, env.Error.Code)
}

func TestRefresh_ClientGoneKeepsSnapshot(t *testing.T) {
	fr, h := setup(t, orders(3))
	_, err := fr.RunOnce(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil).WithContext(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	snap, ok := fr.store.Get("orders")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Seq)
	assert.Equal(t, 3, snap.Summary.TotalOrders)
}

func TestRefresh_RateLimited(t *testing.T) {
	st := state.NewInMemoryStore()
	h := NewRouter(NewHandler(st, &fakeRefresher{store: st, records: orders(1)}), RouterConfig{RefreshPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodPost, "/api/v1/refresh")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := do(t, h, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrCodeTooManyRequests, env.Error.Code)
}

func TestMetricsAndNotFound(t *testing.T) {
	_, h := setup(t, orders(1))

	rec, _ := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, h, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, env.Error.Code)
}
