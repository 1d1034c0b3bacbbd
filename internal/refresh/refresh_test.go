package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/internal/metrics"
	"bizdash/internal/publish"
	"bizdash/internal/source"
	"bizdash/internal/state"
)

const header = "Date,Order ID,Customer Name,Phone,Email,Item,Category,Qty,Price,Total,Discount,Final,Payment,Order Status,Delivery Type,Delivery Status,Notes\n"

const twoOrders = header +
	"01/02/2024,o1,An,0901,an@x.vn,Pho,Food,2,50,100,0,100,Cash,Completed,Ship,Delivered,\n" +
	"02/02/2024,o2,Binh,0902,b@x.vn,Tea,Drink,1,30,30,0,30,Card,Pending,Pickup,Waiting,\n"

// fakeSource answers each Fetch with fn.
type fakeSource struct {
	fn func(ctx context.Context) (string, error)
}

func (f fakeSource) Fetch(ctx context.Context) (string, error) { return f.fn(ctx) }
func (fakeSource) Name() string                                  { return "fake" }

func staticSource(raw string, err error) fakeSource {
	return fakeSource{fn: func(context.Context) (string, error) { return raw, err }}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publish.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev publish.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newRefresher(t *testing.T, src source.Source, opts ...Option) (*Refresher, state.Store) {
	t.Helper()
	st := state.NewInMemoryStore()
	return New(Config{Dataset: "orders", FetchTimeout: time.Second}, src, nil, st, opts...), st
}

func TestRunOnce_AppliesAndPublishes(t *testing.T) {
	reg := metrics.NewRegistry()
	pub := &recordingPublisher{}
	r, st := newRefresher(t, staticSource(twoOrders, nil), WithMetrics(reg), WithPublisher(pub))

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.NoError(t, res.FetchErr)
	assert.Equal(t, int64(1), res.Seq)

	snap, ok := st.Get("orders")
	require.True(t, ok)
	assert.Equal(t, 2, snap.Summary.TotalOrders)
	assert.Equal(t, 130.0, snap.Summary.TotalRevenue)
	assert.Equal(t, "fake", snap.Source)
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, 2, snap.Report.Parsed)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "orders", pub.events[0].Dataset)
	assert.Equal(t, int64(1), pub.events[0].Seq)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Refreshes.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Orders))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Published))
}

func TestRunOnce_FetchFailureStoresEmptySummary(t *testing.T) {
	reg := metrics.NewRegistry()
	r, st := newRefresher(t, staticSource("", source.ErrUpstream), WithMetrics(reg))

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.FetchErr, source.ErrUpstream)
	assert.True(t, res.Applied)

	snap, ok := st.Get("orders")
	require.True(t, ok)
	assert.Equal(t, 0, snap.Summary.TotalOrders)
	assert.Equal(t, 0.0, snap.Summary.ConversionRate)
	assert.NotNil(t, snap.Records)
	assert.Empty(t, snap.Records)
	assert.NotEmpty(t, snap.FetchError)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.FetchFailures))
}

func TestRunOnce_PublishFailureDoesNotFailRefresh(t *testing.T) {
	reg := metrics.NewRegistry()
	pub := &recordingPublisher{err: errors.New("broker down")}
	r, _ := newRefresher(t, staticSource(twoOrders, nil), WithMetrics(reg), WithPublisher(pub))

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.PublishFailed))
}

func TestRunOnce_SlowRefreshIsSuperseded(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	src := fakeSource{fn: func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-release
			return header + "01/01/2024,old,,,,,X,1,1,1,0,1,Cash,Completed,,,\n", nil
		}
		return twoOrders, nil
	}}
	reg := metrics.NewRegistry()
	r, st := newRefresher(t, src, WithMetrics(reg))

	slow := make(chan Result, 1)
	go func() {
		res, _ := r.RunOnce(context.Background())
		slow <- res
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	fast, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, fast.Applied)
	assert.Equal(t, int64(2), fast.Seq)

	close(release)
	res := <-slow
	assert.False(t, res.Applied)
	assert.Equal(t, int64(1), res.Seq)
	assert.Equal(t, int64(2), res.Snapshot.Seq)

	snap, _ := st.Get("orders")
	assert.Equal(t, 2, snap.Summary.TotalOrders, "older refresh must not overwrite newer")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Refreshes.WithLabelValues("superseded")))
}

func TestRunOnce_FetchTimeout(t *testing.T) {
	src := fakeSource{fn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	st := state.NewInMemoryStore()
	r := New(Config{Dataset: "orders", FetchTimeout: 10 * time.Millisecond}, src, nil, st)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.FetchErr, context.DeadlineExceeded)
}

func TestRunOnce_CanceledLeavesStoredSnapshot(t *testing.T) {
	reg := metrics.NewRegistry()
	pub := &recordingPublisher{}
	r, st := newRefresher(t, fakeSource{fn: func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return twoOrders, nil
	}}, WithMetrics(reg), WithPublisher(pub))

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := r.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Applied)

	snap, ok := st.Get("orders")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Seq)
	assert.Equal(t, 2, snap.Summary.TotalOrders)
	assert.Empty(t, snap.FetchError)
	assert.Len(t, pub.events, 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.FetchFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Refreshes.WithLabelValues("canceled")))
}

func TestServe_RunsOnStartAndStops(t *testing.T) {
	var calls atomic.Int32
	src := fakeSource{fn: func(context.Context) (string, error) {
		calls.Add(1)
		return twoOrders, nil
	}}
	st := state.NewInMemoryStore()
	r := New(Config{Dataset: "orders", Interval: 20 * time.Millisecond, OnStart: true}, src, nil, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	snap, ok := st.Get("orders")
	require.True(t, ok)
	assert.GreaterOrEqual(t, snap.Seq, int64(2))
	assert.Equal(t, "refresh-orders", r.String())
}
