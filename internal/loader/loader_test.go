package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/prewarm/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *testutil.ManualClock) {
	t.Helper()
	clk := testutil.NewManualClock(testEpoch)
	return NewRegistry(DefaultConfig(), clk, testutil.NewTestLogger().Logger()), clk
}

// ==============================================================================
// Cache
// ==============================================================================

func TestCache_ConcurrentWarmsShareOneLoad(t *testing.T) {
	cache := NewCache(time.Second, testutil.NewTestLogger().Logger())

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (Result, error) {
		calls.Add(1)
		<-release
		return Result{Bytes: 42, Status: "200"}, nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]Result, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := cache.Warm(context.Background(), "chunk", load)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, res := range results {
		assert.Equal(t, int64(42), res.Bytes)
	}

	res, cached, err := cache.Warm(context.Background(), "chunk", load)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, int64(42), res.Bytes)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_FailuresAreRetried(t *testing.T) {
	cache := NewCache(time.Second, testutil.NewTestLogger().Logger())

	var calls atomic.Int32
	load := func(context.Context) (Result, error) {
		if calls.Add(1) == 1 {
			return Result{}, errors.New("connection reset")
		}
		return Result{Bytes: 7}, nil
	}

	_, _, err := cache.Warm(context.Background(), "chunk", load)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	res, cached, err := cache.Warm(context.Background(), "chunk", load)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int64(7), res.Bytes)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_CancelledWaiterDetachesLoad(t *testing.T) {
	cache := NewCache(time.Second, testutil.NewTestLogger().Logger())

	release := make(chan struct{})
	var loadCtxErr atomic.Value
	load := func(ctx context.Context) (Result, error) {
		<-release
		if err := ctx.Err(); err != nil {
			loadCtxErr.Store(err)
		}
		return Result{Bytes: 1}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := cache.Warm(ctx, "chunk", load)
		done <- err
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := cache.Get("chunk")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, loadCtxErr.Load(), "shared load must not see the waiter's cancellation")
}

func TestCache_Invalidate(t *testing.T) {
	cache := NewCache(time.Second, testutil.NewTestLogger().Logger())
	var calls atomic.Int32
	load := func(context.Context) (Result, error) {
		calls.Add(1)
		return Result{}, nil
	}

	_, _, err := cache.Warm(context.Background(), "chunk", load)
	require.NoError(t, err)
	cache.Invalidate("chunk")
	_, cached, err := cache.Warm(context.Background(), "chunk", load)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(2), calls.Load())
}

// ==============================================================================
// Interceptors
// ==============================================================================

func TestChain_Order(t *testing.T) {
	var mu sync.Mutex
	var order []string
	tag := func(name string) Interceptor {
		return func(id string, kind Kind, next Loader) Loader {
			return func(ctx context.Context) (Result, error) {
				mu.Lock()
				order = append(order, name+">"+id+"/"+string(kind))
				mu.Unlock()
				return next(ctx)
			}
		}
	}

	base := func(context.Context) (Result, error) {
		mu.Lock()
		order = append(order, "base")
		mu.Unlock()
		return Result{Status: "ok"}, nil
	}

	load := Chain(tag("outer"), tag("inner"))("modal", KindJS, base)
	res, err := load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, []string{"outer>modal/js", "inner>modal/js", "base"}, order)
}

func TestChain_Empty(t *testing.T) {
	base := func(context.Context) (Result, error) { return Result{Bytes: 3}, nil }
	res, err := Chain()("x", KindXHR, base)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Bytes)
}

// ==============================================================================
// Sources
// ==============================================================================

func TestHTTPLoader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "prewarm-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/chunk.js":
			_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	res, err := HTTPLoader(server.Client(), server.URL+"/chunk.js", "prewarm-test")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2048), res.Bytes)
	assert.Equal(t, "200", res.Status)

	res, err = HTTPLoader(server.Client(), server.URL+"/missing.js", "prewarm-test")(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "404", res.Status)
}

func TestHTTPLoader_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := HTTPLoader(server.Client(), server.URL, "")(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyntheticLoader(t *testing.T) {
	clk := testutil.NewManualClock(testEpoch)
	load := SyntheticLoader(clk, time.Second, 10000)

	done := make(chan Result, 1)
	go func() {
		res, err := load(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("synthetic load finished before its duration")
	default:
	}

	clk.Advance(time.Millisecond)
	res := <-done
	assert.Equal(t, int64(80000), res.Bytes)
	assert.Greater(t, res.Value, 0.0)
	assert.Less(t, res.Value, 10000*1000.0)
}

func TestSyntheticLoader_Cancelled(t *testing.T) {
	clk := testutil.NewManualClock(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := SyntheticLoader(clk, time.Second, 10)(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, clk.Pending())
}

// ==============================================================================
// Registry
// ==============================================================================

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"http", Spec{ID: "a", Source: SourceHTTP, URL: "http://example.test/a.js", Kind: KindJS}, false},
		{"synthetic default kind", Spec{ID: "b", Source: SourceSynthetic, Duration: time.Second, Size: 10}, false},
		{"missing id", Spec{Source: SourceHTTP, URL: "http://x"}, true},
		{"http without url", Spec{ID: "c", Source: SourceHTTP}, true},
		{"unknown source", Spec{ID: "d", Source: "ftp"}, true},
		{"unknown kind", Spec{ID: "e", Source: SourceSynthetic, Kind: "font"}, true},
		{"negative duration", Spec{ID: "f", Source: SourceSynthetic, Duration: -time.Second}, true},
		{"negative size", Spec{ID: "g", Source: SourceSynthetic, Size: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			assert.NoError(t, err)
			assert.True(t, tt.spec.Kind.Valid())
		})
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.Register(Spec{ID: "modal", Source: SourceSynthetic, Duration: time.Second, Size: 100}))
	require.NoError(t, reg.Register(Spec{ID: "app.css", Source: SourceHTTP, URL: "http://example.test/app.css", Kind: KindCSS}))

	err := reg.Register(Spec{ID: "modal", Source: SourceSynthetic})
	assert.ErrorIs(t, err, ErrDuplicateTarget)

	spec, err := reg.Lookup("modal")
	require.NoError(t, err)
	assert.Equal(t, KindPrefetch, spec.Kind)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	_, err = reg.Target("missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "app.css", specs[0].ID)
	assert.Equal(t, "modal", specs[1].ID)
}

func TestRegistry_TargetUsesChainAndCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("console.log(1)"))
	}))
	defer server.Close()

	reg, _ := newTestRegistry(t)
	reg.SetHTTPClient(server.Client())
	require.NoError(t, reg.Register(Spec{ID: "chunk", Source: SourceHTTP, URL: server.URL + "/chunk.js", Kind: KindJS}))

	var seen []Kind
	var mu sync.Mutex
	reg.Use(func(id string, kind Kind, next Loader) Loader {
		return func(ctx context.Context) (Result, error) {
			mu.Lock()
			seen = append(seen, kind)
			mu.Unlock()
			return next(ctx)
		}
	})

	target, err := reg.Target("chunk")
	require.NoError(t, err)
	assert.Equal(t, "chunk", target.ID)

	require.NoError(t, target.Load(context.Background()))
	require.NoError(t, target.Load(context.Background()))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []Kind{KindJS}, seen)

	res, ok := reg.Cache().Get("chunk")
	require.True(t, ok)
	assert.Equal(t, int64(len("console.log(1)")), res.Bytes)
}
