package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	calls   int32
	fn      func(call int32) ([]byte, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]byte, error) {
	call := atomic.AddInt32(&f.calls, 1)
	return f.fn(call)
}

func TestCacheFetchesOnMiss(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int32) ([]byte, error) {
		return []byte(`{"latency":{"enabled":true}}`), nil
	}}
	c := NewCache(fetcher, time.Minute, discardLogger())

	cfg := c.GetConfig(context.Background())
	require.Contains(t, cfg, "latency")
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestCacheServesFreshWithoutRefetch(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int32) ([]byte, error) {
		return []byte(`{"latency":{"enabled":true}}`), nil
	}}
	c := NewCache(fetcher, time.Minute, discardLogger())

	c.GetConfig(context.Background())
	c.GetConfig(context.Background())
	assert.EqualValues(t, 1, fetcher.calls)
}

func TestCacheZeroTTLAlwaysRefetches(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int32) ([]byte, error) {
		return []byte(`{"latency":{"enabled":true}}`), nil
	}}
	c := NewCache(fetcher, 0, discardLogger())

	c.GetConfig(context.Background())
	c.GetConfig(context.Background())
	assert.EqualValues(t, 2, fetcher.calls)
}

func TestCacheStaleOnError(t *testing.T) {
	good := true
	fetcher := &fakeFetcher{fn: func(int32) ([]byte, error) {
		if good {
			return []byte(`{"latency":{"enabled":true}}`), nil
		}
		return nil, errors.New("boom")
	}}
	c := NewCache(fetcher, time.Millisecond, discardLogger())

	cfg := c.GetConfig(context.Background())
	require.Contains(t, cfg, "latency")

	good = false
	time.Sleep(5 * time.Millisecond)

	cfg = c.GetConfig(context.Background())
	require.Contains(t, cfg, "latency", "stale value should still be served on fetch error")
}

func TestCacheErrorWithNoPriorValueReturnsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int32) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	c := NewCache(fetcher, time.Minute, discardLogger())

	cfg := c.GetConfig(context.Background())
	assert.Empty(t, cfg)
}

func TestCacheRetriesBeforeFallingBack(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(call int32) ([]byte, error) {
		if call < 3 {
			return nil, errors.New("transient")
		}
		return []byte(`{"latency":{"enabled":true}}`), nil
	}}
	c := NewCache(fetcher, time.Minute, discardLogger())

	cfg := c.GetConfig(context.Background())
	require.Contains(t, cfg, "latency")
	assert.EqualValues(t, 3, fetcher.calls)
}

func TestNoSourceFetcherAlwaysFails(t *testing.T) {
	c := NewCache(NoSource{}, time.Minute, discardLogger())
	cfg := c.GetConfig(context.Background())
	assert.Empty(t, cfg)
}

func TestSelectPrefersAppConfig(t *testing.T) {
	app := &AppConfigFetcher{Configuration: "prod"}
	param := &ParameterStoreFetcher{Name: "my-param"}
	assert.Same(t, Fetcher(app), Select(app, param))
}

func TestSelectFallsBackToParameterStore(t *testing.T) {
	param := &ParameterStoreFetcher{Name: "my-param"}
	assert.Same(t, Fetcher(param), Select(nil, param))
}

func TestSelectNoSourceConfigured(t *testing.T) {
	_, ok := Select(nil, nil).(NoSource)
	assert.True(t, ok)
}
