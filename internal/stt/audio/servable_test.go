package audio

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServableChecker_ServingURL(t *testing.T) {
	checker := NewServableChecker(ServableConfig{BaseURL: "http://files.local/audio"}, testLogger())

	assert.Equal(t, "http://files.local/audio/job-1.m4a", checker.ServingURL("/var/lib/audio/job-1.m4a"))
	assert.Equal(t, "http://files.local/audio/job-2.m4a", checker.ServingURL("job-2.m4a"))
}

func TestServableChecker_WaitServable(t *testing.T) {
	t.Run("succeeds once the file serves", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		checker := NewServableChecker(ServableConfig{
			BaseURL:     srv.URL,
			MaxAttempts: 5,
			Interval:    time.Millisecond,
		}, testLogger())

		err := checker.WaitServable(context.Background(), "job-1.m4a")

		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		checker := NewServableChecker(ServableConfig{
			BaseURL:     srv.URL,
			MaxAttempts: 3,
			Interval:    time.Millisecond,
		}, testLogger())

		err := checker.WaitServable(context.Background(), "job-1.m4a")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not servable after 3 attempts")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("honors context cancellation between attempts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		checker := NewServableChecker(ServableConfig{
			BaseURL:     srv.URL,
			MaxAttempts: 100,
			Interval:    50 * time.Millisecond,
		}, testLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := checker.WaitServable(ctx, "job-1.m4a")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestChunkStore(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	t.Run("append accumulates chunks in order", func(t *testing.T) {
		require.NoError(t, store.Append("job-1", []byte("abc")))
		require.NoError(t, store.Append("job-1", []byte("def")))

		data, err := os.ReadFile(store.RawRef("job-1"))
		require.NoError(t, err)
		assert.Equal(t, "abcdef", string(data))
	})

	t.Run("write all replaces content", func(t *testing.T) {
		require.NoError(t, store.WriteAll("job-2", []byte("whole file")))

		data, err := os.ReadFile(store.RawRef("job-2"))
		require.NoError(t, err)
		assert.Equal(t, "whole file", string(data))
	})

	t.Run("remove is tolerant of missing files", func(t *testing.T) {
		store.Remove("job-1")
		store.Remove("never-existed")

		_, err := os.ReadFile(store.RawRef("job-1"))
		assert.Error(t, err)
	})
}
