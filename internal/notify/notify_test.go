package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Send(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, "sk_test", nil)
	err := n.Send(context.Background(), Event{ID: "1", Plot: "plot-1.plot", Status: "MOVED", SpeedMiB: 120})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test", auth)
	assert.Equal(t, "plot-1.plot", got.Plot)
	assert.Equal(t, "MOVED", got.Status)
	assert.InDelta(t, 120, got.SpeedMiB, 0.01)
}

func TestNotifier_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "", nil)
	n.RetryDelay = time.Millisecond

	require.NoError(t, n.Send(context.Background(), Event{Plot: "p"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &logging.Recorder{}
	n := New(srv.URL, "", rec)
	n.RetryDelay = time.Millisecond

	err := n.Send(context.Background(), Event{Plot: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, rec.Contains("warning", "after 3 attempts"))
}
