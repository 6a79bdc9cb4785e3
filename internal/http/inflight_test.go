package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightTracker_Count(t *testing.T) {
	tracker := &InFlightTracker{}
	assert.Zero(t, tracker.Count())

	tracker.Increment()
	tracker.Increment()
	assert.EqualValues(t, 2, tracker.Count())

	tracker.Decrement()
	tracker.Decrement()
	assert.Zero(t, tracker.Count())
}

func TestInFlightTracker_WaitForZeroReturnsWhenDrained(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tracker.WaitForZero(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	tracker.Decrement()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForZero did not return after the count reached zero")
	}
}

func TestInFlightTracker_WaitForZeroHonoursContext(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.WaitForZero(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestWaitForInFlight_DrainsRequestsThroughMiddleware holds a request open inside
// MetricsMiddleware and checks shutdown waits for it.
func TestWaitForInFlight_DrainsRequestsThroughMiddleware(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stations", nil))
	<-entered
	require.GreaterOrEqual(t, InFlightCount(), int64(1))

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitForInFlight(short, 5*time.Millisecond), context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, WaitForInFlight(ctx, 5*time.Millisecond))
}
