package testutils

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CaptureLogs redirects the helper logger into a buffer and returns a reader for it.
func (h *TestHelper) CaptureLogs() func() string {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	h.Logger.SetOutput(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))
	h.Logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Receive waits for one value from ch.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel MUST NOT be closed")
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for value")
	}
	var zero T
	return zero
}

// RequireClosed waits for ch to be closed, draining anything still buffered.
func RequireClosed[T any](t testing.TB, ch <-chan T, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, "channel was not closed in time")
		}
	}
}

// RequireNothing asserts that no value arrives on ch within wait.
func RequireNothing[T any](t testing.TB, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			require.FailNowf(t, "unexpected value", "%v", v)
		}
	case <-time.After(wait):
	}
}
