package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestWaitReady_ImmediateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	l := NewLauncher(nil)
	err := l.WaitReady(context.Background(), serverPort(t, ts), "/docs", 5*time.Second)
	assert.NoError(t, err)
}

func TestWaitReady_NotFoundCountsAsReady(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	l := NewLauncher(nil)
	err := l.WaitReady(context.Background(), serverPort(t, ts), "/definitely-missing", 5*time.Second)
	assert.NoError(t, err, "a routed 404 proves the server is up")
}

func TestWaitReady_RecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	l := NewLauncher(nil)
	err := l.WaitReady(context.Background(), serverPort(t, ts), "/docs", 10*time.Second)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitReady_TimesOutWhenNothingListens(t *testing.T) {
	// Grab a port the OS considers free, then close it so connections
	// are refused for the duration of the probe.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	l := NewLauncher(nil)
	start := time.Now()
	err = l.WaitReady(context.Background(), port, "/docs", 700*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	l := NewLauncher(nil)
	err = l.WaitReady(ctx, port, "/docs", 30*time.Second)
	assert.Error(t, err)
}
