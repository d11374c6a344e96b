package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSuperviseServer_ContextCancelStopsListener(t *testing.T) {
	server := newServer(http.NewServeMux(), "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	var startupRan atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- superviseServer(ctx, server, func(context.Context) error {
			startupRan.Store(true)
			return nil
		}, discardLogger())
	}()

	// Let the listener come up before pulling the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervision did not stop after cancellation")
	}
	assert.True(t, startupRan.Load())
}

func TestSuperviseServer_ListenFailureTearsGroupDown(t *testing.T) {
	// TEST-NET-3 address: not assigned locally, so binding fails immediately.
	server := newServer(http.NewServeMux(), "203.0.113.1:0")

	done := make(chan error, 1)
	go func() {
		done <- superviseServer(context.Background(), server, nil, discardLogger())
	}()

	select {
	case err := <-done:
		// The failure must propagate and wake the watcher rather than
		// leaving it parked on a signal that never comes.
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server")
	case <-time.After(5 * time.Second):
		t.Fatal("listener failure did not cancel the supervision group")
	}
}
