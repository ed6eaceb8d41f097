package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingHandler holds every Handle call until released.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}
	handled atomic.Int64
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (h *blockingHandler) Handle(_ context.Context, _ Update) error {
	h.started <- struct{}{}
	<-h.release
	h.handled.Add(1)
	return nil
}

func (h *blockingHandler) awaitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.started:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d handler units started", i, n)
		}
	}
}

func batchOf(n int) []Update {
	updates := make([]Update, 0, n)
	for i := 0; i < n; i++ {
		updates = append(updates, Message{PeerID: testPeer, FromID: int64(i + 1), Text: "wrong"})
	}
	return updates
}

func TestDispatcherTracksAndReapsUnits(t *testing.T) {
	handler := newBlockingHandler()
	d := NewDispatcher(handler, 5*time.Millisecond, zap.NewNop())

	d.HandleUpdates(batchOf(5))
	handler.awaitStarted(t, 5)
	assert.Equal(t, 5, d.LiveCount())

	go func() { _ = d.Start() }()
	defer d.Stop()
	close(handler.release)

	require.Eventually(t, func() bool { return d.LiveCount() == 0 },
		time.Second, time.Millisecond)
	assert.Equal(t, int64(5), handler.handled.Load())
}

func TestDispatcherStopAwaitsRunningUnits(t *testing.T) {
	handler := newBlockingHandler()
	d := NewDispatcher(handler, time.Minute, zap.NewNop())

	d.HandleUpdates(batchOf(2))
	handler.awaitStarted(t, 2)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while units were still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(handler.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after units completed")
	}
	assert.Equal(t, int64(2), handler.handled.Load())
}

func TestDispatcherStopIdempotent(t *testing.T) {
	handler := newBlockingHandler()
	d := NewDispatcher(handler, time.Minute, zap.NewNop())

	d.HandleUpdates(batchOf(1))
	handler.awaitStarted(t, 1)
	close(handler.release)

	d.Stop()
	assert.NotPanics(t, func() { d.Stop() })
	assert.Equal(t, int64(1), handler.handled.Load())
}

type panicHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *panicHandler) Handle(_ context.Context, _ Update) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	panic("boom")
}

func TestDispatcherSurvivesHandlerPanic(t *testing.T) {
	handler := &panicHandler{}
	d := NewDispatcher(handler, time.Minute, zap.NewNop())

	d.HandleUpdates(batchOf(3))
	d.Stop()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, 3, handler.calls)
}

type errorHandler struct {
	calls atomic.Int64
}

func (h *errorHandler) Handle(_ context.Context, _ Update) error {
	h.calls.Add(1)
	return assert.AnError
}

func TestDispatcherLogsHandlerErrors(t *testing.T) {
	handler := &errorHandler{}
	d := NewDispatcher(handler, time.Minute, zap.NewNop())

	d.HandleUpdates(batchOf(4))
	d.Stop()

	assert.Equal(t, int64(4), handler.calls.Load())
}
