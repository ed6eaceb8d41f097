package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UpdateHandler processes one typed update to completion.
type UpdateHandler interface {
	Handle(ctx context.Context, update Update) error
}

// Dispatcher spawns one goroutine per update and tracks each as a live
// unit in a registry. A background reclamation loop discards finished
// units on a fixed interval, bounding registry growth without scanning on
// every event. Shutdown drains: the reclamation loop is stopped first,
// then every still-live unit is awaited to completion, so an in-flight
// state mutation is never abandoned halfway.
type Dispatcher struct {
	handler  UpdateHandler
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	units  map[uint64]chan struct{}
	nextID uint64

	started  bool
	reapStop chan struct{}
	reapDone chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a Dispatcher that reclaims finished units every
// interval.
//
// Precondition: handler and logger must be non-nil; interval must be
// positive.
func NewDispatcher(handler UpdateHandler, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handler:  handler,
		logger:   logger,
		interval: interval,
		units:    make(map[uint64]chan struct{}),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
}

// HandleUpdates spawns one unit per update and returns immediately; it
// never waits for any unit to finish. Units within a batch run
// concurrently with no ordering guarantee between players.
func (d *Dispatcher) HandleUpdates(updates []Update) {
	for _, update := range updates {
		update := update
		done := make(chan struct{})

		d.mu.Lock()
		d.nextID++
		id := d.nextID
		d.units[id] = done
		d.mu.Unlock()

		go func() {
			defer close(done)
			defer func() {
				// A panicking unit is logged and discarded; it must never
				// take down the poller or its sibling units.
				if r := recover(); r != nil {
					d.logger.Error("handler unit panicked",
						zap.Uint64("unit", id),
						zap.Any("panic", r),
					)
				}
			}()
			if err := d.handler.Handle(context.Background(), update); err != nil {
				d.logger.Warn("handler unit failed",
					zap.Uint64("unit", id),
					zap.Int64("peer_id", update.Peer()),
					zap.Error(err),
				)
			}
		}()
	}
}

// LiveCount returns the number of units still tracked in the registry.
// Finished units count until the next reclamation sweep.
func (d *Dispatcher) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.units)
}

// Start runs the reclamation loop until Stop is called. It blocks,
// satisfying the server.Service contract.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	defer close(d.reapDone)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Duration("reap_interval", d.interval))
	for {
		select {
		case <-d.reapStop:
			return nil
		case <-ticker.C:
			d.reap()
		}
	}
}

// reap drops registry entries for units that have finished.
func (d *Dispatcher) reap() {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := len(d.units)
	for id, done := range d.units {
		select {
		case <-done:
			delete(d.units, id)
		default:
		}
	}
	if reclaimed := before - len(d.units); reclaimed > 0 {
		d.logger.Debug("reclaimed finished units",
			zap.Int("reclaimed", reclaimed),
			zap.Int("live", len(d.units)),
		)
	}
}

// Stop shuts the dispatcher down: the reclamation loop is stopped and
// awaited first, then every live unit is awaited to completion. Units are
// never force-cancelled. Repeated calls are no-ops.
//
// Postcondition: All spawned units have run to completion and the
// registry is empty.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(d.drain)
}

func (d *Dispatcher) drain() {
	close(d.reapStop)
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.reapDone
	}

	d.mu.Lock()
	remaining := make([]chan struct{}, 0, len(d.units))
	for _, done := range d.units {
		remaining = append(remaining, done)
	}
	d.units = make(map[uint64]chan struct{})
	d.mu.Unlock()

	for _, done := range remaining {
		<-done
	}
	d.logger.Info("dispatcher drained", zap.Int("awaited", len(remaining)))
}
