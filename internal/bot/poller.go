package bot

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/vk"
)

// Source is the long-poll transport the Poller drains. Poll blocks for at
// most the configured bounded wait and returns a possibly-empty batch.
type Source interface {
	Poll(ctx context.Context) ([]vk.RawUpdate, error)
}

// Batcher receives each typed batch. HandleUpdates must not block on the
// batch completing.
type Batcher interface {
	HandleUpdates(updates []Update)
}

// errRetryDelay throttles the loop when the transport is failing, so a
// dead upstream does not turn the poll loop into a busy spin.
const errRetryDelay = time.Second

// Poller repeatedly long-polls the platform, maps raw events into typed
// Updates, and forwards each batch to the Dispatcher. The loop never
// crashes the process: transport errors are logged and the iteration
// retried.
type Poller struct {
	source     Source
	dispatcher Batcher
	logger     *zap.Logger
	// errRetryDelay is shortened in tests.
	errRetryDelay time.Duration

	running atomic.Bool
	done    chan struct{}
}

// NewPoller creates a Poller.
//
// Precondition: source, dispatcher, and logger must be non-nil.
func NewPoller(source Source, dispatcher Batcher, logger *zap.Logger) *Poller {
	return &Poller{
		source:        source,
		dispatcher:    dispatcher,
		logger:        logger,
		errRetryDelay: errRetryDelay,
		done:          make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called. It blocks, satisfying
// the server.Service contract, and always returns nil: an individual
// poll failure is never terminal.
//
// Postcondition: The done channel is closed when the loop exits.
func (p *Poller) Start() error {
	p.running.Store(true)
	defer close(p.done)

	p.logger.Info("poller started")
	for p.running.Load() {
		// The in-flight long-poll is never cancelled: Stop waits for the
		// bounded wait to elapse instead, so a batch is never torn.
		raw, err := p.source.Poll(context.Background())
		if err != nil {
			p.logger.Warn("poll failed, retrying", zap.Error(err))
			time.Sleep(p.errRetryDelay)
			continue
		}
		if len(raw) == 0 {
			continue
		}

		updates := MapUpdates(raw, p.logger)
		p.logger.Debug("forwarding batch",
			zap.Int("raw", len(raw)),
			zap.Int("typed", len(updates)),
		)
		if len(updates) > 0 {
			p.dispatcher.HandleUpdates(updates)
		}
	}
	p.logger.Info("poller stopped")
	return nil
}

// Stop signals the loop to exit after the current iteration and waits for
// it to finish. Cooperative: the in-flight poll call runs to completion.
func (p *Poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	<-p.done
}
