package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/internal/cache"
	"github.com/eventflow/faasctl/metrics"
	"github.com/eventflow/faasctl/transport"
	"github.com/eventflow/faasctl/util"
)

const (
	// DefaultListInterval is how often the list view is refreshed.
	DefaultListInterval = 5 * time.Second
	// DefaultDetailInterval is how often a detail view is refreshed.
	DefaultDetailInterval = 3 * time.Second
)

// apply writes a fetch result to the registry under the namespace and ticket the fetch was
// issued with.
type apply func(namespace string, t cache.Ticket)

type fetch func(ctx context.Context) (apply, error)

// Poller periodically refreshes a slice of the registry from the backend. A tick that fires
// while the previous fetch is still in flight is skipped.
type Poller struct {
	view     string
	interval time.Duration
	fetch    fetch
	registry *cache.Registry
	sessions cache.NamespaceSource
	log      *zap.Logger

	mu       sync.Mutex
	onError  func(error)
	guard    *util.ShutdownGuard
	inflight bool
	stopped  bool
}

// NewListPoller returns a Poller that keeps the whole namespace in sync.
func NewListPoller(t transport.Transport, registry *cache.Registry, sessions cache.NamespaceSource, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultListInterval
	}

	p := newPoller("list", interval, registry, sessions, log)
	p.fetch = func(ctx context.Context) (apply, error) {
		fns, err := t.List(ctx)
		if err != nil {
			return nil, err
		}
		return func(namespace string, tk cache.Ticket) {
			registry.UpsertList(namespace, tk, fns)
		}, nil
	}
	return p
}

// NewDetailPoller returns a Poller that keeps a single function in sync. A function that no
// longer exists is removed from the registry.
func NewDetailPoller(name function.Name, t transport.Transport, registry *cache.Registry, sessions cache.NamespaceSource, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultDetailInterval
	}

	p := newPoller("detail", interval, registry, sessions, log.With(zap.String("function", string(name))))
	p.fetch = func(ctx context.Context) (apply, error) {
		fn, err := t.Get(ctx, name)
		var notFound *transport.ErrNotFound
		if errors.As(err, &notFound) {
			return func(namespace string, tk cache.Ticket) {
				registry.Remove(namespace, tk, name)
			}, nil
		}
		if err != nil {
			return nil, err
		}
		return func(namespace string, tk cache.Ticket) {
			registry.Upsert(namespace, tk, fn)
		}, nil
	}
	return p
}

func newPoller(view string, interval time.Duration, registry *cache.Registry, sessions cache.NamespaceSource, log *zap.Logger) *Poller {
	p := &Poller{
		view:     view,
		interval: interval,
		registry: registry,
		sessions: sessions,
		log:      log.Named("poller").With(zap.String("view", view)),
	}
	p.onError = func(err error) {
		p.log.Error("Refreshing view failed.", zap.Error(err))
	}
	return p
}

// OnError replaces the callback fetch errors are delivered to. The default logs them. Errors
// caused by Stop cancelling the fetch are not delivered.
func (p *Poller) OnError(fn func(error)) *Poller {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
	return p
}

// Start fetches immediately and then on every tick. Starting a started or stopped Poller does
// nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guard != nil || p.stopped {
		return
	}

	p.guard = util.NewShutdownGuard(context.Background())
	p.guard.Go(p.loop)
	p.log.Debug("Poller started.", zap.Duration("interval", p.interval))
}

// Stop cancels the in-flight fetch and waits for the ticker loop to return. No fetch can write
// to the registry once Stop returned. Stop is idempotent and may be called from any goroutine,
// including OnError callbacks.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasStopped := p.stopped
	p.stopped = true
	guard := p.guard
	p.mu.Unlock()

	if guard != nil {
		guard.ShutdownAndWait()
	}
	if !wasStopped {
		p.log.Debug("Poller stopped.")
	}
}

// Refresh fetches and applies once, regardless of the interval. A stopped Poller does nothing.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.poll(ctx)
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick()
	for {
		select {
		case <-p.guard.ShuttingDown:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick runs a fetch in its own goroutine so that Stop, possibly called from inside that fetch
// through a session hook, never waits on it.
func (p *Poller) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.inflight {
		p.mu.Unlock()
		metrics.PollTicksSkipped.WithLabelValues(p.view).Inc()
		p.log.Debug("Skipping tick, previous fetch still in flight.")
		return
	}
	p.inflight = true
	ctx := p.guard.Context()
	p.mu.Unlock()

	go func() {
		err := p.poll(ctx)

		p.mu.Lock()
		p.inflight = false
		stopped, onError := p.stopped, p.onError
		p.mu.Unlock()

		if err != nil && !(stopped && errors.Is(err, context.Canceled)) {
			onError(err)
		}
	}()
}

func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return nil
	}

	namespace := p.sessions.Namespace()
	ticket := p.registry.Ticket()

	apply, err := p.fetch(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	apply(namespace, ticket)
	return nil
}
