package console

import (
	"context"
	"errors"
	"sync"

	"github.com/docker/libkv/store"
	"go.uber.org/zap"

	"github.com/eventflow/faasctl/config"
	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/internal/cache"
	"github.com/eventflow/faasctl/mutation"
	"github.com/eventflow/faasctl/reconcile"
	"github.com/eventflow/faasctl/session"
	"github.com/eventflow/faasctl/transport"
)

// Console owns the session, the registry and every open view. Clearing the session, whether
// by logout or because the backend rejected it, stops all views and purges the registry.
type Console struct {
	Sessions  *session.Store
	Transport *transport.Client
	Registry  *cache.Registry
	Mutations *mutation.Coordinator

	cfg *config.Config
	kv  store.Store
	log *zap.Logger

	mu    sync.Mutex
	views map[*View]struct{}
}

// New wires a Console from cfg and restores the persisted session.
func New(cfg *config.Config, log *zap.Logger) (*Console, error) {
	client, err := transport.NewClient(transport.Config{
		BaseURL:     cfg.APIURL,
		Timeout:     cfg.RequestTimeout,
		ReadRetries: cfg.ReadRetries,
	}, log)
	if err != nil {
		return nil, err
	}

	kv, err := session.OpenKV(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	sessions, err := session.Open(kv, client, log)
	if err != nil {
		kv.Close()
		return nil, err
	}
	client.WithCredentials(sessions)

	registry := cache.NewRegistry(sessions, log)
	c := &Console{
		Sessions:  sessions,
		Transport: client,
		Registry:  registry,
		Mutations: mutation.NewCoordinator(client, registry, sessions, cfg.MutationTimeout, log),
		cfg:       cfg,
		kv:        kv,
		log:       log.Named("console"),
		views:     map[*View]struct{}{},
	}
	sessions.OnClear(c.teardown)
	return c, nil
}

// Login acquires a session for id. Whatever the previous session showed is discarded first.
func (c *Console) Login(ctx context.Context, id session.Identity) (*session.Session, error) {
	return c.Sessions.Acquire(ctx, id)
}

// Logout clears the session, stops every view and purges the registry.
func (c *Console) Logout() error {
	return c.Sessions.Clear()
}

// Whoami returns the current session.
func (c *Console) Whoami() (*session.Session, error) {
	sess, ok := c.Sessions.Current()
	if !ok {
		return nil, &transport.ErrUnauthenticated{Op: "whoami"}
	}
	return sess, nil
}

// Close stops every view and releases the state store.
func (c *Console) Close() {
	c.stopViews()
	c.kv.Close()
}

// Functions fetches the namespace's function list once and returns the resulting registry
// contents.
func (c *Console) Functions(ctx context.Context) (function.Functions, error) {
	p := reconcile.NewListPoller(c.Transport, c.Registry, c.Sessions, c.cfg.ListInterval, c.log)
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.Registry.All(), nil
}

// Function fetches a single function once.
func (c *Console) Function(ctx context.Context, name function.Name) (*function.Function, error) {
	p := reconcile.NewDetailPoller(name, c.Transport, c.Registry, c.Sessions, c.cfg.DetailInterval, c.log)
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	fn, ok := c.Registry.Get(name)
	if !ok {
		return nil, &transport.ErrNotFound{Op: "get", Name: name}
	}
	return fn, nil
}

// ViewOption configures a view.
type ViewOption func(*reconcile.Poller)

// WithErrorHandler delivers the view's fetch errors to fn instead of the log.
func WithErrorHandler(fn func(error)) ViewOption {
	return func(p *reconcile.Poller) {
		p.OnError(fn)
	}
}

// OpenListView starts polling the namespace's function list.
func (c *Console) OpenListView(opts ...ViewOption) *View {
	p := reconcile.NewListPoller(c.Transport, c.Registry, c.Sessions, c.cfg.ListInterval, c.log)
	return c.open(p, "", opts)
}

// OpenDetailView starts polling a single function.
func (c *Console) OpenDetailView(name function.Name, opts ...ViewOption) *View {
	p := reconcile.NewDetailPoller(name, c.Transport, c.Registry, c.Sessions, c.cfg.DetailInterval, c.log)
	return c.open(p, name, opts)
}

func (c *Console) open(p *reconcile.Poller, name function.Name, opts []ViewOption) *View {
	for _, opt := range opts {
		opt(p)
	}

	v := &View{console: c, poller: p, name: name}
	c.mu.Lock()
	c.views[v] = struct{}{}
	c.mu.Unlock()

	p.Start()
	c.log.Debug("View opened.", zap.String("function", string(name)))
	return v
}

// teardown runs whenever the session is cleared.
func (c *Console) teardown() {
	c.stopViews()
	c.Registry.Purge()
}

func (c *Console) stopViews() {
	c.mu.Lock()
	views := c.views
	c.views = map[*View]struct{}{}
	c.mu.Unlock()

	for v := range views {
		v.poller.Stop()
	}
}

// View is an open list or detail view. Its registry slice is kept fresh until Close.
type View struct {
	console *Console
	poller  *reconcile.Poller
	name    function.Name
}

// Functions returns the functions of the current namespace, sorted by name.
func (v *View) Functions() function.Functions {
	return v.console.Registry.All()
}

// Function returns the function a detail view shows.
func (v *View) Function() (*function.Function, error) {
	if v.name == "" {
		return nil, errors.New("list view has no single function")
	}
	fn, ok := v.console.Registry.Get(v.name)
	if !ok {
		return nil, &transport.ErrNotFound{Op: "get", Name: v.name}
	}
	return fn, nil
}

// Refresh fetches the view's data now.
func (v *View) Refresh(ctx context.Context) error {
	return v.poller.Refresh(ctx)
}

// Close stops the view. Nothing it fetched is written afterwards.
func (v *View) Close() {
	v.poller.Stop()

	v.console.mu.Lock()
	delete(v.console.views, v)
	v.console.mu.Unlock()
}
