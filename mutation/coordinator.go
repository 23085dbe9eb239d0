package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventflow/faasctl/deploy"
	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/internal/cache"
	"github.com/eventflow/faasctl/metrics"
	"github.com/eventflow/faasctl/transport"
)

const (
	opCreate   = "create"
	opDelete   = "delete"
	opUndeploy = "undeploy"
	opInvoke   = "invoke"
)

// DefaultTimeout bounds a mutation including its resync.
const DefaultTimeout = 30 * time.Second

// Confirm asks the user to approve a destructive operation on name. op is "delete" or
// "undeploy".
type Confirm func(name function.Name, op string) bool

// AlwaysConfirm approves everything. It is meant for non-interactive callers that were given
// explicit consent up front.
func AlwaysConfirm(function.Name, string) bool { return true }

// Coordinator runs user mutations against the backend and keeps the registry in step with
// them. At most one mutation per function name is in flight at a time.
type Coordinator struct {
	transport transport.Transport
	registry  *cache.Registry
	sessions  cache.NamespaceSource
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger

	mu       sync.Mutex
	inflight map[function.Name]string
}

// NewCoordinator returns a Coordinator. A non-positive timeout means DefaultTimeout.
func NewCoordinator(t transport.Transport, registry *cache.Registry, sessions cache.NamespaceSource, timeout time.Duration, log *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		transport: t,
		registry:  registry,
		sessions:  sessions,
		timeout:   timeout,
		now:       time.Now,
		log:       log.Named("mutation"),
		inflight:  map[function.Name]string{},
	}
}

// Create validates req, creates the function and shows it in the registry right away. The
// returned record is the backend's answer or, when the backend sent none, a Pending
// placeholder.
func (c *Coordinator) Create(ctx context.Context, req *function.DeploymentRequest) (*function.Function, error) {
	if err := deploy.Validate(req); err != nil {
		c.finished(opCreate, "", err)
		return nil, err
	}

	release, err := c.acquire(req.Name, opCreate)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	namespace, ticket := c.sessions.Namespace(), c.registry.Ticket()
	fn, err := c.transport.Create(ctx, req)
	if err != nil {
		c.finished(opCreate, req.Name, err)
		return nil, err
	}
	if fn == nil {
		fn = req.Placeholder(namespace, c.now())
	}
	c.registry.Upsert(namespace, ticket, fn)

	c.resync(ctx, req.Name)
	c.finished(opCreate, req.Name, nil)
	return fn.Clone(), nil
}

// Delete removes the function after confirm approved it. The registry entry goes away
// immediately and cannot be brought back by polls issued before the deletion.
func (c *Coordinator) Delete(ctx context.Context, name function.Name, confirm Confirm) error {
	return c.destroy(ctx, name, opDelete, confirm, c.transport.Delete)
}

// Undeploy removes the function's deployment after confirm approved it. The record stays in
// the registry and its status follows the backend.
func (c *Coordinator) Undeploy(ctx context.Context, name function.Name, confirm Confirm) error {
	return c.destroy(ctx, name, opUndeploy, confirm, c.transport.Undeploy)
}

// Invoke calls the function once. It neither retries nor touches the registry.
func (c *Coordinator) Invoke(ctx context.Context, name function.Name, payload json.RawMessage) (*transport.InvokeResult, error) {
	release, err := c.acquire(name, opInvoke)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.transport.Invoke(ctx, name, payload)
	c.finished(opInvoke, name, err)
	return res, err
}

// Logs returns a snapshot of the function's log output. It is a read and takes no lock.
func (c *Coordinator) Logs(ctx context.Context, name function.Name) (string, error) {
	return c.transport.Logs(ctx, name)
}

func (c *Coordinator) destroy(ctx context.Context, name function.Name, op string, confirm Confirm, call func(context.Context, function.Name) error) error {
	if confirm == nil || !confirm(name, op) {
		err := &ErrNotConfirmed{Name: name, Operation: op}
		c.finished(op, name, err)
		return err
	}

	release, err := c.acquire(name, op)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	namespace, ticket := c.sessions.Namespace(), c.registry.Ticket()
	err = call(ctx, name)

	var notFound *transport.ErrNotFound
	if errors.As(err, &notFound) {
		c.registry.Remove(namespace, ticket, name)
	}
	if err != nil {
		c.finished(op, name, err)
		return err
	}

	if op == opDelete {
		c.registry.Remove(namespace, ticket, name)
	}
	c.resync(ctx, name)
	c.finished(op, name, nil)
	return nil
}

// resync reads name back from the backend right after a mutation. Its failure doesn't fail
// the mutation; the next poll catches up.
func (c *Coordinator) resync(ctx context.Context, name function.Name) {
	namespace, ticket := c.sessions.Namespace(), c.registry.Ticket()
	fn, err := c.transport.Get(ctx, name)

	var notFound *transport.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		c.registry.Remove(namespace, ticket, name)
	case err != nil:
		c.log.Warn("Resync after mutation failed.", zap.String("function", string(name)), zap.Error(err))
	default:
		c.registry.Upsert(namespace, ticket, fn)
	}
}

func (c *Coordinator) acquire(name function.Name, op string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inflight, ok := c.inflight[name]; ok {
		err := &ErrConflict{Name: name, Operation: op, InFlight: inflight}
		c.log.Info("Rejecting concurrent mutation.", zap.String("function", string(name)), zap.String("operation", op), zap.String("inFlight", inflight))
		metrics.Mutations.WithLabelValues(op, "conflict").Inc()
		return nil, err
	}
	c.inflight[name] = op

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inflight, name)
	}, nil
}

func (c *Coordinator) finished(op string, name function.Name, err error) {
	if err == nil {
		metrics.Mutations.WithLabelValues(op, "success").Inc()
		c.log.Debug("Mutation succeeded.", zap.String("operation", op), zap.String("function", string(name)))
		return
	}

	outcome, level := "error", zap.ErrorLevel
	switch err.(type) {
	case *ErrNotConfirmed:
		outcome, level = "unconfirmed", zap.InfoLevel
	case *deploy.ErrValidation, *transport.ErrRejected, *transport.ErrNotFound, *transport.ErrUnauthenticated:
		level = zap.InfoLevel
	}
	metrics.Mutations.WithLabelValues(op, outcome).Inc()
	if ce := c.log.Check(level, "Mutation failed."); ce != nil {
		ce.Write(zap.String("operation", op), zap.String("function", string(name)), zap.Error(err))
	}
}
