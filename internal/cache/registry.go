package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eventflow/faasctl/function"
)

// Ticket orders writes by the time their backend request was issued. Take one before the call
// whose response will be stored.
type Ticket uint64

// NamespaceSource tells which tenant namespace is current.
type NamespaceSource interface {
	Namespace() string
}

type key struct {
	Namespace string
	Name      function.Name
}

// entry holds the last write of a name. A nil fn is a tombstone left by Remove.
type entry struct {
	fn  *function.Function
	seq Ticket
}

// Registry is the local view of the functions of the current tenant namespace. Within a name
// the last completed write wins, except that a write issued before a Remove cannot resurrect
// the name and a list cannot evict anything written after the list was requested.
type Registry struct {
	sync.RWMutex
	entries  map[key]*entry
	seq      uint64
	sessions NamespaceSource
	log      *zap.Logger
}

// NewRegistry returns an empty Registry scoped to the namespace sessions reports.
func NewRegistry(sessions NamespaceSource, log *zap.Logger) *Registry {
	return &Registry{
		entries:  map[key]*entry{},
		sessions: sessions,
		log:      log.Named("registry"),
	}
}

// Ticket returns the next write ticket.
func (r *Registry) Ticket() Ticket {
	return Ticket(atomic.AddUint64(&r.seq, 1))
}

// Upsert stores fn as the state of its name. It reports false when the write was dropped
// because namespace is no longer current or the name was removed after t was issued.
func (r *Registry) Upsert(namespace string, t Ticket, fn *function.Function) bool {
	r.Lock()
	defer r.Unlock()

	if !r.current(namespace) {
		r.log.Debug("Dropping write for stale namespace.", zap.String("namespace", namespace), zap.String("function", string(fn.Name)))
		return false
	}
	return r.upsert(namespace, t, fn)
}

// UpsertList replaces the namespace's functions with fns. Entries missing from fns are evicted
// unless they were written after t was issued.
func (r *Registry) UpsertList(namespace string, t Ticket, fns function.Functions) bool {
	r.Lock()
	defer r.Unlock()

	if !r.current(namespace) {
		r.log.Debug("Dropping list for stale namespace.", zap.String("namespace", namespace), zap.Int("count", len(fns)))
		return false
	}

	listed := map[function.Name]struct{}{}
	for _, fn := range fns {
		listed[fn.Name] = struct{}{}
		r.upsert(namespace, t, fn)
	}

	for k, e := range r.entries {
		if k.Namespace != namespace {
			continue
		}
		if _, ok := listed[k.Name]; ok {
			continue
		}
		if e.seq < t {
			delete(r.entries, k)
		}
	}
	return true
}

// Remove evicts a name and leaves a tombstone at t. A live entry written after t was issued
// is kept.
func (r *Registry) Remove(namespace string, t Ticket, name function.Name) bool {
	r.Lock()
	defer r.Unlock()

	if !r.current(namespace) {
		return false
	}

	k := key{Namespace: namespace, Name: name}
	e, ok := r.entries[k]
	if ok && e.fn != nil && e.seq > t {
		r.log.Debug("Ignoring stale removal.", zap.String("function", string(name)), zap.Uint64("ticket", uint64(t)))
		return false
	}
	if ok && e.seq > t {
		t = e.seq
	}
	r.entries[k] = &entry{seq: t}
	return true
}

// Get returns a copy of the named function of the current namespace.
func (r *Registry) Get(name function.Name) (*function.Function, bool) {
	namespace := r.sessions.Namespace()
	if namespace == "" {
		return nil, false
	}

	r.RLock()
	defer r.RUnlock()

	e, ok := r.entries[key{Namespace: namespace, Name: name}]
	if !ok || e.fn == nil {
		return nil, false
	}
	return e.fn.Clone(), true
}

// All returns copies of the current namespace's functions sorted by name.
func (r *Registry) All() function.Functions {
	namespace := r.sessions.Namespace()
	fns := function.Functions{}
	if namespace == "" {
		return fns
	}

	r.RLock()
	for k, e := range r.entries {
		if k.Namespace == namespace && e.fn != nil {
			fns = append(fns, e.fn.Clone())
		}
	}
	r.RUnlock()

	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	return fns
}

// Purge drops every entry of every namespace.
func (r *Registry) Purge() {
	r.Lock()
	defer r.Unlock()
	r.entries = map[key]*entry{}
	r.log.Debug("Registry purged.")
}

// WaitFor returns a chan that is closed when name is present in the current namespace.
// Primarily for testing purposes.
func (r *Registry) WaitFor(name function.Name) <-chan struct{} {
	updatedChan := make(chan struct{})
	go func() {
		for {
			if _, ok := r.Get(name); ok {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		close(updatedChan)
	}()
	return updatedChan
}

// current must be called with the write lock held so that a Purge cannot land between the
// check and the write.
func (r *Registry) current(namespace string) bool {
	return namespace != "" && namespace == r.sessions.Namespace()
}

func (r *Registry) upsert(namespace string, t Ticket, fn *function.Function) bool {
	k := key{Namespace: namespace, Name: fn.Name}
	e, ok := r.entries[k]
	if ok && e.fn == nil && t < e.seq {
		r.log.Debug("Dropping write issued before removal.", zap.String("function", string(fn.Name)), zap.Uint64("ticket", uint64(t)))
		return false
	}

	c := fn.Clone()
	c.Namespace = namespace
	if ok && e.seq > t {
		t = e.seq
	}
	r.entries[k] = &entry{fn: c, seq: t}

	r.log.Debug("Function stored.", zap.Object("function", c))
	return true
}
