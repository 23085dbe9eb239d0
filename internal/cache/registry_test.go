package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/eventflow/faasctl/function"
)

type namespace struct {
	sync.Mutex
	current string
}

func (n *namespace) Namespace() string {
	n.Lock()
	defer n.Unlock()
	return n.current
}

func (n *namespace) set(ns string) {
	n.Lock()
	defer n.Unlock()
	n.current = ns
}

func newTestRegistry() (*Registry, *namespace) {
	ns := &namespace{current: "tenant-a"}
	return NewRegistry(ns, zap.NewNop()), ns
}

func running(name string) *function.Function {
	return &function.Function{Name: function.Name(name), Status: function.StatusRunning, DesiredReplicas: 1, ReadyReplicas: 1}
}

func TestRegistryUpsert(t *testing.T) {
	reg, _ := newTestRegistry()

	assert.True(t, reg.Upsert("tenant-a", reg.Ticket(), running("b-func")))
	assert.True(t, reg.Upsert("tenant-a", reg.Ticket(), running("a-func")))

	fns := reg.All()
	assert.Len(t, fns, 2)
	assert.Equal(t, function.Name("a-func"), fns[0].Name)
	assert.Equal(t, "tenant-a", fns[0].Namespace)
	assert.Equal(t, function.Name("b-func"), fns[1].Name)
}

func TestRegistryUpsert_LastCompletionWins(t *testing.T) {
	reg, _ := newTestRegistry()
	older, newer := reg.Ticket(), reg.Ticket()

	reg.Upsert("tenant-a", newer, &function.Function{Name: "f", Status: function.StatusPending})
	reg.Upsert("tenant-a", older, &function.Function{Name: "f", Status: function.StatusRunning})

	fn, ok := reg.Get("f")
	assert.True(t, ok)
	assert.Equal(t, function.StatusRunning, fn.Status)
}

func TestRegistryUpsert_StaleNamespaceDropped(t *testing.T) {
	reg, ns := newTestRegistry()
	ticket := reg.Ticket()
	ns.set("tenant-b")

	assert.False(t, reg.Upsert("tenant-a", ticket, running("f")))
	assert.Empty(t, reg.All())

	ns.set("tenant-a")
	assert.Empty(t, reg.All())
}

func TestRegistryUpsert_NoSessionDropped(t *testing.T) {
	reg, ns := newTestRegistry()
	ns.set("")

	assert.False(t, reg.Upsert("", reg.Ticket(), running("f")))
	assert.Empty(t, reg.All())
}

// loggingOut reports the current namespace once more while a logout clears it and purges reg.
type loggingOut struct {
	namespace
	reg    *Registry
	once   sync.Once
	purged chan struct{}
}

func (l *loggingOut) Namespace() string {
	current := l.namespace.Namespace()
	l.once.Do(func() {
		l.set("")
		go func() {
			l.reg.Purge()
			close(l.purged)
		}()
		select {
		case <-l.purged:
		case <-time.After(50 * time.Millisecond):
		}
	})
	return current
}

func TestRegistryWrites_DoNotOutliveConcurrentPurge(t *testing.T) {
	for name, write := range map[string]func(reg *Registry) bool{
		"upsert": func(reg *Registry) bool {
			return reg.Upsert("tenant-a", reg.Ticket(), running("f"))
		},
		"list": func(reg *Registry) bool {
			return reg.UpsertList("tenant-a", reg.Ticket(), function.Functions{running("f")})
		},
	} {
		t.Run(name, func(t *testing.T) {
			src := &loggingOut{namespace: namespace{current: "tenant-a"}, purged: make(chan struct{})}
			reg := NewRegistry(src, zap.NewNop())
			src.reg = reg

			write(reg)
			<-src.purged

			src.set("tenant-a")
			assert.Empty(t, reg.All())
		})
	}
}

func TestRegistryGet_ReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), &function.Function{Name: "f", Env: map[string]string{"A": "1"}})

	fn, _ := reg.Get("f")
	fn.Env["A"] = "changed"
	fn.Status = function.StatusFailed

	again, _ := reg.Get("f")
	assert.Equal(t, "1", again.Env["A"])
	assert.Equal(t, function.Status(""), again.Status)
}

func TestRegistryGet_OtherNamespaceInvisible(t *testing.T) {
	reg, ns := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), running("f"))

	ns.set("tenant-b")
	_, ok := reg.Get("f")

	assert.False(t, ok)
	assert.Empty(t, reg.All())
}

func TestRegistryRemove_StalePollCannotResurrect(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), running("f"))
	poll := reg.Ticket()
	deletion := reg.Ticket()

	reg.Remove("tenant-a", deletion, "f")
	assert.False(t, reg.Upsert("tenant-a", poll, running("f")))
	reg.UpsertList("tenant-a", poll, function.Functions{running("f")})

	_, ok := reg.Get("f")
	assert.False(t, ok)
}

func TestRegistryRemove_LaterWriteClearsTombstone(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Remove("tenant-a", reg.Ticket(), "f")

	assert.True(t, reg.Upsert("tenant-a", reg.Ticket(), running("f")))

	_, ok := reg.Get("f")
	assert.True(t, ok)
}

func TestRegistryRemove_StaleNotFoundKeepsNewerWrite(t *testing.T) {
	reg, _ := newTestRegistry()
	poll := reg.Ticket()
	reg.Upsert("tenant-a", reg.Ticket(), &function.Function{Name: "f", Status: function.StatusPending})

	assert.False(t, reg.Remove("tenant-a", poll, "f"))

	_, ok := reg.Get("f")
	assert.True(t, ok)
}

func TestRegistryUpsertList_EvictsMissing(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), running("gone"))
	reg.Upsert("tenant-a", reg.Ticket(), running("kept"))

	reg.UpsertList("tenant-a", reg.Ticket(), function.Functions{running("kept"), running("new")})

	fns := reg.All()
	assert.Len(t, fns, 2)
	assert.Equal(t, function.Name("kept"), fns[0].Name)
	assert.Equal(t, function.Name("new"), fns[1].Name)
}

func TestRegistryUpsertList_KeepsWritesIssuedAfterList(t *testing.T) {
	reg, _ := newTestRegistry()
	list := reg.Ticket()
	reg.Upsert("tenant-a", reg.Ticket(), &function.Function{Name: "created", Status: function.StatusPending})

	reg.UpsertList("tenant-a", list, function.Functions{})

	_, ok := reg.Get("created")
	assert.True(t, ok)
}

func TestRegistryUpsertList_LeavesOtherNamespaces(t *testing.T) {
	reg, ns := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), running("f"))
	ns.set("tenant-b")

	reg.UpsertList("tenant-b", reg.Ticket(), function.Functions{})

	ns.set("tenant-a")
	assert.Len(t, reg.All(), 1)
}

func TestRegistryPurge(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert("tenant-a", reg.Ticket(), running("f"))

	reg.Purge()

	assert.Empty(t, reg.All())
}

func TestRegistryWaitFor(t *testing.T) {
	reg, _ := newTestRegistry()
	done := reg.WaitFor("f")

	reg.Upsert("tenant-a", reg.Ticket(), running("f"))

	<-done
}
