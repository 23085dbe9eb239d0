package mutation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eventflow/faasctl/deploy"
	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/internal/cache"
	"github.com/eventflow/faasctl/mock"
	"github.com/eventflow/faasctl/mutation"
	"github.com/eventflow/faasctl/transport"
)

type tenant string

func (t tenant) Namespace() string { return string(t) }

var unavailable = &transport.ErrUnavailable{Op: "get", Original: errors.New("connection refused")}

func setup(t *testing.T, timeout time.Duration) (*gomock.Controller, *mock.MockTransport, *cache.Registry, *mutation.Coordinator) {
	ctrl := gomock.NewController(t)
	tr := mock.NewMockTransport(ctrl)
	registry := cache.NewRegistry(tenant("tenant-a"), zap.NewNop())
	return ctrl, tr, registry, mutation.NewCoordinator(tr, registry, tenant("tenant-a"), timeout, zap.NewNop())
}

func request(t *testing.T, name string) *function.DeploymentRequest {
	req, err := deploy.Image(name, 1, "nginx")
	assert.Nil(t, err)
	return req
}

func TestCreate_PlaceholderVisibleImmediately(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	tr.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, nil)
	tr.EXPECT().Get(gomock.Any(), function.Name("fn")).Return(nil, unavailable)

	fn, err := coordinator.Create(context.Background(), request(t, "fn"))

	assert.Nil(t, err)
	assert.Equal(t, function.StatusPending, fn.Status)
	cached, ok := registry.Get("fn")
	assert.True(t, ok)
	assert.Equal(t, function.StatusPending, cached.Status)
	assert.Equal(t, "nginx", cached.Image)
	assert.Equal(t, "tenant-a", cached.Namespace)
}

func TestCreate_ResyncUpdatesStatus(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	tr.EXPECT().Create(gomock.Any(), gomock.Any()).Return(&function.Function{Name: "fn", Status: function.StatusPending}, nil)
	tr.EXPECT().Get(gomock.Any(), function.Name("fn")).Return(&function.Function{Name: "fn", Status: function.StatusRunning}, nil)

	_, err := coordinator.Create(context.Background(), request(t, "fn"))

	assert.Nil(t, err)
	cached, _ := registry.Get("fn")
	assert.Equal(t, function.StatusRunning, cached.Status)
}

func TestCreate_InvalidRequestNeverReachesTransport(t *testing.T) {
	ctrl, _, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()

	_, err := coordinator.Create(context.Background(), &function.DeploymentRequest{
		Name:     "fn",
		Replicas: 11,
		Source:   function.ImageSource{Ref: "nginx"},
	})

	assert.Equal(t, &deploy.ErrValidation{Field: "replicas", Message: "must be between 0 and 10"}, err)
	assert.Empty(t, registry.All())
}

func TestCreate_RejectedLeavesRegistryUntouched(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	rejected := &transport.ErrRejected{Op: "create", StatusCode: 409, Message: "conflict: function fn already exists"}
	tr.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, rejected)

	_, err := coordinator.Create(context.Background(), request(t, "fn"))

	assert.Equal(t, rejected, err)
	assert.Empty(t, registry.All())
}

func TestDelete_ConcurrentDeleteConflicts(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	registry.Upsert("tenant-a", registry.Ticket(), &function.Function{Name: "f1"})
	started := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().Delete(gomock.Any(), function.Name("f1")).DoAndReturn(func(context.Context, function.Name) error {
		close(started)
		<-release
		return nil
	}).Times(1)
	tr.EXPECT().Get(gomock.Any(), function.Name("f1")).Return(nil, &transport.ErrNotFound{Op: "get", Name: "f1"})

	first := make(chan error)
	go func() {
		first <- coordinator.Delete(context.Background(), "f1", mutation.AlwaysConfirm)
	}()
	<-started

	err := coordinator.Delete(context.Background(), "f1", mutation.AlwaysConfirm)
	assert.Equal(t, &mutation.ErrConflict{Name: "f1", Operation: "delete", InFlight: "delete"}, err)

	close(release)
	assert.Nil(t, <-first)
	_, ok := registry.Get("f1")
	assert.False(t, ok)
}

func TestDelete_DifferentNamesProceedConcurrently(t *testing.T) {
	ctrl, tr, _, coordinator := setup(t, 0)
	defer ctrl.Finish()
	started := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().Delete(gomock.Any(), function.Name("a")).DoAndReturn(func(context.Context, function.Name) error {
		close(started)
		<-release
		return nil
	})
	tr.EXPECT().Delete(gomock.Any(), function.Name("b")).Return(nil)
	tr.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, &transport.ErrNotFound{}).Times(2)

	first := make(chan error)
	go func() {
		first <- coordinator.Delete(context.Background(), "a", mutation.AlwaysConfirm)
	}()
	<-started

	assert.Nil(t, coordinator.Delete(context.Background(), "b", mutation.AlwaysConfirm))
	close(release)
	assert.Nil(t, <-first)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	ctrl, _, _, coordinator := setup(t, 0)
	defer ctrl.Finish()
	asked := function.Name("")

	err := coordinator.Delete(context.Background(), "fn", func(name function.Name, op string) bool {
		asked = name
		return false
	})
	assert.Equal(t, &mutation.ErrNotConfirmed{Name: "fn", Operation: "delete"}, err)
	assert.Equal(t, function.Name("fn"), asked)

	err = coordinator.Undeploy(context.Background(), "fn", nil)
	assert.EqualError(t, err, `Undeployment of function "fn" was not confirmed.`)
}

func TestMutation_ExpectedFailuresNotLoggedAsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	core, logs := observer.New(zapcore.DebugLevel)
	tr := mock.NewMockTransport(ctrl)
	registry := cache.NewRegistry(tenant("tenant-a"), zap.NewNop())
	coordinator := mutation.NewCoordinator(tr, registry, tenant("tenant-a"), 0, zap.New(core))
	tr.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, &transport.ErrRejected{Op: "create", StatusCode: 409, Message: "exists"})
	tr.EXPECT().Invoke(gomock.Any(), function.Name("fn"), gomock.Any()).Return(nil, unavailable)

	coordinator.Delete(context.Background(), "fn", func(function.Name, string) bool { return false })
	coordinator.Create(context.Background(), request(t, "fn"))

	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 2, logs.FilterMessage("Mutation failed.").Len())

	coordinator.Invoke(context.Background(), "fn", nil)

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestDelete_OptimisticRemovalSurvivesFailedResync(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	registry.Upsert("tenant-a", registry.Ticket(), &function.Function{Name: "fn", Status: function.StatusRunning})
	tr.EXPECT().Delete(gomock.Any(), function.Name("fn")).Return(nil)
	tr.EXPECT().Get(gomock.Any(), function.Name("fn")).Return(nil, unavailable)

	err := coordinator.Delete(context.Background(), "fn", mutation.AlwaysConfirm)

	assert.Nil(t, err)
	_, ok := registry.Get("fn")
	assert.False(t, ok)
}

func TestDelete_NotFoundEvicts(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	registry.Upsert("tenant-a", registry.Ticket(), &function.Function{Name: "fn"})
	notFound := &transport.ErrNotFound{Op: "delete", Name: "fn"}
	tr.EXPECT().Delete(gomock.Any(), function.Name("fn")).Return(notFound)

	err := coordinator.Delete(context.Background(), "fn", mutation.AlwaysConfirm)

	assert.Equal(t, notFound, err)
	assert.Empty(t, registry.All())
}

func TestUndeploy_KeepsRecord(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	registry.Upsert("tenant-a", registry.Ticket(), &function.Function{Name: "fn", Status: function.StatusRunning})
	tr.EXPECT().Undeploy(gomock.Any(), function.Name("fn")).Return(nil)
	tr.EXPECT().Get(gomock.Any(), function.Name("fn")).Return(&function.Function{
		Name:   "fn",
		Status: function.StatusPending,
		Reason: function.ReasonUndeployed,
	}, nil)

	err := coordinator.Undeploy(context.Background(), "fn", mutation.AlwaysConfirm)

	assert.Nil(t, err)
	cached, ok := registry.Get("fn")
	assert.True(t, ok)
	assert.True(t, cached.Undeployed())
}

func TestInvoke(t *testing.T) {
	ctrl, tr, registry, coordinator := setup(t, 0)
	defer ctrl.Finish()
	payload := json.RawMessage(`{"x":1}`)
	tr.EXPECT().Invoke(gomock.Any(), function.Name("fn"), payload).Return(&transport.InvokeResult{StatusCode: 200, Body: []byte(`ok`)}, nil)

	res, err := coordinator.Invoke(context.Background(), "fn", payload)

	assert.Nil(t, err)
	assert.Equal(t, []byte(`ok`), res.Body)
	assert.Empty(t, registry.All())
}

func TestInvoke_UnavailableNotRetried(t *testing.T) {
	ctrl, tr, _, coordinator := setup(t, 0)
	defer ctrl.Finish()
	failure := &transport.ErrUnavailable{Op: "invoke", Original: errors.New("HTTP status code: 503")}
	tr.EXPECT().Invoke(gomock.Any(), function.Name("fn"), gomock.Any()).Return(nil, failure).Times(1)

	_, err := coordinator.Invoke(context.Background(), "fn", nil)

	assert.Equal(t, failure, err)
}

func TestMutation_LockReleasedAfterTimeout(t *testing.T) {
	ctrl, tr, _, coordinator := setup(t, 20*time.Millisecond)
	defer ctrl.Finish()
	gomock.InOrder(
		tr.EXPECT().Delete(gomock.Any(), function.Name("fn")).DoAndReturn(func(ctx context.Context, _ function.Name) error {
			<-ctx.Done()
			return &transport.ErrUnavailable{Op: "delete", Original: ctx.Err()}
		}),
		tr.EXPECT().Delete(gomock.Any(), function.Name("fn")).Return(nil),
	)
	tr.EXPECT().Get(gomock.Any(), function.Name("fn")).Return(nil, &transport.ErrNotFound{Op: "get", Name: "fn"})

	err := coordinator.Delete(context.Background(), "fn", mutation.AlwaysConfirm)
	assert.IsType(t, &transport.ErrUnavailable{}, err)

	assert.Nil(t, coordinator.Delete(context.Background(), "fn", mutation.AlwaysConfirm))
}

func TestLogs(t *testing.T) {
	ctrl, tr, _, coordinator := setup(t, 0)
	defer ctrl.Finish()
	tr.EXPECT().Logs(gomock.Any(), function.Name("fn")).Return("line\n", nil)

	logs, err := coordinator.Logs(context.Background(), "fn")

	assert.Nil(t, err)
	assert.Equal(t, "line\n", logs)
}
