package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestShutdownGuard_WaitsForGoroutines(t *testing.T) {
	guard := NewShutdownGuard(context.Background())
	finished := false
	guard.Go(func() {
		<-guard.ShuttingDown
		finished = true
	})

	guard.ShutdownAndWait()

	assert.True(t, finished)
	assert.Equal(t, context.Canceled, guard.Context().Err())
}

func TestShutdownGuard_Idempotent(t *testing.T) {
	guard := NewShutdownGuard(context.Background())

	guard.InitiateShutdown()
	guard.ShutdownAndWait()

	_, open := <-guard.ShuttingDown
	assert.False(t, open)
}

func TestShutdownGuard_ParentCancelStopsContext(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	parent, cancel := context.WithCancel(context.Background())
	guard := NewShutdownGuard(parent)
	guard.Go(func() {
		<-guard.Context().Done()
	})

	cancel()
	guard.ShutdownAndWait()

	assert.Equal(t, context.Canceled, guard.Context().Err())
}
