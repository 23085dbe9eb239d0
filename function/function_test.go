package function_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/eventflow/faasctl/function"
)

func TestParseStatus(t *testing.T) {
	status, reason := function.ParseStatus("Running")
	assert.Equal(t, function.StatusRunning, status)
	assert.Equal(t, "", reason)

	status, reason = function.ParseStatus("")
	assert.Equal(t, function.StatusPending, status)
	assert.Equal(t, "", reason)
}

func TestParseStatus_NonCanonicalIsPending(t *testing.T) {
	status, reason := function.ParseStatus("Undeployed")

	assert.Equal(t, function.StatusPending, status)
	assert.Equal(t, "Undeployed", reason)
	assert.True(t, (&function.Function{Status: status, Reason: reason}).Undeployed())
}

func TestClone(t *testing.T) {
	fn := &function.Function{
		Name:    "f1",
		Env:     map[string]string{"A": "1"},
		Command: []string{"run"},
		Source:  function.ImageSource{Ref: "nginx:alpine"},
	}

	c := fn.Clone()
	c.Env["A"] = "2"
	c.Command[0] = "other"

	assert.Equal(t, "1", fn.Env["A"])
	assert.Equal(t, "run", fn.Command[0])
	assert.Equal(t, fn.Source, c.Source)
	assert.Nil(t, (*function.Function)(nil).Clone())
}

func TestPlaceholder(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	req := &function.DeploymentRequest{
		Name:     "f1",
		Replicas: 2,
		Source:   function.ImageSource{Ref: "nginx:alpine"},
		Env:      map[string]string{"A": "1"},
	}

	fn := req.Placeholder("tenant-demo-user", now)

	assert.Equal(t, &function.Function{
		Name:            "f1",
		Namespace:       "tenant-demo-user",
		Image:           "nginx:alpine",
		Source:          function.ImageSource{Ref: "nginx:alpine"},
		DesiredReplicas: 2,
		Status:          function.StatusPending,
		Env:             map[string]string{"A": "1"},
		CreatedAt:       now,
	}, fn)
}

func TestMarshalLogObject(t *testing.T) {
	fn := function.Function{
		Name:      "f1",
		Namespace: "tenant-a",
		Status:    function.StatusRunning,
		Source:    function.GitSource{URL: "https://example.com/repo.git", Branch: "main", Path: "./"},
		Env:       map[string]string{"SECRET": "hunter2"},
	}

	enc := zapcore.NewMapObjectEncoder()
	err := fn.MarshalLogObject(enc)

	assert.Nil(t, err)
	assert.Equal(t, "f1", enc.Fields["name"])
	assert.Equal(t, "Running", enc.Fields["status"])
	assert.Equal(t, []interface{}{"SECRET"}, enc.Fields["env"])
	assert.Equal(t, "git", enc.Fields["source"].(map[string]interface{})["type"])
}
