package function

import (
	"time"

	"go.uber.org/zap/zapcore"

	faaszap "github.com/eventflow/faasctl/internal/zap"
)

// Name uniquely identifies a function within a tenant namespace.
type Name string

// Status is the backend-reported deployment state of a function.
type Status string

const (
	// StatusPending means the deployment is being created, scaled down or undeployed.
	StatusPending Status = "Pending"
	// StatusRunning means all desired replicas are ready.
	StatusRunning Status = "Running"
	// StatusFailed means the deployment reports unavailable replicas.
	StatusFailed Status = "Failed"
)

// ReasonUndeployed is the status text reported for a function whose deployment was removed
// while its record was kept.
const ReasonUndeployed = "Undeployed"

// ParseStatus maps backend status text onto the three canonical states. Anything that is not
// Running or Failed is Pending; the second return value keeps the original text when it was
// not canonical.
func ParseStatus(s string) (Status, string) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusFailed:
		return Status(s), ""
	case "":
		return StatusPending, ""
	}
	return StatusPending, s
}

// Function represents a function resource deployed in a tenant namespace.
type Function struct {
	Name      Name
	Namespace string
	Image     string
	Source    Source

	DesiredReplicas   int32
	ReadyReplicas     int32
	AvailableReplicas int32
	UpdatedReplicas   int32

	Status Status
	Reason string

	Env       map[string]string
	Command   []string
	CreatedAt time.Time
}

// Functions is an array of functions.
type Functions []*Function

// Undeployed reports whether the backend keeps the function record without a running deployment.
func (f *Function) Undeployed() bool {
	return f.Status == StatusPending && f.Reason == ReasonUndeployed
}

// Clone returns a deep copy of the function. Sources are immutable values and are shared.
func (f *Function) Clone() *Function {
	if f == nil {
		return nil
	}
	c := *f
	c.Env = cloneEnv(f.Env)
	if f.Command != nil {
		c.Command = append([]string(nil), f.Command...)
	}
	return &c
}

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface
func (f Function) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", string(f.Name))
	enc.AddString("namespace", f.Namespace)
	enc.AddString("image", f.Image)
	enc.AddString("status", string(f.Status))
	if f.Reason != "" {
		enc.AddString("reason", f.Reason)
	}
	enc.AddInt32("replicas", f.DesiredReplicas)
	enc.AddInt32("readyReplicas", f.ReadyReplicas)
	if f.Source != nil {
		if err := enc.AddObject("source", f.Source); err != nil {
			return err
		}
	}
	if len(f.Command) > 0 {
		if err := enc.AddArray("command", faaszap.Strings(f.Command)); err != nil {
			return err
		}
	}
	if len(f.Env) > 0 {
		return enc.AddArray("env", faaszap.Keys(f.Env))
	}
	return nil
}

func cloneEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	c := make(map[string]string, len(env))
	for k, v := range env {
		c[k] = v
	}
	return c
}
