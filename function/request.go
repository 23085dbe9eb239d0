package function

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// DeploymentRequest is a validated create call. It lives only until the call completes.
type DeploymentRequest struct {
	Name     Name              `validate:"required,functionname"`
	Replicas int32             `validate:"min=0,max=10"`
	Source   Source            `validate:"-"`
	Env      map[string]string `validate:"dive,keys,required,endkeys"`
	Command  []string
}

// Placeholder builds the record shown for a freshly created function until the backend reports
// its real state.
func (r *DeploymentRequest) Placeholder(namespace string, now time.Time) *Function {
	fn := &Function{
		Name:            r.Name,
		Namespace:       namespace,
		Source:          r.Source,
		DesiredReplicas: r.Replicas,
		Status:          StatusPending,
		Env:             cloneEnv(r.Env),
		CreatedAt:       now,
	}
	if r.Command != nil {
		fn.Command = append([]string(nil), r.Command...)
	}
	if img, ok := r.Source.(ImageSource); ok {
		fn.Image = img.Ref
	}
	return fn
}

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface.
func (r DeploymentRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", string(r.Name))
	enc.AddInt32("replicas", r.Replicas)
	if r.Source != nil {
		return enc.AddObject("source", r.Source)
	}
	return nil
}
