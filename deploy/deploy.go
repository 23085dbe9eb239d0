package deploy

import (
	"encoding/base64"
	"regexp"
	"strings"

	validator "gopkg.in/go-playground/validator.v9"

	"github.com/eventflow/faasctl/function"
)

const (
	// DefaultBranch is used for git deployments that don't name a branch.
	DefaultBranch = "main"
	// DefaultPath is used for git deployments that don't name a path.
	DefaultPath = "./"
	// MaxReplicas is the highest replica count a function may ask for.
	MaxReplicas = 10
)

// Runtimes lists the runtimes code deployments can target.
var Runtimes = []string{"python", "nodejs", "go"}

var nameFormat = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("functionname", functionNameValidator)
	return v
}

// functionNameValidator validates if field contains a DNS-1123 label
func functionNameValidator(fl validator.FieldLevel) bool {
	return nameFormat.MatchString(fl.Field().String())
}

// Option adjusts a request being built.
type Option func(*function.DeploymentRequest)

// WithEnv sets the environment variables of the function.
func WithEnv(env map[string]string) Option {
	return func(r *function.DeploymentRequest) {
		if len(env) == 0 {
			return
		}
		r.Env = make(map[string]string, len(env))
		for k, v := range env {
			r.Env[k] = v
		}
	}
}

// WithCommand overrides the image's command.
func WithCommand(command ...string) Option {
	return func(r *function.DeploymentRequest) {
		if len(command) == 0 {
			return
		}
		r.Command = append([]string(nil), command...)
	}
}

// Image builds a request deploying a prebuilt container image.
func Image(name string, replicas int32, ref string, opts ...Option) (*function.DeploymentRequest, error) {
	return build(name, replicas, function.ImageSource{Ref: strings.TrimSpace(ref)}, opts)
}

// Code builds a request deploying inline source code on one of the Runtimes.
func Code(name string, replicas int32, runtime, source string, opts ...Option) (*function.DeploymentRequest, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &ErrValidation{Field: "source", Message: "is required"}
	}
	return build(name, replicas, function.CodeSource{
		Runtime:      runtime,
		SourceBase64: base64.StdEncoding.EncodeToString([]byte(source)),
	}, opts)
}

// Git builds a request deploying a repository the backend builds. Empty branch and path fall
// back to DefaultBranch and DefaultPath.
func Git(name string, replicas int32, url, branch, path string, opts ...Option) (*function.DeploymentRequest, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	if path == "" {
		path = DefaultPath
	}
	return build(name, replicas, function.GitSource{URL: strings.TrimSpace(url), Branch: branch, Path: path}, opts)
}

// Validate checks a request built elsewhere. It returns *ErrValidation for the first problem
// found.
func Validate(req *function.DeploymentRequest) error {
	if req == nil {
		return &ErrValidation{Field: "request", Message: "is required"}
	}
	if err := validate.Struct(req); err != nil {
		return newErrValidation(err)
	}
	if req.Source == nil {
		return &ErrValidation{Field: "source", Message: "is required"}
	}
	if err := validate.Struct(req.Source); err != nil {
		return newErrValidation(err)
	}
	return nil
}

func build(name string, replicas int32, src function.Source, opts []Option) (*function.DeploymentRequest, error) {
	req := &function.DeploymentRequest{
		Name:     function.Name(name),
		Replicas: replicas,
		Source:   src,
	}
	for _, opt := range opts {
		opt(req)
	}

	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}
