package function

import "go.uber.org/zap/zapcore"

// SourceType tells how a function's image is produced.
type SourceType string

const (
	// SourceCode is inline source code built on a runtime template.
	SourceCode SourceType = "code"
	// SourceGit is a git repository inspected and built by the backend.
	SourceGit SourceType = "git"
	// SourceImage is a prebuilt container image.
	SourceImage SourceType = "image"
)

// Source is the deployment source of a function. Exactly one variant is set at creation time
// and it never changes afterwards.
type Source interface {
	Type() SourceType
	MarshalLogObject(enc zapcore.ObjectEncoder) error
}

// CodeSource is inline source code for one of the supported runtimes.
type CodeSource struct {
	Runtime      string `validate:"required,oneof=python nodejs go"`
	SourceBase64 string `validate:"required,base64"`
}

// Type implements Source.
func (CodeSource) Type() SourceType { return SourceCode }

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface.
func (s CodeSource) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(SourceCode))
	enc.AddString("runtime", s.Runtime)
	enc.AddInt("sourceBytes", len(s.SourceBase64))
	return nil
}

// GitSource points at a repository the backend builds from.
type GitSource struct {
	URL    string `validate:"required"`
	Branch string `validate:"required"`
	Path   string `validate:"required"`
}

// Type implements Source.
func (GitSource) Type() SourceType { return SourceGit }

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface.
func (s GitSource) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(SourceGit))
	enc.AddString("url", s.URL)
	enc.AddString("branch", s.Branch)
	enc.AddString("path", s.Path)
	return nil
}

// ImageSource is a container image reference, e.g. nginx:alpine.
type ImageSource struct {
	Ref string `validate:"required"`
}

// Type implements Source.
func (ImageSource) Type() SourceType { return SourceImage }

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface.
func (s ImageSource) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(SourceImage))
	enc.AddString("ref", s.Ref)
	return nil
}
