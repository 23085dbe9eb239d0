package deploy

import (
	"fmt"
	"strings"

	validator "gopkg.in/go-playground/validator.v9"
)

// ErrValidation occurs when a deployment request is malformed. Such a request never reaches
// the backend.
type ErrValidation struct {
	Field   string
	Message string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("Invalid deployment request: %s %s.", e.Field, e.Message)
}

var fieldNames = map[string]string{
	"Name":         "name",
	"Replicas":     "replicas",
	"Env":          "env",
	"Runtime":      "runtime",
	"SourceBase64": "source",
	"URL":          "url",
	"Branch":       "branch",
	"Path":         "path",
	"Ref":          "image",
}

func newErrValidation(err error) *ErrValidation {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &ErrValidation{Field: "request", Message: err.Error()}
	}

	fe := verrs[0]
	field := strings.SplitN(fe.StructField(), "[", 2)[0]
	if name, ok := fieldNames[field]; ok {
		field = name
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "functionname":
		msg = "must consist of lower case alphanumeric characters or '-', and must start and end with an alphanumeric character"
	case "min", "max":
		msg = fmt.Sprintf("must be between 0 and %d", MaxReplicas)
	case "oneof":
		msg = "must be one of " + strings.Join(Runtimes, ", ")
	case "base64":
		msg = "must be base64 encoded"
	default:
		msg = fmt.Sprintf("failed the %q check", fe.Tag())
	}
	return &ErrValidation{Field: field, Message: msg}
}
