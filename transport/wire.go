package transport

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jinzhu/copier"

	"github.com/eventflow/faasctl/function"
)

// functionStatus is the backend's JSON representation of a function.
type functionStatus struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace,omitempty"`
	Image             string            `json:"image"`
	DesiredReplicas   int32             `json:"replicas"`
	ReadyReplicas     int32             `json:"ready_replicas"`
	AvailableReplicas int32             `json:"available_replicas"`
	UpdatedReplicas   int32             `json:"updated_replicas"`
	Status            string            `json:"status"`
	Env               map[string]string `json:"env,omitempty"`
	Command           []string          `json:"command,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`

	DeploymentType string     `json:"deployment_type,omitempty"`
	Runtime        string     `json:"runtime,omitempty"`
	GitConfig      *gitConfig `json:"git_config,omitempty"`
}

type gitConfig struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
}

type createRequest struct {
	Name           string            `json:"name"`
	Replicas       int32             `json:"replicas"`
	DeploymentType string            `json:"deployment_type"`
	Image          string            `json:"image,omitempty"`
	Runtime        string            `json:"runtime,omitempty"`
	SourceCode     string            `json:"source_code,omitempty"`
	GitConfig      *gitConfig        `json:"git_config,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Command        []string          `json:"command,omitempty"`
}

type invokeRequest struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (st *functionStatus) toFunction() (*function.Function, error) {
	fn := &function.Function{}
	if err := copier.Copy(fn, st); err != nil {
		return nil, err
	}
	fn.Status, fn.Reason = function.ParseStatus(st.Status)

	switch function.SourceType(st.DeploymentType) {
	case function.SourceCode:
		fn.Source = function.CodeSource{Runtime: st.Runtime}
	case function.SourceGit:
		if st.GitConfig != nil {
			fn.Source = function.GitSource{URL: st.GitConfig.URL, Branch: st.GitConfig.Branch, Path: st.GitConfig.Path}
		}
	case function.SourceImage:
		fn.Source = function.ImageSource{Ref: st.Image}
	}
	return fn, nil
}

func newCreateRequest(req *function.DeploymentRequest) (*createRequest, error) {
	body := &createRequest{}
	if err := copier.Copy(body, req); err != nil {
		return nil, err
	}

	switch src := req.Source.(type) {
	case function.ImageSource:
		body.DeploymentType = string(function.SourceImage)
		body.Image = src.Ref
	case function.CodeSource:
		body.DeploymentType = string(function.SourceCode)
		body.Runtime = src.Runtime
		body.SourceCode = src.SourceBase64
	case function.GitSource:
		body.DeploymentType = string(function.SourceGit)
		body.GitConfig = &gitConfig{URL: src.URL, Branch: src.Branch, Path: src.Path}
	}
	return body, nil
}

// message extracts the backend's explanation from an error response.
func message(body []byte) string {
	eb := errorBody{}
	if err := json.Unmarshal(body, &eb); err == nil && (eb.Error != "" || eb.Message != "") {
		switch {
		case eb.Error == "":
			return eb.Message
		case eb.Message == "":
			return eb.Error
		}
		return eb.Error + ": " + eb.Message
	}
	return strings.TrimSpace(string(body))
}
