package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/eventflow/faasctl/function"
	"github.com/eventflow/faasctl/metrics"
	"github.com/eventflow/faasctl/session"
)

// Transport is the backend's function API. Every operation is scoped to the namespace of the
// session it runs under.
type Transport interface {
	session.TokenIssuer

	List(ctx context.Context) (function.Functions, error)
	Get(ctx context.Context, name function.Name) (*function.Function, error)
	// Create returns nil without error when the backend accepted the request without a body.
	Create(ctx context.Context, req *function.DeploymentRequest) (*function.Function, error)
	Delete(ctx context.Context, name function.Name) error
	Undeploy(ctx context.Context, name function.Name) error
	Invoke(ctx context.Context, name function.Name, payload json.RawMessage) (*InvokeResult, error)
	Logs(ctx context.Context, name function.Name) (string, error)
}

// Credentials supplies the session calls are authenticated with and is told when the backend
// rejects its token.
type Credentials interface {
	Current() (*session.Session, bool)
	ClearIf(token string) error
}

// InvokeResult is the backend's opaque answer to an invocation.
type InvokeResult struct {
	StatusCode int
	Body       []byte
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds every single request, including time spent reading the body.
	Timeout time.Duration
	// ReadRetries is how many times List, Get and Logs are repeated after ErrUnavailable.
	ReadRetries uint64
	// HTTPClient defaults to a client instrumented with metrics.RoundTripper.
	HTTPClient *http.Client
}

const (
	defaultTimeout = 10 * time.Second
	retryInterval  = 100 * time.Millisecond
	retryElapsed   = 3 * time.Second
)

// Client implements Transport over HTTP and JSON.
type Client struct {
	base        *url.URL
	timeout     time.Duration
	readRetries uint64
	http        *http.Client
	creds       Credentials
	log         *zap.Logger
}

var _ Transport = (*Client)(nil)

// NewClient returns a Client for the backend at cfg.BaseURL. Authenticated calls fail until
// credentials are attached with WithCredentials.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("Invalid backend URL %q.", cfg.BaseURL)
	}

	c := &Client{
		base:        base,
		timeout:     cfg.Timeout,
		readRetries: cfg.ReadRetries,
		http:        cfg.HTTPClient,
		log:         log.Named("transport"),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: metrics.RoundTripper{
				Next:            http.DefaultTransport,
				RequestDuration: metrics.RequestDuration,
			},
		}
	}
	return c, nil
}

// WithCredentials attaches the session source used for authenticated calls.
func (c *Client) WithCredentials(creds Credentials) *Client {
	c.creds = creds
	return c
}

// IssueToken exchanges an identity for a session. It is the only unauthenticated call.
func (c *Client) IssueToken(ctx context.Context, id session.Identity) (*session.Session, error) {
	resp, err := c.do(ctx, call{op: "token", method: http.MethodPost, path: "/auth/token", body: id, anonymous: true})
	if err != nil {
		return nil, err
	}

	sess := &session.Session{}
	if err := json.Unmarshal(resp.body, sess); err != nil {
		return nil, &ErrUnavailable{Op: "token", Original: fmt.Errorf("malformed token response: %w", err)}
	}
	return sess, nil
}

// List returns all functions of the session's namespace.
func (c *Client) List(ctx context.Context) (function.Functions, error) {
	resp, err := c.read(ctx, call{op: "list", method: http.MethodGet, path: "/v1/functions"})
	if err != nil {
		return nil, err
	}

	statuses := []*functionStatus{}
	if err := json.Unmarshal(resp.body, &statuses); err != nil {
		return nil, &ErrUnavailable{Op: "list", Original: fmt.Errorf("malformed function list: %w", err)}
	}

	fns := make(function.Functions, 0, len(statuses))
	for _, st := range statuses {
		fn, err := st.toFunction()
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

// Get returns a single function.
func (c *Client) Get(ctx context.Context, name function.Name) (*function.Function, error) {
	resp, err := c.read(ctx, call{op: "get", method: http.MethodGet, path: functionPath(name), name: name})
	if err != nil {
		return nil, err
	}
	return decodeFunction("get", resp.body)
}

// Create asks the backend to create and deploy a function.
func (c *Client) Create(ctx context.Context, req *function.DeploymentRequest) (*function.Function, error) {
	body, err := newCreateRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{op: "create", method: http.MethodPost, path: "/v1/functions", name: req.Name, body: body})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return nil, nil
	}

	fn, err := decodeFunction("create", resp.body)
	if err != nil {
		c.log.Warn("Ignoring unreadable create response.", zap.String("function", string(req.Name)), zap.Error(err))
		return nil, nil
	}
	return fn, nil
}

// Delete removes the function and its deployment.
func (c *Client) Delete(ctx context.Context, name function.Name) error {
	_, err := c.do(ctx, call{op: "delete", method: http.MethodDelete, path: functionPath(name), name: name})
	return err
}

// Undeploy removes the function's deployment but keeps its record.
func (c *Client) Undeploy(ctx context.Context, name function.Name) error {
	_, err := c.do(ctx, call{op: "undeploy", method: http.MethodPost, path: functionPath(name) + ":undeploy", name: name})
	return err
}

// Invoke calls the function once. It is never retried; the backend may have executed the
// function even when the outcome is ErrUnavailable.
func (c *Client) Invoke(ctx context.Context, name function.Name, payload json.RawMessage) (*InvokeResult, error) {
	resp, err := c.do(ctx, call{
		op:     "invoke",
		method: http.MethodPost,
		path:   functionPath(name) + ":invoke",
		name:   name,
		body:   invokeRequest{Payload: payload},
	})
	if err != nil {
		return nil, err
	}
	return &InvokeResult{StatusCode: resp.status, Body: resp.body}, nil
}

// Logs returns a snapshot of the function's recent log output.
func (c *Client) Logs(ctx context.Context, name function.Name) (string, error) {
	resp, err := c.read(ctx, call{op: "logs", method: http.MethodGet, path: functionPath(name) + "/logs", name: name})
	if err != nil {
		return "", err
	}
	return string(resp.body), nil
}

type call struct {
	op        string
	method    string
	path      string
	name      function.Name
	body      interface{}
	anonymous bool
}

type response struct {
	status int
	body   []byte
}

// read runs a side-effect free call, repeating it on ErrUnavailable when retries are configured.
func (c *Client) read(ctx context.Context, cl call) (*response, error) {
	if c.readRetries == 0 {
		return c.do(ctx, cl)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInterval
	policy.MaxElapsedTime = retryElapsed

	var (
		resp    *response
		lastErr error
		attempt = 1
	)
	err := backoff.Retry(func() error {
		r, err := c.do(ctx, cl)
		if err == nil {
			resp = r
			return nil
		}

		lastErr = err
		var unavailable *ErrUnavailable
		if !errors.As(err, &unavailable) {
			return backoff.Permanent(err)
		}
		c.log.Debug("Backend unavailable, retrying read.", zap.String("op", cl.op), zap.Int("attempt", attempt), zap.Error(err))
		attempt++
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.readRetries), ctx))

	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &ErrUnavailable{Op: cl.op, Original: err}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, cl call) (*response, error) {
	var sess *session.Session
	if !cl.anonymous {
		ok := false
		if c.creds != nil {
			sess, ok = c.creds.Current()
		}
		if !ok {
			return nil, &ErrUnauthenticated{Op: cl.op}
		}
	}

	ctx, cancel := context.WithTimeout(metrics.WithOperation(ctx, cl.op), c.timeout)
	defer cancel()

	var body io.Reader
	if cl.body != nil {
		byt, err := json.Marshal(cl.body)
		if err != nil {
			return nil, &ErrRejected{Op: cl.op, Message: err.Error()}
		}
		body = bytes.NewReader(byt)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.base.String()+cl.path, body)
	if err != nil {
		return nil, &ErrRejected{Op: cl.op, Message: err.Error()}
	}
	requestID := uuid.NewV4().String()
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrUnavailable{Op: cl.op, Original: err}
	}
	defer resp.Body.Close()

	byt, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrUnavailable{Op: cl.op, Original: err}
	}

	c.log.Debug("Backend call finished.",
		zap.String("op", cl.op),
		zap.String("requestId", requestID),
		zap.Int("status", resp.StatusCode))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return &response{status: code, body: byt}, nil
	case code == http.StatusUnauthorized:
		if sess != nil && c.creds != nil {
			if err := c.creds.ClearIf(sess.Token); err != nil {
				c.log.Error("Clearing rejected session failed.", zap.Error(err))
			}
		}
		return nil, &ErrUnauthenticated{Op: cl.op}
	case code == http.StatusNotFound:
		return nil, &ErrNotFound{Op: cl.op, Name: cl.name}
	case code >= 400 && code < 500:
		return nil, &ErrRejected{Op: cl.op, StatusCode: code, Message: message(byt)}
	default:
		return nil, &ErrUnavailable{Op: cl.op, Original: fmt.Errorf("HTTP status code: %d", code)}
	}
}

func functionPath(name function.Name) string {
	return "/v1/functions/" + url.PathEscape(string(name))
}

func decodeFunction(op string, body []byte) (*function.Function, error) {
	st := &functionStatus{}
	if err := json.Unmarshal(body, st); err != nil {
		return nil, &ErrUnavailable{Op: op, Original: fmt.Errorf("malformed function: %w", err)}
	}
	return st.toFunction()
}
