package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

// Function is the backend's record of a function, in its wire representation.
type Function struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace"`
	Image             string            `json:"image"`
	Replicas          int32             `json:"replicas"`
	ReadyReplicas     int32             `json:"ready_replicas"`
	AvailableReplicas int32             `json:"available_replicas"`
	UpdatedReplicas   int32             `json:"updated_replicas"`
	Status            string            `json:"status"`
	Env               map[string]string `json:"env,omitempty"`
	Command           []string          `json:"command,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	DeploymentType    string            `json:"deployment_type,omitempty"`
	Runtime           string            `json:"runtime,omitempty"`
	GitConfig         *GitConfig        `json:"git_config,omitempty"`

	sourceCode string
}

// GitConfig locates the source of a git deployment.
type GitConfig struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
}

type createBody struct {
	Name           string            `json:"name"`
	Replicas       int32             `json:"replicas"`
	DeploymentType string            `json:"deployment_type"`
	Image          string            `json:"image"`
	Runtime        string            `json:"runtime"`
	SourceCode     string            `json:"source_code"`
	GitConfig      *GitConfig        `json:"git_config"`
	Env            map[string]string `json:"env"`
	Command        []string          `json:"command"`
}

type identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type tokenClaims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Namespace string `json:"namespace"`
	jwt.RegisteredClaims
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Fault makes the next Times calls of an operation answer with StatusCode and Body.
type Fault struct {
	StatusCode int
	Body       string
	Times      int
}

// TokenTTL is how long issued tokens are valid.
const TokenTTL = 24 * time.Hour

// Backend is an in-memory multi-tenant function API. Tenants are isolated by the namespace
// carried in their token.
type Backend struct {
	// EmptyCreateResponse makes create answer 202 without a body.
	EmptyCreateResponse bool

	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	secret  []byte
	tenants map[string]map[string]*Function
	faults  map[string]*Fault
	gates   map[string]chan struct{}
	calls   map[string]int
}

// New returns an empty Backend.
func New(log *zap.Logger) *Backend {
	return &Backend{
		log:     log.Named("stub"),
		now:     time.Now,
		secret:  []byte(uuid.NewV4().String()),
		tenants: map[string]map[string]*Function{},
		faults:  map[string]*Fault{},
		gates:   map[string]chan struct{}{},
		calls:   map[string]int{},
	}
}

// Namespace returns the tenant namespace the backend assigns to a user.
func Namespace(userID string) string {
	return "tenant-" + userID
}

// Server starts an httptest server serving the backend.
func (b *Backend) Server() *httptest.Server {
	return httptest.NewServer(b.Handler())
}

// Handler returns the backend's routes.
func (b *Backend) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/auth/token", b.issueToken)
	router.GET("/v1/functions", b.authenticated("list", b.listFunctions))
	router.POST("/v1/functions", b.authenticated("create", b.createFunction))
	router.GET("/v1/functions/:name", b.authenticated("get", b.getFunction))
	router.DELETE("/v1/functions/:name", b.authenticated("delete", b.deleteFunction))
	router.GET("/v1/functions/:name/logs", b.authenticated("logs", b.functionLogs))
	router.POST("/v1/functions/:name", b.functionAction)

	return cors.AllowAll().Handler(router)
}

// Put stores fn in namespace, replacing any function of the same name.
func (b *Backend) Put(namespace string, fn Function) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn.Namespace = namespace
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = b.now().UTC()
	}
	b.tenant(namespace)[fn.Name] = &fn
}

// Lookup returns a copy of a stored function.
func (b *Backend) Lookup(namespace, name string) (Function, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn, ok := b.tenant(namespace)[name]
	if !ok {
		return Function{}, false
	}
	return *fn, true
}

// SetStatus simulates the orchestrator moving a function to status with ready replicas.
func (b *Backend) SetStatus(namespace, name, status string, ready int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn, ok := b.tenant(namespace)[name]
	if !ok {
		return false
	}
	fn.Status = status
	fn.ReadyReplicas = ready
	fn.AvailableReplicas = ready
	fn.UpdatedReplicas = ready
	return true
}

// Fail injects a fault for op.
func (b *Backend) Fail(op string, fault Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = &fault
}

// Block holds every call of op until the returned release function is called or the caller
// gives up. Release is safe to call more than once.
func (b *Backend) Block(op string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[op] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gates[op] == gate {
				delete(b.gates, op)
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many requests for op reached the backend.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// RevokeTokens invalidates every token issued so far.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secret = []byte(uuid.NewV4().String())
}

type tenantHandle func(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string)

func (b *Backend) issueToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !b.enter("token", w, r) {
		return
	}

	id := identity{}
	if err := json.NewDecoder(r.Body).Decode(&id); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Malformed JSON payload: %s.", err))
		return
	}
	if id.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	now := b.now()
	claims := tokenClaims{
		UserID:    id.UserID,
		Username:  id.Username,
		Email:     id.Email,
		Namespace: Namespace(id.UserID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	b.mu.Lock()
	secret := b.secret
	b.mu.Unlock()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"user_id":   id.UserID,
		"username":  id.Username,
		"email":     id.Email,
		"namespace": claims.Namespace,
	})
}

func (b *Backend) authenticated(op string, h tenantHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		namespace, ok := b.authenticate(w, r)
		if !ok {
			return
		}
		if !b.enter(op, w, r) {
			return
		}
		h(w, r, params, namespace)
	}
}

func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}

	b.mu.Lock()
	secret := b.secret
	b.mu.Unlock()

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil || claims.Namespace == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	return claims.Namespace, true
}

// enter counts the call, applies injected faults and waits on a gate. It reports whether the
// handler should continue.
func (b *Backend) enter(op string, w http.ResponseWriter, r *http.Request) bool {
	b.mu.Lock()
	b.calls[op]++
	gate := b.gates[op]
	fault := b.faults[op]
	if fault != nil {
		fault.Times--
		if fault.Times <= 0 {
			delete(b.faults, op)
		}
	}
	b.mu.Unlock()

	b.log.Debug("Request received.", zap.String("op", op), zap.String("requestId", r.Header.Get("X-Request-Id")))

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return false
		}
	}

	if fault != nil {
		w.WriteHeader(fault.StatusCode)
		w.Write([]byte(fault.Body))
		return false
	}
	return true
}

func (b *Backend) listFunctions(w http.ResponseWriter, r *http.Request, _ httprouter.Params, namespace string) {
	b.mu.Lock()
	fns := []Function{}
	for _, fn := range b.tenant(namespace) {
		fns = append(fns, *fn)
	}
	b.mu.Unlock()

	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	writeJSON(w, http.StatusOK, fns)
}

func (b *Backend) getFunction(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string) {
	fn, ok := b.Lookup(namespace, params.ByName("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("function %s not found", params.ByName("name")))
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

func (b *Backend) createFunction(w http.ResponseWriter, r *http.Request, _ httprouter.Params, namespace string) {
	body := createBody{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Malformed JSON payload: %s.", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	fn := &Function{
		Name:           body.Name,
		Namespace:      namespace,
		Replicas:       body.Replicas,
		Status:         "Pending",
		Env:            body.Env,
		Command:        body.Command,
		DeploymentType: body.DeploymentType,
		Runtime:        body.Runtime,
		GitConfig:      body.GitConfig,
		CreatedAt:      b.now().UTC(),
		sourceCode:     body.SourceCode,
	}
	switch body.DeploymentType {
	case "image":
		fn.Image = body.Image
	case "code":
		fn.Image = fmt.Sprintf("registry.local/%s/%s:latest", namespace, body.Name)
	case "git":
		fn.Image = fmt.Sprintf("registry.local/%s/%s:git", namespace, body.Name)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown deployment_type %q", body.DeploymentType))
		return
	}

	b.mu.Lock()
	tenant := b.tenant(namespace)
	if _, exists := tenant[fn.Name]; exists {
		b.mu.Unlock()
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("function %s already exists", fn.Name))
		return
	}
	tenant[fn.Name] = fn
	created := *fn
	b.mu.Unlock()

	if b.EmptyCreateResponse {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (b *Backend) deleteFunction(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string) {
	name := params.ByName("name")

	b.mu.Lock()
	tenant := b.tenant(namespace)
	_, ok := tenant[name]
	delete(tenant, name)
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("function %s not found", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// functionAction serves the custom methods POST /v1/functions/{name}:undeploy and :invoke.
func (b *Backend) functionAction(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name, action := params.ByName("name"), ""
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name, action = name[:i], name[i+1:]
	}

	var h tenantHandle
	switch action {
	case "undeploy":
		h = b.undeployFunction
	case "invoke":
		h = b.invokeFunction
	default:
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown action %q", action))
		return
	}

	b.authenticated(action, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, namespace string) {
		h(w, r, httprouter.Params{{Key: "name", Value: name}}, namespace)
	})(w, r, params)
}

func (b *Backend) undeployFunction(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string) {
	name := params.ByName("name")

	b.mu.Lock()
	fn, ok := b.tenant(namespace)[name]
	if ok {
		fn.Status = "Undeployed"
		fn.ReadyReplicas = 0
		fn.AvailableReplicas = 0
		fn.UpdatedReplicas = 0
	}
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("function %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("function %s undeployed", name)})
}

func (b *Backend) invokeFunction(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string) {
	name := params.ByName("name")
	if _, ok := b.Lookup(namespace, name); !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("function %s not found", name))
		return
	}

	body := struct {
		Payload json.RawMessage `json:"payload"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Malformed JSON payload: %s.", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invocation_id": uuid.NewV4().String(),
		"function":      name,
		"output":        body.Payload,
	})
}

func (b *Backend) functionLogs(w http.ResponseWriter, r *http.Request, params httprouter.Params, namespace string) {
	name := params.ByName("name")
	fn, ok := b.Lookup(namespace, name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("function %s not found", name))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s [%s] function %s status %s\n", fn.CreatedAt.Format(time.RFC3339), namespace, fn.Name, fn.Status)
}

func (b *Backend) tenant(namespace string) map[string]*Function {
	t, ok := b.tenants[namespace]
	if !ok {
		t = map[string]*Function{}
		b.tenants[namespace] = t
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, &errorBody{Error: kind, Message: message})
}
