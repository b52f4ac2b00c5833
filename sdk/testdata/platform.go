package testdata

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Platform is an in-memory stand-in for the deployment platform. It serves
// the deployment lookup and KV REST routes and a console websocket per
// deployment whose sockets tests can feed, close or drop at will.
type Platform struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	deployments  map[string]*fakeDeployment
	sockets      map[string][]*websocket.Conn
	requests     []RecordedRequest
	requestCount atomic.Int32
	dials        map[string]int
}

// HandlerFunc overrides a route. It returns the status and a JSON body.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (int, interface{})

// RecordedRequest stores information about a received request
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
	Time    time.Time
}

type fakeDeployment struct {
	id         string
	namespaces map[string]*fakeNamespace
}

type fakeNamespace struct {
	keys   []string
	values map[string]map[string]interface{}
}

// NewPlatform starts a fake platform with no deployments.
func NewPlatform() *Platform {
	p := &Platform{
		handlers:    make(map[string]HandlerFunc),
		deployments: make(map[string]*fakeDeployment),
		sockets:     make(map[string][]*websocket.Conn),
		dials:       make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleRequest)
	p.Server = httptest.NewServer(mux)
	return p
}

// AddDeployment registers a deployment with no namespaces.
func (p *Platform) AddDeployment(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.deployments[id]; !ok {
		p.deployments[id] = &fakeDeployment{id: id, namespaces: make(map[string]*fakeNamespace)}
	}
}

// SeedJSON stores value as a JSON-valued item.
func (p *Platform) SeedJSON(deploymentID, namespace, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	p.SeedRaw(deploymentID, namespace, key, map[string]interface{}{"string": string(data)})
}

// SeedBytes stores data as a byte-valued item.
func (p *Platform) SeedBytes(deploymentID, namespace, key string, data []byte) {
	p.SeedRaw(deploymentID, namespace, key, map[string]interface{}{"bytes": string(data)})
}

// SeedRaw stores a value object exactly as given, which lets tests build
// items the real platform would never return.
func (p *Platform) SeedRaw(deploymentID, namespace, key string, value map[string]interface{}) {
	p.AddDeployment(deploymentID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.namespace(deploymentID, namespace, true).set(key, value)
}

// Keys returns the keys of a namespace in order.
func (p *Platform) Keys(deploymentID, namespace string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ns := p.namespace(deploymentID, namespace, false)
	if ns == nil {
		return nil
	}
	return append([]string(nil), ns.keys...)
}

// Value returns the stored value object of key, or nil.
func (p *Platform) Value(deploymentID, namespace, key string) map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ns := p.namespace(deploymentID, namespace, false)
	if ns == nil {
		return nil
	}
	return ns.values[key]
}

// namespace must be called with p.mu held
func (p *Platform) namespace(deploymentID, name string, create bool) *fakeNamespace {
	d, ok := p.deployments[deploymentID]
	if !ok {
		return nil
	}
	ns, ok := d.namespaces[name]
	if !ok && create {
		ns = &fakeNamespace{values: make(map[string]map[string]interface{})}
		d.namespaces[name] = ns
	}
	return ns
}

func (ns *fakeNamespace) set(key string, value map[string]interface{}) {
	if _, exists := ns.values[key]; !exists {
		ns.keys = append(ns.keys, key)
	}
	ns.values[key] = value
}

func (ns *fakeNamespace) remove(key string) bool {
	if _, exists := ns.values[key]; !exists {
		return false
	}
	delete(ns.values, key)
	for i, k := range ns.keys {
		if k == key {
			ns.keys = append(ns.keys[:i], ns.keys[i+1:]...)
			break
		}
	}
	return true
}

// RegisterHandler overrides the route for "METHOD /path". A pattern ending
// in "/" matches every path with that prefix.
func (p *Platform) RegisterHandler(pattern string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[pattern] = handler
}

// ClearHandler removes an override set by RegisterHandler or WithErrorResponse
func (p *Platform) ClearHandler(pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, pattern)
}

// WithErrorResponse makes a route fail with statusCode
func (p *Platform) WithErrorResponse(pattern string, statusCode int, errorMsg string) {
	p.RegisterHandler(pattern, func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
		return statusCode, map[string]string{
			"msg":  errorMsg,
			"code": http.StatusText(statusCode),
		}
	})
}

// handleRequest records the request and routes it
func (p *Platform) handleRequest(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.EscapedPath())
	if len(segments) == 2 && segments[0] == "ws" {
		p.serveSocket(w, r, segments[1])
		return
	}

	body := make([]byte, 0)
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	p.mu.Lock()
	p.requests = append(p.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Headers: r.Header.Clone(),
		Body:    body,
		Time:    time.Now(),
	})
	p.mu.Unlock()
	p.requestCount.Add(1)

	pattern := r.Method + " " + r.URL.EscapedPath()
	p.mu.RLock()
	handler, exact := p.handlers[pattern]
	if !exact {
		for prefix, h := range p.handlers {
			if strings.HasSuffix(prefix, "/") && strings.HasPrefix(pattern, prefix) {
				handler = h
				break
			}
		}
	}
	p.mu.RUnlock()

	if handler == nil {
		handler = p.route(segments, body)
	}

	status, response := handler(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if response != nil {
		json.NewEncoder(w).Encode(response)
	}
}

// route serves the built-in deployment and KV endpoints
func (p *Platform) route(segments []string, body []byte) HandlerFunc {
	notFound := func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
		return http.StatusNotFound, map[string]string{"msg": "Not found", "code": "NOT_FOUND"}
	}
	if len(segments) < 2 || segments[0] != "deployments" {
		return notFound
	}

	id := segments[1]
	p.mu.RLock()
	_, known := p.deployments[id]
	p.mu.RUnlock()
	if !known {
		return notFound
	}

	switch {
	case len(segments) == 2:
		return func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			if r.Method != http.MethodGet {
				return http.StatusMethodNotAllowed, nil
			}
			return http.StatusOK, map[string]interface{}{
				"id":            id,
				"name":          "deployment-" + id,
				"status":        1,
				"workbench_url": p.WorkbenchURL(id),
			}
		}

	case len(segments) == 4 && segments[2] == "kv" && segments[3] == "namespaces":
		return func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			summaries := make([]map[string]interface{}, 0)
			for name, ns := range p.deployments[id].namespaces {
				summaries = append(summaries, map[string]interface{}{"namespace": name, "count": len(ns.keys)})
			}
			return http.StatusOK, summaries
		}

	case len(segments) == 5 && segments[2] == "kv" && segments[3] == "namespaces":
		name := segments[4]
		return func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			if r.Method != http.MethodDelete {
				return http.StatusMethodNotAllowed, nil
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			deleted := 0
			if ns := p.namespace(id, name, false); ns != nil {
				deleted = len(ns.keys)
				delete(p.deployments[id].namespaces, name)
			}
			return http.StatusOK, map[string]int{"keys_deleted": deleted}
		}

	case len(segments) == 6 && segments[5] == "items":
		name := segments[4]
		return func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			items := make([]map[string]interface{}, 0)
			if ns := p.namespace(id, name, false); ns != nil {
				for _, key := range ns.keys {
					items = append(items, map[string]interface{}{"key": key, "value": ns.values[key]})
				}
			}
			return http.StatusOK, items
		}

	case len(segments) == 7 && segments[5] == "items":
		name, key := segments[4], segments[6]
		return func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			p.mu.Lock()
			defer p.mu.Unlock()
			switch r.Method {
			case http.MethodPut:
				var value map[string]interface{}
				if err := json.Unmarshal(body, &value); err != nil {
					return http.StatusBadRequest, map[string]string{"msg": "invalid body"}
				}
				p.namespace(id, name, true).set(key, value)
				return http.StatusOK, nil
			case http.MethodDelete:
				ns := p.namespace(id, name, false)
				if ns == nil || !ns.remove(key) {
					return http.StatusNotFound, map[string]string{"msg": "key not found", "code": "NOT_FOUND"}
				}
				return http.StatusOK, nil
			}
			return http.StatusMethodNotAllowed, nil
		}
	}
	return notFound
}

func splitPath(escaped string) []string {
	parts := strings.Split(strings.Trim(escaped, "/"), "/")
	for i, part := range parts {
		if unescaped, err := url.PathUnescape(part); err == nil {
			parts[i] = unescaped
		}
	}
	return parts
}

// WorkbenchURL returns the console socket URL of a deployment.
func (p *Platform) WorkbenchURL(deploymentID string) string {
	return "ws" + strings.TrimPrefix(p.URL, "http") + "/ws/" + url.PathEscape(deploymentID)
}

func (p *Platform) serveSocket(w http.ResponseWriter, r *http.Request, deploymentID string) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.sockets[deploymentID] = append(p.sockets[deploymentID], conn)
	p.dials[deploymentID]++
	p.mu.Unlock()

	// reading lets gorilla answer the client's close frame
	go func() {
		defer p.forget(deploymentID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (p *Platform) forget(deploymentID string, conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.sockets[deploymentID]
	for i, c := range conns {
		if c == conn {
			p.sockets[deploymentID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	conn.Close()
}

func (p *Platform) live(deploymentID string) []*websocket.Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*websocket.Conn(nil), p.sockets[deploymentID]...)
}

// Send writes a raw text frame to every open socket of a deployment.
func (p *Platform) Send(deploymentID, frame string) {
	for _, conn := range p.live(deploymentID) {
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// SendMessage writes payload wrapped in a one-element array frame.
func (p *Platform) SendMessage(deploymentID string, payload interface{}) {
	data, err := json.Marshal([]interface{}{payload})
	if err != nil {
		panic(err)
	}
	p.Send(deploymentID, string(data))
}

// Drop kills every socket of a deployment without a close frame, the way
// the platform ends its console sessions.
func (p *Platform) Drop(deploymentID string) {
	for _, conn := range p.live(deploymentID) {
		conn.UnderlyingConn().Close()
	}
}

// CloseSockets sends a close frame with code to every socket of a deployment.
func (p *Platform) CloseSockets(deploymentID string, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	for _, conn := range p.live(deploymentID) {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// OpenSockets returns the number of sockets currently open for a deployment.
func (p *Platform) OpenSockets(deploymentID string) int {
	return len(p.live(deploymentID))
}

// Dials returns how many sockets a deployment has accepted in total.
func (p *Platform) Dials(deploymentID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dials[deploymentID]
}

// GetRequestCount returns the total number of REST requests received
func (p *Platform) GetRequestCount() int {
	return int(p.requestCount.Load())
}

// GetRequests returns all recorded REST requests
func (p *Platform) GetRequests() []RecordedRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]RecordedRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// RequestsMatching returns recorded requests with the given method and path
func (p *Platform) RequestsMatching(method, path string) []RecordedRequest {
	var matched []RecordedRequest
	for _, req := range p.GetRequests() {
		if req.Method == method && req.Path == path {
			matched = append(matched, req)
		}
	}
	return matched
}

// Reset clears recorded requests
func (p *Platform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestCount.Store(0)
	p.requests = p.requests[:0]
}

// Close drops all sockets and shuts the server down
func (p *Platform) Close() {
	p.mu.RLock()
	var all []*websocket.Conn
	for _, conns := range p.sockets {
		all = append(all, conns...)
	}
	p.mu.RUnlock()
	for _, conn := range all {
		conn.Close()
	}
	if p.Server != nil {
		p.Server.Close()
	}
}
