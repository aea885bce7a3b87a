package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Fixtures maps an RPC method to its results, keyed by the first request
// parameter (signature or address). The empty key matches any parameter.
type Fixtures map[string]map[string]json.RawMessage

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type failure struct {
	status     int
	retryAfter string
}

// MockNode answers Solana JSON-RPC requests from fixtures and can be told to
// fail the next calls of a method with an HTTP status.
type MockNode struct {
	mu       sync.Mutex
	fixtures Fixtures
	failures map[string][]failure
	calls    map[string]int
}

func NewMockNode() *MockNode {
	return &MockNode{
		fixtures: Fixtures{},
		failures: map[string][]failure{},
		calls:    map[string]int{},
	}
}

func NewMockNodeFromFixtures(fixtures Fixtures) *MockNode {
	m := NewMockNode()
	for method, results := range fixtures {
		for key, result := range results {
			m.setRaw(method, key, result)
		}
	}
	return m
}

// SetResult registers result (marshalled to JSON) for method and key.
func (m *MockNode) SetResult(method, key string, result any) {
	b, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("mock node: cannot marshal result for %s: %v", method, err))
	}
	m.setRaw(method, key, b)
}

// SetRawResult registers a literal JSON result.
func (m *MockNode) SetRawResult(method, key, result string) {
	m.setRaw(method, key, json.RawMessage(result))
}

func (m *MockNode) setRaw(method, key string, result json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixtures[method] == nil {
		m.fixtures[method] = map[string]json.RawMessage{}
	}
	m.fixtures[method][key] = result
}

// FailNext makes the next call of method fail with status. A non-empty
// retryAfter is sent as the Retry-After header.
func (m *MockNode) FailNext(method string, status int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], failure{status: status, retryAfter: retryAfter})
}

// Calls returns how many requests for method were received.
func (m *MockNode) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockNode) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", m.serveRPC).Methods(http.MethodPost)
	return r
}

func (m *MockNode) serveRPC(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "Invalid request body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(writer, "Invalid json", http.StatusBadRequest)
		return
	}

	key := ""
	if len(req.Params) > 0 {
		var s string
		if json.Unmarshal(req.Params[0], &s) == nil {
			key = s
		}
	}

	m.mu.Lock()
	m.calls[req.Method]++
	var fail *failure
	if queue := m.failures[req.Method]; len(queue) > 0 {
		fail = &queue[0]
		m.failures[req.Method] = queue[1:]
	}
	result, ok := m.fixtures[req.Method][key]
	if !ok {
		result, ok = m.fixtures[req.Method][""]
	}
	m.mu.Unlock()

	if req.ID == nil {
		req.ID = json.RawMessage("1")
	}
	writer.Header().Set("Content-Type", "application/json")

	if fail != nil {
		if fail.retryAfter != "" {
			writer.Header().Set("Retry-After", fail.retryAfter)
		}
		writer.WriteHeader(fail.status)
		writeJSON(writer, map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": fail.status, "message": http.StatusText(fail.status)},
		})
		return
	}

	if !ok {
		result = json.RawMessage("null")
	}
	writeJSON(writer, map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	})
}

func writeJSON(writer io.Writer, v any) {
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		fmt.Printf("Error writing response: %v\n", err)
	}
}

// MockChain serves fixtures recorded by chain_copy on port until the server
// fails.
func MockChain(port int, fixtureFile string) error {
	file, err := os.ReadFile(fixtureFile)
	if err != nil {
		return err
	}
	var fixtures Fixtures
	err = json.Unmarshal(file, &fixtures)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      NewMockNodeFromFixtures(fixtures).Router(),
	}

	fmt.Println("Mock server starting")
	return server.ListenAndServe()
}
