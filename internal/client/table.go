// Package client compiles the services.<svc>.<op>.<method> configuration
// table into typed, callable endpoints addressed by service and operation
// name, the same role worker.RegistryClient plays for the registry's own
// HTTP surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single endpoint call.
const DefaultTimeout = 30 * time.Second

// Endpoint is one compiled `<method>: <url-template>` entry. URLTemplate may
// contain "{name}"-style placeholders, substituted by Call's params.
type Endpoint struct {
	Service     string
	Operation   string
	Method      string
	URLTemplate string

	httpClient *http.Client
}

// Call performs the HTTP request this endpoint describes, substituting
// params into the URL template and marshaling body (if non-nil) as the
// request's JSON payload.
func (e *Endpoint) Call(ctx context.Context, params map[string]string, body interface{}) (*http.Response, error) {
	url := e.URLTemplate
	for k, v := range params {
		url = strings.ReplaceAll(url, "{"+k+"}", v)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal body for %s.%s: %w", e.Service, e.Operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, e.Method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request for %s.%s: %w", e.Service, e.Operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: call %s.%s: %w", e.Service, e.Operation, err)
	}
	return resp, nil
}

// Table is the compiled service.operation -> Endpoint map.
type Table struct {
	endpoints map[string]*Endpoint
}

func key(service, operation string) string {
	return strings.ToLower(service + "." + operation)
}

// Compile builds a Table from the nested services.<svc>.<op>.<method>
// configuration map. Services may expose several HTTP methods for the same
// operation (GET and PUT on the same path, say); the last one encountered
// per (service, operation) wins, matching the flat key space callers look
// endpoints up by.
func Compile(services map[string]map[string]map[string]string, timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	t := &Table{endpoints: make(map[string]*Endpoint)}
	for service, ops := range services {
		for op, methods := range ops {
			for method, urlTemplate := range methods {
				t.endpoints[key(service, op)] = &Endpoint{
					Service:     service,
					Operation:   op,
					Method:      strings.ToUpper(method),
					URLTemplate: urlTemplate,
					httpClient:  httpClient,
				}
			}
		}
	}
	return t
}

// ErrUnknownEndpoint is returned by Endpoint when no (service, operation)
// pair was compiled into the table.
type ErrUnknownEndpoint struct {
	Service, Operation string
}

func (e *ErrUnknownEndpoint) Error() string {
	return fmt.Sprintf("client: no endpoint for %s.%s", e.Service, e.Operation)
}

// Endpoint looks up the compiled endpoint for service.operation.
func (t *Table) Endpoint(service, operation string) (*Endpoint, error) {
	ep, ok := t.endpoints[key(service, operation)]
	if !ok {
		return nil, &ErrUnknownEndpoint{Service: service, Operation: operation}
	}
	return ep, nil
}
