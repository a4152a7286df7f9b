package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RegistryClient is the worker's side of service registration: re-POSTing
// the same registration on an interval doubles as both keep-alive and
// liveness heartbeat.
type RegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRegistryClient builds a client against a running registry's base URL.
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type registerPayload struct {
	URL  string                 `json:"url"`
	Info map[string]interface{} `json:"info"`
}

// Register performs a single registration call against POST /register/:name.
func (c *RegistryClient) Register(ctx context.Context, name, url string, info map[string]interface{}) error {
	payload, err := json.Marshal(registerPayload{URL: url, Info: info})
	if err != nil {
		return fmt.Errorf("worker: marshal registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register/"+name, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker: register %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: register %s returned status %d", name, resp.StatusCode)
	}
	return nil
}

// Deregister performs a single deregistration call against DELETE
// /register/:name.
func (c *RegistryClient) Deregister(ctx context.Context, name, url string) error {
	payload, err := json.Marshal(registerPayload{URL: url})
	if err != nil {
		return fmt.Errorf("worker: marshal deregistration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/register/"+name, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker: deregister %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: deregister %s returned status %d", name, resp.StatusCode)
	}
	return nil
}

// StartHeartbeat re-registers name/url on every tick until ctx is canceled,
// keeping the registry entry alive by repeated re-POSTing rather than a
// separate heartbeat channel. The returned channel closes once the
// heartbeat goroutine has exited, so callers can wait for a clean shutdown
// before deregistering.
func (c *RegistryClient) StartHeartbeat(ctx context.Context, name, url string, info map[string]interface{}, interval time.Duration, log *logrus.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := c.Register(ctx, name, url, info); err != nil {
			log.WithError(err).WithField("name", name).Warn("worker: initial registration failed")
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Register(ctx, name, url, info); err != nil {
					log.WithError(err).WithField("name", name).Warn("worker: heartbeat registration failed")
				}
			}
		}
	}()
	return done
}
