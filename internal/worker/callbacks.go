package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"taskfabric.dev/internal/config"
)

// CallbackRunner periodically POSTs to a single configured callback URI.
// Each thread is a goroutine with its own ticker rather than a separate OS
// process, coordinated by one shared cancellation context.
type CallbackRunner struct {
	name       string
	cfg        config.CallbackConfig
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewCallbackRunner builds a runner for one named callback entry.
func NewCallbackRunner(name string, cfg config.CallbackConfig, baseURL string, log *logrus.Logger) *CallbackRunner {
	return &CallbackRunner{
		name:       name,
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

// Run starts cfg.Threads concurrent tickers, each firing every
// PeriodSeconds and backing off by SleepSeconds after a failed call, until
// ctx is canceled. Run blocks until all threads have stopped.
func (r *CallbackRunner) Run(ctx context.Context) {
	threads := r.cfg.Threads
	if threads < 1 {
		threads = 1
	}

	done := make(chan struct{}, threads)
	for i := 0; i < threads; i++ {
		go func(thread int) {
			defer func() { done <- struct{}{} }()
			r.loop(ctx, thread)
		}(i)
	}
	for i := 0; i < threads; i++ {
		<-done
	}
}

func (r *CallbackRunner) loop(ctx context.Context, thread int) {
	period := time.Duration(r.cfg.PeriodSeconds) * time.Second
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.fire(ctx); err != nil {
				r.log.WithError(err).WithFields(logrus.Fields{"callback": r.name, "thread": thread}).Warn("worker: callback failed")
				sleep := time.Duration(r.cfg.SleepSeconds) * time.Second
				if sleep > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(sleep):
					}
				}
			}
		}
	}
}

func (r *CallbackRunner) fire(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+r.cfg.URI, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback %s: upstream returned status %d", r.name, resp.StatusCode)
	}
	return nil
}

// RunAll starts one CallbackRunner per configured callback and blocks until
// ctx is canceled and every runner has stopped.
func RunAll(ctx context.Context, callbacks map[string]config.CallbackConfig, baseURL string, log *logrus.Logger) {
	done := make(chan struct{}, len(callbacks))
	for name, cfg := range callbacks {
		runner := NewCallbackRunner(name, cfg, baseURL, log)
		go func() {
			defer func() { done <- struct{}{} }()
			runner.Run(ctx)
		}()
	}
	for range callbacks {
		<-done
	}
}
