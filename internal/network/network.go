// Package network detects connectivity to the backend and reports when it comes back
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tildaslashalef/obrasync/internal/loggy"
)

// Checker reports whether the backend is reachable
type Checker interface {
	IsOnline(ctx context.Context) bool
}

// HTTPChecker probes a URL; any response below 500 counts as online
type HTTPChecker struct {
	url    string
	client *http.Client
}

// NewHTTPChecker creates a checker probing url with the given timeout
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// IsOnline implements Checker
func (c *HTTPChecker) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor polls a Checker and runs callbacks when connectivity is restored
type Monitor struct {
	checker  Checker
	interval time.Duration
	settle   time.Duration
	logger   *loggy.Logger

	mu        sync.Mutex
	callbacks []func(context.Context)
}

// NewMonitor creates a monitor polling every interval. Callbacks run once the connection
// has stayed up for the settle delay.
func NewMonitor(checker Checker, interval, settle time.Duration, logger *loggy.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		checker:  checker,
		interval: interval,
		settle:   settle,
		logger:   logger,
	}
}

// OnRestored registers fn to run after each offline to online transition
func (m *Monitor) OnRestored(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Run polls until ctx is done. The first poll counts as a restoration when online, so a
// device starting with connectivity drains its queue right away.
func (m *Monitor) Run(ctx context.Context) error {
	online := false
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		now := m.checker.IsOnline(ctx)
		switch {
		case now && !online:
			m.logger.Info("Connection restored", "settle", m.settle)
			// a connection that drops during the settle delay stays offline
			now = m.settled(ctx)
			if now {
				m.fire(ctx)
			} else {
				m.logger.Debug("Connection dropped before settling")
			}
		case !now && online:
			m.logger.Info("Connection lost")
		}
		online = now

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) settled(ctx context.Context) bool {
	if m.settle > 0 {
		timer := time.NewTimer(m.settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return m.checker.IsOnline(ctx)
}

func (m *Monitor) fire(ctx context.Context) {
	m.mu.Lock()
	callbacks := append([]func(context.Context){}, m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx)
	}
}

// Static is a Checker with a fixed answer
type Static bool

// IsOnline implements Checker
func (s Static) IsOnline(context.Context) bool { return bool(s) }
