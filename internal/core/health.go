package core

import (
	"context"
	"sync"
	"time"
)

// healthChecker pings the pool's backend at a fixed interval so dead
// connection sets surface before application queries hit them.
type healthChecker struct {
	pool     *Pool
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	lastErr  error
	lastPing time.Time
}

func newHealthChecker(p *Pool, interval time.Duration) *healthChecker {
	return &healthChecker{
		pool:     p,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// start begins the check loop in a background goroutine.
func (h *healthChecker) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *healthChecker) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.ping()
		case <-h.stop:
			return
		}
	}
}

// ping performs one health check with a 5 second budget.
func (h *healthChecker) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.pool.sdb.PingContext(ctx)

	h.mu.Lock()
	h.lastErr = err
	h.lastPing = time.Now()
	h.mu.Unlock()

	if err != nil {
		h.pool.logger.Warn("health check failed",
			"dialect", h.pool.dialect.Name,
			"error", err,
			"interval", h.interval)
	} else {
		h.pool.logger.Debug("health check passed",
			"dialect", h.pool.dialect.Name,
			"interval", h.interval)
	}
}

// shutdown halts the checker and waits for the loop to exit.
func (h *healthChecker) shutdown() {
	close(h.stop)
	h.wg.Wait()
}

// isHealthy reports whether the most recent check succeeded. True before
// the first check has run.
func (h *healthChecker) isHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr == nil
}

// lastError returns the most recent check error.
func (h *healthChecker) lastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// lastCheck returns when the most recent check ran.
func (h *healthChecker) lastCheck() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastPing
}
