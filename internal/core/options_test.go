package core

import (
	"testing"
	"time"

	"github.com/coregx/strata/internal/dialects"
)

func TestNewPoolDefaults(t *testing.T) {
	p := newPool(dialects.Get("sqlite"), ":memory:", nil)

	if p.retries != DefaultRetries {
		t.Errorf("retries = %d, want %d", p.retries, DefaultRetries)
	}
	if p.backoff == nil {
		t.Error("no default backoff")
	}
	if p.stmtCache == nil {
		t.Error("no default statement cache")
	}
	if p.logger == nil || p.tracer == nil || p.sanitizer == nil {
		t.Error("observability defaults missing")
	}
}

// DefaultBackoff grows exponentially with up to one base interval of
// jitter shaved off: attempt n lands in ((2^n-1)*100ms, 2^n*100ms].
func TestDefaultBackoffBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		upper := time.Duration(1<<uint(attempt)) * base
		lower := upper - base
		for i := 0; i < 50; i++ {
			d := DefaultBackoff(attempt)
			if d <= lower || d > upper {
				t.Fatalf("attempt %d: delay %v outside (%v, %v]", attempt, d, lower, upper)
			}
		}
	}
}

func TestWithStmtCacheCapacity(t *testing.T) {
	p := newPool(dialects.Get("sqlite"), ":memory:", []Option{WithStmtCacheCapacity(3)})
	if p.stmtCache == nil {
		t.Fatal("cache disabled by positive capacity")
	}
	if got := p.stmtCache.Stats().Capacity; got != 3 {
		t.Errorf("capacity = %d, want 3", got)
	}

	p = newPool(dialects.Get("sqlite"), ":memory:", []Option{WithStmtCacheCapacity(0)})
	if p.stmtCache != nil {
		t.Error("zero capacity did not disable the cache")
	}
	p = newPool(dialects.Get("sqlite"), ":memory:", []Option{WithStmtCacheCapacity(-1)})
	if p.stmtCache != nil {
		t.Error("negative capacity did not disable the cache")
	}
}

// Nil observability arguments keep the noop defaults instead of
// installing a nil implementation that would panic at call time.
func TestNilObservabilityOptionsIgnored(t *testing.T) {
	p := newPool(dialects.Get("sqlite"), ":memory:", []Option{
		WithLogger(nil),
		WithTracer(nil),
		WithBackoff(nil),
	})
	if p.logger == nil {
		t.Error("nil logger installed")
	}
	if p.tracer == nil {
		t.Error("nil tracer installed")
	}
	if p.backoff == nil {
		t.Error("nil backoff installed")
	}
}

func TestConnectionTuningOptions(t *testing.T) {
	pool := openSQLitePool(t) // opens with max open/idle 1

	stats := pool.Stats()
	if stats.DB.MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", stats.DB.MaxOpenConnections)
	}

	p := newPool(dialects.Get("sqlite"), ":memory:", []Option{
		WithConnMaxLifetime(time.Minute),
		WithConnMaxIdleTime(30 * time.Second),
		WithRetries(2),
		WithBackoff(zeroBackoff),
		WithHealthCheck(time.Second),
	})
	if p.connMaxLifetime != time.Minute || p.connMaxIdleTime != 30*time.Second {
		t.Errorf("lifetimes = %v/%v", p.connMaxLifetime, p.connMaxIdleTime)
	}
	if p.retries != 2 {
		t.Errorf("retries = %d, want 2", p.retries)
	}
	if p.backoff(3) != 0 {
		t.Error("backoff not replaced")
	}
	if p.healthInterval != time.Second {
		t.Errorf("health interval = %v", p.healthInterval)
	}
}

func TestWithSensitiveFields(t *testing.T) {
	p := newPool(dialects.Get("sqlite"), ":memory:", []Option{
		WithSensitiveFields("api_token"),
	})

	masked := p.sanitizer.MaskParams("update clients set api_token = ?", []any{"tok-123"})
	if masked[0] != "***REDACTED***" {
		t.Errorf("masked = %v", masked)
	}
	// The replacement set drops the defaults.
	masked = p.sanitizer.MaskParams("update users set password = ?", []any{"hunter2"})
	if masked[0] != "hunter2" {
		t.Error("default field list still active after replacement")
	}
}
