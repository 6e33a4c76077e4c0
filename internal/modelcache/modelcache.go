// Package modelcache guards the process-wide handle to the neural model
// set. Loading the models takes minutes on first use; the cache keeps the
// handle alive across Phase 2 sub-batches and across pipeline runs in
// server mode, expiring it after a TTL.
package modelcache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/MeKo-Tech/scholardoc/internal/common"
	"github.com/MeKo-Tech/scholardoc/internal/engine"
)

// DefaultTTL is how long a loaded model handle stays valid without use.
const DefaultTTL = 1800 * time.Second

// EnvTTL overrides DefaultTTL with a value in seconds.
const EnvTTL = "SCHOLARDOC_MODEL_TTL"

// Accelerator abstracts device-specific memory cleanup. The CPU default is
// a no-op; GPU-backed engines can clear their caches between documents.
type Accelerator interface {
	Device() string
	EmptyCache()
	AllocatedBytes() uint64
	ReservedBytes() uint64
}

// CPUAccelerator is the no-op default.
type CPUAccelerator struct{}

func (CPUAccelerator) Device() string         { return "cpu" }
func (CPUAccelerator) EmptyCache()            {}
func (CPUAccelerator) AllocatedBytes() uint64 { return 0 }
func (CPUAccelerator) ReservedBytes() uint64  { return 0 }

// MemoryStats reports the cache and accelerator state.
type MemoryStats struct {
	Device         string        `json:"device"`
	AllocatedBytes uint64        `json:"allocated_bytes"`
	ReservedBytes  uint64        `json:"reserved_bytes"`
	ModelsLoaded   bool          `json:"models_loaded"`
	CacheTTL       time.Duration `json:"cache_ttl"`
}

// Cache holds at most one model handle with lazy TTL expiry.
type Cache struct {
	loader      engine.NeuralEngine
	accelerator Accelerator
	ttl         time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	handle   *engine.ModelHandle
	loadedAt time.Time
	loading  sync.Mutex
}

var (
	instance     *Cache
	instanceOnce sync.Once
)

// Instance returns the process-wide cache, creating it on first call with
// the given loader. The TTL comes from SCHOLARDOC_MODEL_TTL when set.
// Later calls ignore the arguments.
func Instance(loader engine.NeuralEngine, accelerator Accelerator) *Cache {
	instanceOnce.Do(func() {
		instance = New(loader, accelerator, ttlFromEnv())
	})
	return instance
}

// New builds an independent cache, used directly by tests.
func New(loader engine.NeuralEngine, accelerator Accelerator, ttl time.Duration) *Cache {
	if accelerator == nil {
		accelerator = CPUAccelerator{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		loader:      loader,
		accelerator: accelerator,
		ttl:         ttl,
		logger:      slog.Default().With("component", "modelcache"),
	}
}

func ttlFromEnv() time.Duration {
	raw := os.Getenv(EnvTTL)
	if raw == "" {
		return DefaultTTL
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		slog.Warn("invalid model TTL override, using default",
			"env", EnvTTL, "value", raw)
		return DefaultTTL
	}
	return time.Duration(seconds * float64(time.Second))
}

// GetModels returns the cached handle or loads a fresh one. The load runs
// outside the entry lock so concurrent readers of a warm cache never block
// behind a multi-minute load; a separate loading lock keeps concurrent
// misses from loading twice.
func (c *Cache) GetModels(ctx context.Context, device string) (engine.ModelHandle, error) {
	if h, ok := c.cached(); ok {
		return h, nil
	}

	c.loading.Lock()
	defer c.loading.Unlock()

	// Another caller may have populated the cache while we waited.
	if h, ok := c.cached(); ok {
		return h, nil
	}

	c.logger.Info("model cache miss, loading", "device", device)
	timer := common.StartTimer()
	handle, err := c.loader.LoadModels(ctx, device)
	if err != nil {
		return engine.ModelHandle{}, fmt.Errorf("model load failed: %w", err)
	}
	handle.LoadSeconds = timer.Seconds()

	c.mu.Lock()
	c.handle = &handle
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("models cached",
		"device", handle.Device, "load_seconds", handle.LoadSeconds)
	return handle, nil
}

// cached returns the handle if present and within TTL, expiring it lazily.
func (c *Cache) cached() (engine.ModelHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return engine.ModelHandle{}, false
	}
	if time.Since(c.loadedAt) > c.ttl {
		c.handle = nil
		c.logger.Info("cached models expired", "ttl", c.ttl)
		return engine.ModelHandle{}, false
	}
	return *c.handle, true
}

// IsLoaded reports whether an unexpired handle is cached.
func (c *Cache) IsLoaded() bool {
	_, ok := c.cached()
	return ok
}

// Evict drops the handle, clears accelerator memory and forces a GC pass.
func (c *Cache) Evict() {
	c.mu.Lock()
	had := c.handle != nil
	c.handle = nil
	c.mu.Unlock()

	if had {
		c.logger.Info("models evicted")
	}
	c.accelerator.EmptyCache()
	runtime.GC()
}

// CleanupBetweenDocuments clears accelerator memory without touching the
// cached handle. Called between Phase 2 sub-batches.
func (c *Cache) CleanupBetweenDocuments() {
	c.accelerator.EmptyCache()
	runtime.GC()
}

// Stats reports the current cache and accelerator state.
func (c *Cache) Stats() MemoryStats {
	return MemoryStats{
		Device:         c.accelerator.Device(),
		AllocatedBytes: c.accelerator.AllocatedBytes(),
		ReservedBytes:  c.accelerator.ReservedBytes(),
		ModelsLoaded:   c.IsLoaded(),
		CacheTTL:       c.ttl,
	}
}
