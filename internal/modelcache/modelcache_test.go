package modelcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scholardoc/internal/engine"
)

type fakeLoader struct {
	loads atomic.Int32
	delay time.Duration
	fail  bool
}

func (f *fakeLoader) LoadModels(ctx context.Context, device string) (engine.ModelHandle, error) {
	f.loads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return engine.ModelHandle{}, errors.New("load exploded")
	}
	if device == "" {
		device = "cpu"
	}
	return engine.ModelHandle{Device: device}, nil
}

func (f *fakeLoader) ConvertPDF(ctx context.Context, handle engine.ModelHandle, req engine.NeuralRequest) (string, error) {
	return "", errors.New("not used")
}

type fakeAccelerator struct {
	empties atomic.Int32
}

func (f *fakeAccelerator) Device() string         { return "cuda" }
func (f *fakeAccelerator) EmptyCache()            { f.empties.Add(1) }
func (f *fakeAccelerator) AllocatedBytes() uint64 { return 1024 }
func (f *fakeAccelerator) ReservedBytes() uint64  { return 2048 }

func TestGetModelsCachesHandle(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, nil, time.Minute)

	h1, err := c.GetModels(context.Background(), "cpu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", h1.Device)
	assert.True(t, c.IsLoaded())

	_, err = c.GetModels(context.Background(), "cpu")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loads.Load(), "second call must hit the cache")
}

func TestGetModelsConcurrentMissLoadsOnce(t *testing.T) {
	loader := &fakeLoader{delay: 50 * time.Millisecond}
	c := New(loader, nil, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetModels(context.Background(), "cpu")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestTTLExpiry(t *testing.T) {
	loader := &fakeLoader{}
	c := New(loader, nil, 20*time.Millisecond)

	_, err := c.GetModels(context.Background(), "cpu")
	require.NoError(t, err)
	require.True(t, c.IsLoaded())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.IsLoaded(), "handle must expire lazily after TTL")

	_, err = c.GetModels(context.Background(), "cpu")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestEvict(t *testing.T) {
	loader := &fakeLoader{}
	acc := &fakeAccelerator{}
	c := New(loader, acc, time.Minute)

	_, err := c.GetModels(context.Background(), "")
	require.NoError(t, err)

	c.Evict()
	assert.False(t, c.IsLoaded())
	assert.Equal(t, int32(1), acc.empties.Load())
}

func TestCleanupBetweenDocumentsKeepsHandle(t *testing.T) {
	loader := &fakeLoader{}
	acc := &fakeAccelerator{}
	c := New(loader, acc, time.Minute)

	_, err := c.GetModels(context.Background(), "")
	require.NoError(t, err)

	c.CleanupBetweenDocuments()
	assert.True(t, c.IsLoaded(), "cleanup must not evict")
	assert.Equal(t, int32(1), acc.empties.Load())
}

func TestLoadFailure(t *testing.T) {
	loader := &fakeLoader{fail: true}
	c := New(loader, nil, time.Minute)

	_, err := c.GetModels(context.Background(), "cpu")
	require.Error(t, err)
	assert.False(t, c.IsLoaded())
}

func TestStats(t *testing.T) {
	loader := &fakeLoader{}
	acc := &fakeAccelerator{}
	c := New(loader, acc, time.Minute)

	stats := c.Stats()
	assert.Equal(t, "cuda", stats.Device)
	assert.False(t, stats.ModelsLoaded)
	assert.Equal(t, time.Minute, stats.CacheTTL)

	_, err := c.GetModels(context.Background(), "")
	require.NoError(t, err)
	stats = c.Stats()
	assert.True(t, stats.ModelsLoaded)
	assert.Equal(t, uint64(1024), stats.AllocatedBytes)
	assert.Equal(t, uint64(2048), stats.ReservedBytes)
}
