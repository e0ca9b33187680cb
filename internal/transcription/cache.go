package transcription

import (
	"context"

	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/device"
	"github.com/parlo-app/parlo-stt/internal/model"
)

type cacheKey struct {
	size   string
	device device.Kind
}

// modelCache memoizes loaded model handles per (size, device). Each pool
// worker owns exactly one cache and is the only goroutine touching it, so
// no locking is needed. Entries live until the pool closes.
type modelCache struct {
	loader  model.Loader
	entries map[cacheKey]model.Model
}

func newModelCache(loader model.Loader) *modelCache {
	return &modelCache{
		loader:  loader,
		entries: make(map[cacheKey]model.Model),
	}
}

func (c *modelCache) get(ctx context.Context, key cacheKey) (model.Model, error) {
	if handle, ok := c.entries[key]; ok {
		return handle, nil
	}

	handle, err := c.loader.Load(ctx, model.LoadOptions{
		Size:        key.size,
		Device:      key.device,
		ComputeType: computeTypeFor(key.device),
	})
	if err != nil {
		return nil, err
	}

	c.entries[key] = handle
	return handle, nil
}

func (c *modelCache) close(logger *zap.Logger) {
	for key, handle := range c.entries {
		if err := handle.Close(); err != nil {
			logger.Warn("failed to close model handle",
				zap.String("model", key.size),
				zap.String("device", string(key.device)),
				zap.Error(err),
			)
		}
		delete(c.entries, key)
	}
}

// computeTypeFor requests full precision on the CPU, where half-precision
// inference errors out or degrades; accelerators take the fast path.
func computeTypeFor(kind device.Kind) string {
	if kind == device.CPU {
		return "float32"
	}
	return "float16"
}
