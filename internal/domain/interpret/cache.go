// Package interpret lazily describes photos with a vision model and keeps the
// results for the session, backed by a content-addressed description store.
package interpret

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/photo"
	platformerrors "glass-server-go/internal/platform/errors"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
)

// Encoder validates raw photo bytes and packages them for the vision model.
type Encoder interface {
	Encode(raw []byte) (providers.ImageInput, error)
}

// Stats counts cache outcomes.
type Stats struct {
	SessionHits int64 `json:"session_hits"`
	StoreHits   int64 `json:"store_hits"`
	Misses      int64 `json:"misses"`
	Failures    int64 `json:"failures"`
	Cached      int   `json:"cached"`
}

// Cache memoises descriptions by photo ID. Concurrent requests for the same
// photo share one vision call.
type Cache struct {
	vision  providers.VisionProvider
	encoder Encoder
	store   Store
	logger  *logging.Logger
	group   singleflight.Group

	mu         sync.RWMutex
	byID       map[uint64]string
	generation uint64

	sessionHits atomic.Int64
	storeHits   atomic.Int64
	misses      atomic.Int64
	failures    atomic.Int64
}

// NewCache creates a cache. store may be nil.
func NewCache(vision providers.VisionProvider, encoder Encoder, store Store, logger *logging.Logger) *Cache {
	return &Cache{
		vision:  vision,
		encoder: encoder,
		store:   store,
		logger:  logger,
		byID:    make(map[uint64]string),
	}
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Describe returns the description of p, computing it on first use.
func (c *Cache) Describe(ctx context.Context, p photo.Photo) (string, error) {
	if desc, ok := c.Peek(p.ID); ok {
		c.sessionHits.Add(1)
		return desc, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	key := strconv.FormatUint(gen, 10) + ":" + strconv.FormatUint(p.ID, 10)
	// The shared call outlives any single caller; each caller only stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		desc, err := c.compute(shared, p)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.byID[p.ID] = desc
		}
		c.mu.Unlock()
		return desc, nil
	})

	select {
	case <-ctx.Done():
		return "", platformerrors.Wrap(platformerrors.KindVision, "interpret.describe", "caller cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			c.failures.Add(1)
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) compute(ctx context.Context, p photo.Photo) (string, error) {
	digest := Digest(p.Data)

	if c.store != nil {
		rec, err := c.store.Get(ctx, digest)
		switch {
		case err == nil:
			c.storeHits.Add(1)
			c.logger.DebugTag("Cache", "description for photo %d found by digest %s", p.ID, digest[:12])
			return rec.Description, nil
		case !errors.Is(err, ErrNotFound):
			c.logger.WarnTag("Cache", "description store lookup failed: %v", err)
		}
	}
	c.misses.Add(1)

	img, err := c.encoder.Encode(p.Data)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindVision, "interpret.encode", "photo rejected", err)
	}

	ctx, end := observability.StartSpan(ctx, "vision", "describe")
	desc, err := c.vision.Describe(ctx, img)
	end(err)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindVision, "interpret.describe", c.vision.Name(), err)
	}
	c.logger.InfoTag("Vision", "described photo %d (%d bytes, %s)", p.ID, len(p.Data), img.Format)

	if c.store != nil {
		rec := Record{
			Digest:      digest,
			Description: desc,
			Model:       c.vision.Model(),
			Metadata: map[string]any{
				"format": img.Format,
				"bytes":  len(p.Data),
			},
		}
		if err := c.store.Put(ctx, rec); err != nil {
			c.logger.WarnTag("Cache", "description store write failed: %v", err)
		}
	}
	return desc, nil
}

// Peek returns a cached description without computing one.
func (c *Cache) Peek(id uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.byID[id]
	return desc, ok
}

// Reset forgets all session descriptions. Computations still in flight do
// not repopulate the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.byID = make(map[uint64]string)
	c.generation++
	c.mu.Unlock()
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	cached := len(c.byID)
	c.mu.RUnlock()
	return Stats{
		SessionHits: c.sessionHits.Load(),
		StoreHits:   c.storeHits.Load(),
		Misses:      c.misses.Load(),
		Failures:    c.failures.Load(),
		Cached:      cached,
	}
}
