package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tablebook/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// GridCache stores computed daily grids. Implementations swallow their own failures:
// a miss is always a safe answer.
//
// Generation and Set close the race between a slow reader and an invalidation: the
// reader takes the generation before loading bookings, and Set drops the grid when an
// invalidation happened in between.
type GridCache interface {
	Get(ctx context.Context, tenantID, dateISO, fingerprint string) ([]models.AvailabilitySlot, bool)
	Generation(ctx context.Context, tenantID, dateISO string) string
	Set(ctx context.Context, tenantID, dateISO, fingerprint, generation string, slots []models.AvailabilitySlot)
	InvalidateDate(ctx context.Context, tenantID, dateISO string)
	InvalidateTenant(ctx context.Context, tenantID string)
}

type cachedGrid struct {
	Fingerprint string                    `json:"fingerprint"`
	Slots       []models.AvailabilitySlot `json:"slots"`
}

const (
	gridKeyPrefix = "avail:"
	genKeyPrefix  = "availgen:"
	// generationTTL only has to outlive the slowest grid computation.
	generationTTL = 24 * time.Hour
)

var errGenerationMoved = errors.New("grid generation moved")

func gridKey(tenantID, dateISO string) string {
	return fmt.Sprintf("%s%s:%s", gridKeyPrefix, tenantID, dateISO)
}

func dateGenKey(tenantID, dateISO string) string {
	return fmt.Sprintf("%s%s:%s", genKeyPrefix, tenantID, dateISO)
}

func tenantGenKey(tenantID string) string {
	return genKeyPrefix + tenantID
}

// RedisGridCache keeps grids as JSON under avail:{tenant}:{date} and invalidation
// counters under availgen:{tenant} and availgen:{tenant}:{date}.
type RedisGridCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGridCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGridCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGridCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisGridCache) Get(ctx context.Context, tenantID, dateISO, fingerprint string) ([]models.AvailabilitySlot, bool) {
	data, err := c.client.Get(ctx, gridKey(tenantID, dateISO)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("grid cache read failed", zap.String("tenantID", tenantID), zap.String("date", dateISO), zap.Error(err))
		}
		return nil, false
	}
	var grid cachedGrid
	if err := json.Unmarshal(data, &grid); err != nil {
		c.logger.Warn("grid cache entry unreadable", zap.String("tenantID", tenantID), zap.String("date", dateISO), zap.Error(err))
		return nil, false
	}
	if grid.Fingerprint != fingerprint {
		return nil, false
	}
	return grid.Slots, true
}

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readGeneration(ctx context.Context, r mgetter, tenantID, dateISO string) (string, error) {
	vals, err := r.MGet(ctx, tenantGenKey(tenantID), dateGenKey(tenantID, dateISO)).Result()
	if err != nil {
		return "", err
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = "0"
		if s, ok := v.(string); ok {
			parts[i] = s
		}
	}
	return strings.Join(parts, "/"), nil
}

// Generation returns "" when Redis cannot answer; Set never stores under "".
func (c *RedisGridCache) Generation(ctx context.Context, tenantID, dateISO string) string {
	gen, err := readGeneration(ctx, c.client, tenantID, dateISO)
	if err != nil {
		c.logger.Warn("grid generation read failed", zap.String("tenantID", tenantID), zap.String("date", dateISO), zap.Error(err))
		return ""
	}
	return gen
}

func (c *RedisGridCache) Set(ctx context.Context, tenantID, dateISO, fingerprint, generation string, slots []models.AvailabilitySlot) {
	if generation == "" {
		return
	}
	data, err := json.Marshal(cachedGrid{Fingerprint: fingerprint, Slots: slots})
	if err != nil {
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, tenantID, dateISO)
		if err != nil {
			return err
		}
		if current != generation {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gridKey(tenantID, dateISO), data, c.ttl)
			return nil
		})
		return err
	}, tenantGenKey(tenantID), dateGenKey(tenantID, dateISO))

	switch {
	case err == nil:
	case errors.Is(err, errGenerationMoved), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("grid invalidated while computing, not cached", zap.String("tenantID", tenantID), zap.String("date", dateISO))
	default:
		c.logger.Warn("grid cache write failed", zap.String("tenantID", tenantID), zap.String("date", dateISO), zap.Error(err))
	}
}

func (c *RedisGridCache) InvalidateDate(ctx context.Context, tenantID, dateISO string) {
	genKey := dateGenKey(tenantID, dateISO)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, gridKey(tenantID, dateISO))
		return nil
	})
	if err != nil {
		c.logger.Warn("grid cache invalidation failed", zap.String("tenantID", tenantID), zap.String("date", dateISO), zap.Error(err))
	}
}

func (c *RedisGridCache) InvalidateTenant(ctx context.Context, tenantID string) {
	genKey := tenantGenKey(tenantID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	})
	if err != nil {
		c.logger.Warn("grid generation bump failed", zap.String("tenantID", tenantID), zap.Error(err))
	}

	iter := c.client.Scan(ctx, 0, gridKeyPrefix+tenantID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("grid cache scan failed", zap.String("tenantID", tenantID), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("grid cache invalidation failed", zap.String("tenantID", tenantID), zap.Error(err))
	}
}

type memoryGrid struct {
	cachedGrid
	expiresAt time.Time
}

// MemoryGridCache is a process-local GridCache. Entries expire after ttl; ttl <= 0 keeps them
// until invalidated.
type MemoryGridCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        func() time.Time
	grids      map[string]memoryGrid
	dateGens   map[string]uint64
	tenantGens map[string]uint64
}

func NewMemoryGridCache(ttl time.Duration) *MemoryGridCache {
	return &MemoryGridCache{
		ttl:        ttl,
		now:        time.Now,
		grids:      make(map[string]memoryGrid),
		dateGens:   make(map[string]uint64),
		tenantGens: make(map[string]uint64),
	}
}

func (c *MemoryGridCache) Get(_ context.Context, tenantID, dateISO, fingerprint string) ([]models.AvailabilitySlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := gridKey(tenantID, dateISO)
	grid, ok := c.grids[key]
	if ok && c.ttl > 0 && !c.now().Before(grid.expiresAt) {
		delete(c.grids, key)
		return nil, false
	}
	if !ok || grid.Fingerprint != fingerprint {
		return nil, false
	}
	return append([]models.AvailabilitySlot(nil), grid.Slots...), true
}

func (c *MemoryGridCache) Generation(_ context.Context, tenantID, dateISO string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(tenantID, dateISO)
}

func (c *MemoryGridCache) generation(tenantID, dateISO string) string {
	return fmt.Sprintf("%d/%d", c.tenantGens[tenantID], c.dateGens[gridKey(tenantID, dateISO)])
}

func (c *MemoryGridCache) Set(_ context.Context, tenantID, dateISO, fingerprint, generation string, slots []models.AvailabilitySlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation(tenantID, dateISO) {
		return
	}
	c.grids[gridKey(tenantID, dateISO)] = memoryGrid{
		cachedGrid: cachedGrid{
			Fingerprint: fingerprint,
			Slots:       append([]models.AvailabilitySlot(nil), slots...),
		},
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *MemoryGridCache) InvalidateDate(_ context.Context, tenantID, dateISO string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := gridKey(tenantID, dateISO)
	c.dateGens[key]++
	delete(c.grids, key)
}

func (c *MemoryGridCache) InvalidateTenant(_ context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantGens[tenantID]++
	prefix := gridKeyPrefix + tenantID + ":"
	for k := range c.grids {
		if strings.HasPrefix(k, prefix) {
			delete(c.grids, k)
		}
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, string, string) ([]models.AvailabilitySlot, bool) {
	return nil, false
}
func (noopCache) Generation(context.Context, string, string) string                              { return "" }
func (noopCache) Set(context.Context, string, string, string, string, []models.AvailabilitySlot) {}
func (noopCache) InvalidateDate(context.Context, string, string)                                 {}
func (noopCache) InvalidateTenant(context.Context, string)                                       {}
