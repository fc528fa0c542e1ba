package conversation

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

// CASResult is the outcome of a conditional write.
type CASResult string

const (
	CASOK                 CASResult = "ok"
	CASVersionMismatch    CASResult = "version_mismatch"
	CASPreconditionFailed CASResult = "precondition_failed"
)

// AbsentVersion is the expected version meaning "nothing is stored yet".
const AbsentVersion = 0

const (
	MinStateTTL = 5 * time.Minute
	MaxStateTTL = time.Hour
)

var (
	ErrInvalidNextVersion        = errors.New("conversation: next version must be expected version + 1")
	ErrUnsupportedMachineVersion = errors.New("conversation: unsupported machine version")
	ErrInvariantViolation        = errors.New("conversation: state violates invariants")
)

// Key identifies one conversation.
type Key struct {
	TenantID string
	Phone    string
}

// StateStore persists conversation state with compare-and-swap writes.
type StateStore interface {
	Get(ctx context.Context, tenantID, phone string) (*models.ConversationState, error)
	SetCAS(ctx context.Context, tenantID, phone string, next models.ConversationState, expectedVersion int) (CASResult, error)
	// Scan calls fn for every stored conversation until fn returns an error.
	Scan(ctx context.Context, fn func(Key) error) error
}

const stateKeyPrefix = "conv:"

func stateKey(tenantID, phone string) string {
	return stateKeyPrefix + tenantID + ":" + phone
}

// parseStateKey splits conv:{tenant}:{phone}. Phones may themselves contain ':'.
func parseStateKey(key string) (Key, bool) {
	rest, ok := strings.CutPrefix(key, stateKeyPrefix)
	if !ok {
		return Key{}, false
	}
	tenantID, phone, ok := strings.Cut(rest, ":")
	if !ok || tenantID == "" || phone == "" {
		return Key{}, false
	}
	return Key{TenantID: tenantID, Phone: phone}, true
}

// ClampTTL bounds the sliding expiry.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < MinStateTTL {
		return MinStateTTL
	}
	if ttl > MaxStateTTL {
		return MaxStateTTL
	}
	return ttl
}

func checkWrite(next models.ConversationState, expectedVersion int, strict bool) error {
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("%w: expected %d, next %d", ErrInvalidNextVersion, expectedVersion, next.Version)
	}
	if next.MachineVersion != models.MachineVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedMachineVersion, next.MachineVersion)
	}
	if strict {
		if v := AssertInvariants(next); len(v) > 0 {
			return fmt.Errorf("%w: %s", ErrInvariantViolation, strings.Join(v, "; "))
		}
	}
	return nil
}

// RedisStateStore keeps each conversation as JSON under conv:{tenant}:{phone}.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	// Strict rejects writes of states that fail AssertInvariants.
	Strict bool
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStateStore{client: client, ttl: ClampTTL(ttl), logger: logger}
}

func (s *RedisStateStore) Get(ctx context.Context, tenantID, phone string) (*models.ConversationState, error) {
	data, err := s.client.Get(ctx, stateKey(tenantID, phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation state: %w", err)
	}
	return decodeState(data)
}

func decodeState(data []byte) (*models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	return &state, nil
}

func (s *RedisStateStore) SetCAS(ctx context.Context, tenantID, phone string, next models.ConversationState, expectedVersion int) (CASResult, error) {
	if err := checkWrite(next, expectedVersion, s.Strict); err != nil {
		return "", err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return "", fmt.Errorf("encode conversation state: %w", err)
	}

	key := stateKey(tenantID, phone)
	result := CASOK
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != AbsentVersion {
				result = CASVersionMismatch
				return nil
			}
		case err != nil:
			return err
		default:
			stored, err := decodeState(data)
			if err != nil {
				return err
			}
			if expectedVersion == AbsentVersion || stored.Version != expectedVersion {
				result = CASVersionMismatch
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Debug("conversation CAS aborted", zap.String("tenantID", tenantID), zap.String("phone", phone))
		return CASPreconditionFailed, nil
	}
	if err != nil {
		return "", fmt.Errorf("set conversation state: %w", err)
	}
	return result, nil
}

func (s *RedisStateStore) Scan(ctx context.Context, fn func(Key) error) error {
	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key, ok := parseStateKey(iter.Val())
		if !ok {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return iter.Err()
}

type memoryEntry struct {
	state     models.ConversationState
	expiresAt time.Time
}

// MemoryStateStore is the single-process StateStore.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[Key]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	Strict  bool
}

func NewMemoryStateStore(ttl time.Duration, now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{entries: map[Key]memoryEntry{}, ttl: ClampTTL(ttl), now: now}
}

func (s *MemoryStateStore) lookup(k Key) (memoryEntry, bool) {
	e, ok := s.entries[k]
	if ok && !s.now().Before(e.expiresAt) {
		delete(s.entries, k)
		return memoryEntry{}, false
	}
	return e, ok
}

func (s *MemoryStateStore) Get(_ context.Context, tenantID, phone string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(Key{tenantID, phone})
	if !ok {
		return nil, nil
	}
	state := e.state
	return &state, nil
}

func (s *MemoryStateStore) SetCAS(_ context.Context, tenantID, phone string, next models.ConversationState, expectedVersion int) (CASResult, error) {
	if err := checkWrite(next, expectedVersion, s.Strict); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := Key{tenantID, phone}
	e, ok := s.lookup(k)
	if ok != (expectedVersion != AbsentVersion) || (ok && e.state.Version != expectedVersion) {
		return CASVersionMismatch, nil
	}
	s.entries[k] = memoryEntry{state: next, expiresAt: s.now().Add(s.ttl)}
	return CASOK, nil
}

func (s *MemoryStateStore) Scan(_ context.Context, fn func(Key) error) error {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		if _, ok := s.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}
