package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateTTL bounds the lifetime of one handshake. A callback arriving later
// than this finds no state and fails.
const StateTTL = 5 * time.Minute

// ErrStateNotFound is returned when a handshake state is absent, already
// consumed, or expired. The three cases are deliberately indistinguishable.
var ErrStateNotFound = errors.New("handshake state not found or expired")

// Handshake correlates an SSO authorization request with its callback.
// Single-use: consuming it deletes it.
type Handshake struct {
	State       string    `json:"state"`
	TenantID    string    `json:"tenant_id"`
	Provider    string    `json:"provider"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewState generates a cryptographically random state nonce.
func NewState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// StateStore holds in-flight handshakes. Both implementations guarantee
// atomic consume-and-delete so a state can never be used twice.
type StateStore interface {
	Save(ctx context.Context, hs Handshake) error

	// Take returns the handshake for the nonce and deletes it atomically.
	Take(ctx context.Context, state string) (*Handshake, error)
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStateStore is a mutex-guarded in-process state store with a
// background sweep for expired entries. Suitable for single-node
// deployments; multi-node deployments use the Redis store.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]Handshake
	stop    chan struct{}
	once    sync.Once

	now func() time.Time // injectable clock for tests
}

// NewMemoryStateStore creates a state store and starts its sweeper.
// Call Close to stop the sweeper.
func NewMemoryStateStore() *MemoryStateStore {
	s := &MemoryStateStore{
		entries: make(map[string]Handshake),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.sweep()
	return s
}

// Save stores a handshake keyed by its nonce.
func (s *MemoryStateStore) Save(_ context.Context, hs Handshake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hs.State] = hs
	return nil
}

// Take consumes a handshake. Expired entries count as absent.
func (s *MemoryStateStore) Take(_ context.Context, state string) (*Handshake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, ok := s.entries[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.entries, state)

	if s.now().Sub(hs.CreatedAt) > StateTTL {
		return nil, ErrStateNotFound
	}
	return &hs, nil
}

// Close stops the background sweeper.
func (s *MemoryStateStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Len returns the number of pending handshakes. Test helper.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStateStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := s.now().Add(-StateTTL)
			for state, hs := range s.entries {
				if hs.CreatedAt.Before(cutoff) {
					delete(s.entries, state)
				}
			}
			s.mu.Unlock()
		}
	}
}

// ---------------------------------------------------------------------------
// Redis store
// ---------------------------------------------------------------------------

// RedisStateStore keeps handshakes in a shared Redis so any node can serve
// the callback. Expiry rides on key TTL; consume-and-delete uses GETDEL.
type RedisStateStore struct {
	client redis.UniversalClient
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores a handshake with the state TTL.
func (s *RedisStateStore) Save(ctx context.Context, hs Handshake) error {
	data, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}
	return s.client.Set(ctx, stateKey(hs.State), data, StateTTL).Err()
}

// Take consumes a handshake atomically via GETDEL.
func (s *RedisStateStore) Take(ctx context.Context, state string) (*Handshake, error) {
	data, err := s.client.GetDel(ctx, stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming handshake: %w", err)
	}

	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, fmt.Errorf("unmarshaling handshake: %w", err)
	}
	return &hs, nil
}

func stateKey(state string) string {
	return "sso:state:" + state
}
