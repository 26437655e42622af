package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Identity describes the authenticated caller as established by the external
// identity provider. The provider verifies credentials and writes the session
// record; this service only resolves tokens to identities.
type Identity struct {
	UserID    int64  `json:"user_id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
}

// SessionManager resolves bearer tokens against Redis-backed session records.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Load resolves the request's bearer token to an Identity. A missing or
// unknown token yields a nil identity, not an error; authorization decisions
// downstream deny on nil.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("shared: load session: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}

	// Sliding expiry: an active session stays alive.
	if sm.ttl > 0 {
		_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()
	}

	return &id, nil
}

// Put stores a session record. Used by seed tooling and tests; in production
// the identity provider writes these records directly.
func (sm *SessionManager) Put(ctx context.Context, token string, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return sm.client.Set(ctx, sm.redisKey(token), data, sm.ttl).Err()
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

func (sm *SessionManager) redisKey(token string) string {
	return "session:" + token
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Token"))
}
