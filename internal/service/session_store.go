package service

import (
	"context"
	"time"
)

// SessionRecord is the server-side half of a token pair. A token whose JTI
// has no record here is dead regardless of its signature.
type SessionRecord struct {
	UserID      uint   `json:"user_id"`
	ContextHash string `json:"context_hash"`
	// Grace marks a session that was just rotated out. It still
	// authenticates until its shortened TTL runs down, so concurrent
	// refreshes in flight at rotation time do not strand the client.
	Grace bool `json:"grace"`
}

type SessionStore interface {
	Put(ctx context.Context, jti string, rec SessionRecord, ttl time.Duration) error
	// Get returns (nil, nil) when the session is absent or expired.
	Get(ctx context.Context, jti string) (*SessionRecord, error)
	MarkGrace(ctx context.Context, jti string, graceTTL time.Duration) error
	Delete(ctx context.Context, jti string) error
	// RevokeAll drops every live session for the user and reports how many
	// were removed.
	RevokeAll(ctx context.Context, userID uint) (int, error)
}
