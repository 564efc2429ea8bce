// Package authcache caches verified principals by token fingerprint so a
// token is verified against the provider at most once per TTL.
package authcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/platinummonkey/carebridge/pkg/identity"
)

// Store is a principal cache keyed by Fingerprint(token)
type Store interface {
	Get(ctx context.Context, key string) (*identity.Principal, bool, error)
	Set(ctx context.Context, key string, p *identity.Principal) error
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int, error)
	Len() int
}

// Entry is a cached principal and the time it was stored
type Entry struct {
	Principal  *identity.Principal `json:"principal"`
	InsertedAt time.Time           `json:"inserted_at"`
}

// Fingerprint returns the first 32 hex characters of sha256(token)
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}
