// Package identity verifies identity-provider session tokens and fetches
// provider user profiles.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidToken wraps every verification failure
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrProfileNotFound is returned when the provider has no such user
	ErrProfileNotFound = errors.New("identity: profile not found")
)

// Principal is the verified identity carried by a session token
type Principal struct {
	Subject   string                 `json:"sub"`
	SessionID string                 `json:"sid,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Claims    map[string]interface{} `json:"claims,omitempty"`
	IssuedAt  time.Time              `json:"iat"`
	ExpiresAt time.Time              `json:"exp"`
}

// Expired reports whether the token behind p has expired at now
func (p *Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Profile is the provider's view of a user
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Role      string    `json:"role,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName joins first and last name
func (p *Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// TokenVerifier validates a bearer token and returns its principal
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Principal, error)
}

// ProfileFetcher loads a provider user profile by subject id
type ProfileFetcher interface {
	GetUserProfile(ctx context.Context, subjectID string) (*Profile, error)
}
