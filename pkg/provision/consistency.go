package provision

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// Mismatch is one field that differs between the local row and the
// provider profile
type Mismatch struct {
	Field    string `json:"field"`
	Local    string `json:"local"`
	Provider string `json:"provider"`
}

// ValidateConsistency compares the local user with the provider profile.
// Mismatches are logged and audited but never repaired here.
func (e *Engine) ValidateConsistency(ctx context.Context, userID string) ([]Mismatch, error) {
	var (
		local   *users.User
		profile *identity.Profile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := e.store.GetByID(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load local user: %w", err)
		}
		local = u
		return nil
	})
	g.Go(func() error {
		p, err := e.profiles.GetUserProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load provider profile: %w", err)
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mismatches := compare(local, profile)
	for _, m := range mismatches {
		e.metrics.RecordMismatch(m.Field)
		e.logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"field":    m.Field,
			"local":    m.Local,
			"provider": m.Provider,
		}).Warn("local user differs from provider")
		e.recorder.Record(ctx, audit.NewEvent(audit.ActionConsistencyMismatch, audit.RiskLow).
			ForUser(userID).
			On(audit.ResourceUser, userID).
			With("field", m.Field).
			With("local", m.Local).
			With("provider", m.Provider))
	}
	return mismatches, nil
}

func compare(local *users.User, profile *identity.Profile) []Mismatch {
	var out []Mismatch
	if !strings.EqualFold(local.Email, profile.Email) {
		out = append(out, Mismatch{Field: "email", Local: local.Email, Provider: profile.Email})
	}
	if local.DisplayName != profile.DisplayName() {
		out = append(out, Mismatch{Field: "display_name", Local: local.DisplayName, Provider: profile.DisplayName()})
	}
	if providerRole := MapRole(profile.Role); local.Role != providerRole {
		out = append(out, Mismatch{Field: "role", Local: string(local.Role), Provider: string(providerRole)})
	}
	return out
}
