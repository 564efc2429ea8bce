// Package provision keeps the local user model in step with the identity
// provider.
//
// Users are created lazily on their first authenticated request through
// EnsureLocalUser, and kept current by provider webhooks through
// UpsertFromProvider and DeleteFromProvider:
//
//	engine := provision.NewEngine(userStore, profileClient, recorder,
//		provision.WithValidation(true),
//		provision.WithObservability(logger, metrics),
//	)
//	user, err := engine.EnsureLocalUser(ctx, principal.Subject)
//
// Every write runs in a single transaction. A Professional row exists only
// for professionals and a Patient row only for patients.
package provision
