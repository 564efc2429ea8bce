// Package rbac enforces the marketplace role and permission model.
//
// Roles form an inheritance hierarchy:
//
//	patient <- professional <- admin <- super_admin
//
// A role's effective permissions are its own plus everything it inherits;
// super_admin additionally holds PermissionAll, which satisfies any check.
//
// A Model holds the hierarchy together with the endpoint rules used by
// RequireEndpointPermission. Rules are keyed "METHOD:/path"; segments may be
// ":param" placeholders and a pattern may end in "*". When no rule matches,
// the fallback permission list applies, and failing that the configured
// default decision (deny unless the policy says otherwise).
//
// Guard turns the model into HTTP middleware that routers compose per route:
//
//	guard := rbac.NewGuard(model, recorder)
//	r.Handle("/api/users/{id}/profile", httputil.Chain(
//		authMW.RequireAuth,
//		guard.RequireOwnershipOrPermission(rbac.OwnershipRule{
//			OwnerID:            func(r *http.Request) string { return mux.Vars(r)["id"] },
//			OverridePermission: rbac.PermissionUsersReadAny,
//			Relationship:       userStore.HasCareRelationship,
//		}),
//	)(profileHandler))
//
// Every denial is audited and answered with 403 listing the permissions or
// roles that would have sufficed.
package rbac
